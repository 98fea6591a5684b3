// Package validation holds the synchronous field rules of a loan application.
// Rules never return Go errors for bad user input; they report messages keyed
// by field name.
package validation

import (
	"sort"
	"strings"
)

// FieldErrors maps a form field name to a human-readable message.
type FieldErrors map[string]string

// Add records msg for field unless the field already has a message.
func (fe FieldErrors) Add(field, msg string) {
	if msg == "" {
		return
	}
	if _, ok := fe[field]; !ok {
		fe[field] = msg
	}
}

// Merge copies every entry of other that is not already present.
func (fe FieldErrors) Merge(other FieldErrors) {
	for f, m := range other {
		fe.Add(f, m)
	}
}

func (fe FieldErrors) Has(field string) bool {
	_, ok := fe[field]
	return ok
}

func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

func (fe FieldErrors) Clone() FieldErrors {
	out := make(FieldErrors, len(fe))
	for f, m := range fe {
		out[f] = m
	}
	return out
}

// Fields returns the field names in sorted order.
func (fe FieldErrors) Fields() []string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (fe FieldErrors) String() string {
	parts := make([]string, 0, len(fe))
	for _, f := range fe.Fields() {
		parts = append(parts, f+": "+fe[f])
	}
	return strings.Join(parts, "; ")
}
