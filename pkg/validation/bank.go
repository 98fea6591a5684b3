package validation

import (
	"errors"
	"regexp"
	"strings"
)

type accountRule struct {
	bank    string
	pattern *regexp.Regexp
	message string
}

var bankRules = []accountRule{
	{"Bank of Ceylon", regexp.MustCompile(`^[0-9]{8,9}$`), "Bank of Ceylon account numbers must be 8 or 9 digits"},
	{"People's Bank", regexp.MustCompile(`^[0-9]{15}$`), "People's Bank account numbers must be 15 digits"},
	{"Commercial Bank", regexp.MustCompile(`^[0-9]{10}$`), "Commercial Bank account numbers must be 10 digits"},
	{"Hatton National Bank", regexp.MustCompile(`^[0-9]{12}$`), "Hatton National Bank account numbers must be 12 digits"},
	{"Sampath Bank", regexp.MustCompile(`^[0-9]{12}$`), "Sampath Bank account numbers must be 12 digits"},
	{"Seylan Bank", regexp.MustCompile(`^[0-9]{13}$`), "Seylan Bank account numbers must be 13 digits"},
	{"National Savings Bank", regexp.MustCompile(`^[0-9]{12}$`), "National Savings Bank account numbers must be 12 digits"},
	{"Nations Trust Bank", regexp.MustCompile(`^[0-9]{12}$`), "Nations Trust Bank account numbers must be 12 digits"},
	{"DFCC Bank", regexp.MustCompile(`^[0-9]{12}$`), "DFCC Bank account numbers must be 12 digits"},
}

var defaultAccountRule = accountRule{
	pattern: regexp.MustCompile(`^[0-9]{6,20}$`),
	message: "account numbers must be 6 to 20 digits",
}

func ruleFor(bank string) accountRule {
	key := strings.ToLower(strings.TrimSpace(bank))
	for _, r := range bankRules {
		if strings.ToLower(r.bank) == key {
			return r
		}
	}
	return defaultAccountRule
}

// Banks lists the banks with a dedicated account number rule.
func Banks() []string {
	out := make([]string, len(bankRules))
	for i, r := range bankRules {
		out[i] = r.bank
	}
	return out
}

// ValidateAccountNumber checks account against the digit rule of bank.
// Unknown banks use a permissive default rule.
func ValidateAccountNumber(bank, account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return errors.New("account number is required")
	}
	r := ruleFor(bank)
	if !r.pattern.MatchString(account) {
		return errors.New(r.message)
	}
	return nil
}

// ConfirmAccountNumber compares the confirmation field with the primary field.
// It returns a message on mismatch; the caller decides whether to block.
func ConfirmAccountNumber(account, confirm string) string {
	if strings.TrimSpace(confirm) == "" {
		return "please re-enter the account number"
	}
	if strings.TrimSpace(account) != strings.TrimSpace(confirm) {
		return "account numbers do not match"
	}
	return ""
}
