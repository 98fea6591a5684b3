package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	oldNICPattern = regexp.MustCompile(`^[0-9]{9}[VvXx]$`)
	newNICPattern = regexp.MustCompile(`^[0-9]{12}$`)
)

var (
	ErrNICFormat = errors.New("NIC must be 9 digits followed by V or X, or 12 digits")
	ErrNICDay    = errors.New("NIC encodes an invalid day of year")
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// femaleDayOffset is added to the day of year on NICs issued to women.
const femaleDayOffset = 500

// NIC is a parsed Sri Lankan national identity card number.
type NIC struct {
	Number    string
	Legacy    bool // 9 digits + letter
	BirthYear int
	DayOfYear int // 1-366, offset removed
	Gender    Gender
	BirthDate time.Time
	Voter     bool // Legacy cards only; V = voter, X = non-voter
}

// ParseNIC validates s against both NIC formats and decodes the birth year, day and gender.
func ParseNIC(s string) (NIC, error) {
	s = strings.TrimSpace(s)

	var (
		n       NIC
		yearStr string
		dayStr  string
	)
	switch {
	case oldNICPattern.MatchString(s):
		n.Legacy = true
		n.Voter = strings.ToUpper(s[9:]) == "V"
		yearStr = "19" + s[0:2]
		dayStr = s[2:5]
		s = s[:9] + strings.ToUpper(s[9:])
	case newNICPattern.MatchString(s):
		yearStr = s[0:4]
		dayStr = s[4:7]
	default:
		return NIC{}, ErrNICFormat
	}
	n.Number = s

	// Both substrings are digit-only by the patterns above.
	n.BirthYear, _ = strconv.Atoi(yearStr)
	day, _ := strconv.Atoi(dayStr)

	n.Gender = GenderMale
	if day >= femaleDayOffset {
		n.Gender = GenderFemale
		day -= femaleDayOffset
	}
	if day < 1 || day > 366 {
		return NIC{}, ErrNICDay
	}
	n.DayOfYear = day

	birth, err := birthDate(n.BirthYear, day)
	if err != nil {
		return NIC{}, err
	}
	n.BirthDate = birth
	return n, nil
}

// birthDate resolves an NIC day of year. NIC numbering treats every year as
// having 366 days, so day 60 is always February 29.
func birthDate(year, day int) (time.Time, error) {
	// 2000 is a leap year: day N of 2000 gives the NIC month and day.
	ref := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1)
	if ref.Month() == time.February && ref.Day() == 29 && !isLeap(year) {
		return time.Time{}, fmt.Errorf("%w: February 29 in %d", ErrNICDay, year)
	}
	return time.Date(year, ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC), nil
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// GenderOf returns the gender encoded in an NIC.
func GenderOf(s string) (Gender, error) {
	n, err := ParseNIC(s)
	if err != nil {
		return "", err
	}
	return n.Gender, nil
}

// CheckNIC returns a field message for s, or "" when s is a valid NIC.
func CheckNIC(s string) string {
	if strings.TrimSpace(s) == "" {
		return "NIC is required"
	}
	if _, err := ParseNIC(s); err != nil {
		return err.Error()
	}
	return ""
}
