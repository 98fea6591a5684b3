// Package reloan decides whether a customer with an active loan may take a new
// loan of the same product, and how much of the new loan settles the old one.
package reloan

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/models"
)

// ThresholdPercent is the repayment progress required before a reloan.
const ThresholdPercent = 70

var (
	ErrInvalidTotalWeeks = errors.New("total weeks must be positive")
	ErrInvalidPaidWeeks  = errors.New("paid weeks must be between 0 and total weeks")
	ErrNegativeBalance   = errors.New("outstanding balance cannot be negative")
)

// Evaluate computes the eligibility record for an active loan.
func Evaluate(paidWeeks, totalWeeks int, balance decimal.Decimal) (models.ReloanEligibility, error) {
	if totalWeeks <= 0 {
		return models.ReloanEligibility{}, ErrInvalidTotalWeeks
	}
	if paidWeeks < 0 || paidWeeks > totalWeeks {
		return models.ReloanEligibility{}, ErrInvalidPaidWeeks
	}
	if balance.IsNegative() {
		return models.ReloanEligibility{}, ErrNegativeBalance
	}

	e := models.ReloanEligibility{
		PaidWeeks:       paidWeeks,
		TotalWeeks:      totalWeeks,
		Balance:         balance,
		Progress:        decimal.NewFromInt(int64(paidWeeks)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(totalWeeks))),
		DeductionAmount: decimal.Zero,
	}
	// Integer comparison avoids rounding at the threshold.
	e.IsEligible = paidWeeks*100 >= totalWeeks*ThresholdPercent
	if e.IsEligible {
		e.DeductionAmount = balance
	} else {
		e.ShortfallWeeks = RequiredWeeks(totalWeeks) - paidWeeks
	}
	return e, nil
}

// ForLoan evaluates an active loan and tags the result with the loan and product.
func ForLoan(loan *models.Loan) (models.ReloanEligibility, error) {
	e, err := Evaluate(loan.PaidWeeks, loan.TenureWeeks, loan.Balance)
	if err != nil {
		return e, fmt.Errorf("loan %s: %w", loan.ID, err)
	}
	e.LoanID = loan.ID
	e.ProductID = loan.ProductID
	return e, nil
}

// RequiredWeeks is ceil(totalWeeks × 0.7).
func RequiredWeeks(totalWeeks int) int {
	return (totalWeeks*ThresholdPercent + 99) / 100
}

// DisplayProgress rounds the progress percentage to one decimal for display.
func DisplayProgress(e models.ReloanEligibility) string {
	return e.Progress.StringFixed(1)
}

// ShortfallMessage explains why a customer cannot take a reloan yet. It is empty when eligible.
func ShortfallMessage(e models.ReloanEligibility) string {
	if e.IsEligible {
		return ""
	}
	return fmt.Sprintf("%d more weekly payments required before a reloan (%d of %d paid, %d needed)",
		e.ShortfallWeeks, e.PaidWeeks, e.TotalWeeks, RequiredWeeks(e.TotalWeeks))
}
