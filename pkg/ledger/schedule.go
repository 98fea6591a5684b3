package ledger

import (
	"time"

	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/shopspring/decimal"
)

// Installment is one weekly collection due on a loan.
type Installment struct {
	Week             int             `json:"week"`
	DueDate          time.Time       `json:"due_date"`
	Amount           decimal.Decimal `json:"amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Paid             bool            `json:"paid"`
}

// CollectionSchedule lists the weekly collections of loan. The first collection is
// due one week after start; the last one absorbs the rounding of the rental.
func CollectionSchedule(loan *models.Loan, start time.Time) []Installment {
	if loan.TenureWeeks <= 0 || !loan.TotalPayable.IsPositive() {
		return nil
	}

	schedule := make([]Installment, 0, loan.TenureWeeks)
	remaining := loan.TotalPayable
	for week := 1; week <= loan.TenureWeeks; week++ {
		amount := loan.Rental
		if week == loan.TenureWeeks || amount.GreaterThan(remaining) {
			amount = remaining
		}
		remaining = remaining.Sub(amount)
		schedule = append(schedule, Installment{
			Week:             week,
			DueDate:          start.AddDate(0, 0, 7*week),
			Amount:           amount,
			RemainingBalance: remaining,
			Paid:             week <= loan.PaidWeeks,
		})
	}
	return schedule
}
