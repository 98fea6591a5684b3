// Package calculator computes the rental, fees and disbursable cash of a loan application.
package calculator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ShortTermTenure is the tenure (in weeks) that qualifies for the lower processing fee.
const ShortTermTenure = 48

var (
	hundred           = decimal.NewFromInt(100)
	shortTermFeeRate  = decimal.NewFromInt(4)
	standardFeeRate   = decimal.NewFromInt(6)
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrInvalidRate    = errors.New("interest rate must be between 0 and 100")
	ErrInvalidTenure  = errors.New("tenure must be a positive number of periods")
	ErrNegativeAmount = errors.New("fees and deductions cannot be negative")
)

// Input holds everything the calculator needs for one application.
type Input struct {
	Amount           decimal.Decimal // Approved amount
	Rate             decimal.Decimal // Flat percentage over the tenure
	Tenure           int
	DocumentationFee decimal.Decimal
	ReloanDeduction  decimal.Decimal // Zero when the application is not a reloan
}

// Quote is the full set of derived money fields of an application.
type Quote struct {
	TotalPayable     decimal.Decimal `json:"total_payable"`
	Rental           decimal.Decimal `json:"rental"`
	ProcessingFee    decimal.Decimal `json:"processing_fee"`
	DocumentationFee decimal.Decimal `json:"documentation_fee"`
	ReloanDeduction  decimal.Decimal `json:"reloan_deduction"`
	NetDisbursable   decimal.Decimal `json:"net_disbursable"`
}

// Negative reports whether the deductions exceed the approved amount.
func (q Quote) Negative() bool {
	return q.NetDisbursable.IsNegative()
}

// TotalPayable returns amount plus flat interest at rate percent.
func TotalPayable(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Add(amount.Mul(rate).Div(hundred))
}

// Rental returns the installment per period, rounded to cents.
func Rental(amount, rate decimal.Decimal, tenure int) (decimal.Decimal, error) {
	if tenure <= 0 {
		return decimal.Zero, ErrInvalidTenure
	}
	return TotalPayable(amount, rate).Div(decimal.NewFromInt(int64(tenure))).Round(2), nil
}

// ProcessingFee is 4% of amount for the short-term tenure and 6% for any other tenure.
func ProcessingFee(amount decimal.Decimal, tenure int) decimal.Decimal {
	rate := standardFeeRate
	if tenure == ShortTermTenure {
		rate = shortTermFeeRate
	}
	return amount.Mul(rate).Div(hundred).Round(2)
}

// NetDisbursable is the cash handed to the customer. The result may be negative;
// callers must surface that instead of submitting it.
func NetDisbursable(amount, processingFee, documentationFee, reloanDeduction decimal.Decimal) decimal.Decimal {
	return amount.Sub(processingFee.Add(documentationFee)).Sub(reloanDeduction)
}

// Calculate derives every money field of in.
func Calculate(in Input) (Quote, error) {
	if !in.Amount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}
	if in.Rate.IsNegative() || in.Rate.GreaterThan(hundred) {
		return Quote{}, ErrInvalidRate
	}
	if in.DocumentationFee.IsNegative() || in.ReloanDeduction.IsNegative() {
		return Quote{}, ErrNegativeAmount
	}
	rental, err := Rental(in.Amount, in.Rate, in.Tenure)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		TotalPayable:     TotalPayable(in.Amount, in.Rate),
		Rental:           rental,
		ProcessingFee:    ProcessingFee(in.Amount, in.Tenure),
		DocumentationFee: in.DocumentationFee,
		ReloanDeduction:  in.ReloanDeduction,
	}
	q.NetDisbursable = NetDisbursable(in.Amount, q.ProcessingFee, q.DocumentationFee, q.ReloanDeduction)
	return q, nil
}
