package wizard

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/reloan"
	"github.com/mcclellann/loandesk/pkg/validation"
)

// Line is one labelled money amount on the review screen.
type Line struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type Party struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type DocumentStatus struct {
	Type     DocumentType `json:"type"`
	Label    string       `json:"label"`
	Required bool         `json:"required"`
	State    string       `json:"state"` // unset, existing or staged
	Name     string       `json:"name,omitempty"`
}

// Summary is the read-only review of an application.
type Summary struct {
	Product  *models.LoanProduct    `json:"product,omitempty"`
	Customer *models.CustomerRecord `json:"customer,omitempty"`
	CenterID string                 `json:"center_id"`
	GroupID  string                 `json:"group_id"`
	NIC      string                 `json:"nic"`

	Guardian   Party    `json:"guardian"`
	Guarantors [2]Party `json:"guarantors"`
	Witnesses  [2]Party `json:"witnesses"`

	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`

	RequestedAmount decimal.Decimal `json:"requested_amount"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	Tenure          int             `json:"tenure"`
	RentalType      string          `json:"rental_type"`
	TotalPayable    decimal.Decimal `json:"total_payable"`
	Rental          decimal.Decimal `json:"rental"`

	Deductions     []Line                    `json:"deductions"`
	NetDisbursable decimal.Decimal           `json:"net_disbursable"`
	Reloan         *models.ReloanEligibility `json:"reloan,omitempty"`
	ReloanProgress string                    `json:"reloan_progress,omitempty"` // Percent, one decimal

	BankName      string `json:"bank_name"`
	BankBranch    string `json:"bank_branch"`
	AccountNumber string `json:"account_number"`

	Documents []DocumentStatus       `json:"documents"`
	Errors    validation.FieldErrors `json:"errors"`
	Ready     bool                   `json:"ready"`
}

// Review projects s for display. It shows the last computed values and never recomputes them.
func Review(s State) Summary {
	f := s.Form
	sum := Summary{
		Product:         s.Product,
		Customer:        s.Customer,
		CenterID:        f.CenterID,
		GroupID:         f.GroupID,
		NIC:             f.NIC,
		Guardian:        Party{ID: f.GuardianNIC, Name: f.GuardianName},
		MonthlyIncome:   f.MonthlyIncome,
		MonthlyExpenses: f.MonthlyExpenses,
		RequestedAmount: f.RequestedAmount,
		ApprovedAmount:  f.ApprovedAmount,
		InterestRate:    f.InterestRate,
		Tenure:          f.Tenure,
		RentalType:      f.RentalType,
		TotalPayable:    f.TotalPayable,
		Rental:          f.CalculatedRental,
		NetDisbursable:  f.NetDisbursable,
		Reloan:          s.reloanFor(),
		BankName:        f.BankName,
		BankBranch:      f.BankBranch,
		AccountNumber:   f.AccountNumber,
	}

	for i, id := range []string{f.Guarantor1ID, f.Guarantor2ID} {
		p := Party{ID: id}
		if m, ok := s.member(id); ok && id != "" {
			p.Name = m.FullName
		}
		sum.Guarantors[i] = p
	}
	sum.Witnesses[0] = Party{ID: f.Witness1ID}
	if f.Witness1ID == s.CreatedBy.StaffID {
		sum.Witnesses[0].Name = s.CreatedBy.Name
	}
	sum.Witnesses[1] = Party{ID: f.Witness2ID}
	if s.Witness2 != nil && s.Witness2.ID == f.Witness2ID {
		sum.Witnesses[1].Name = s.Witness2.Name
	}

	if sum.Reloan != nil {
		sum.ReloanProgress = reloan.DisplayProgress(*sum.Reloan)
	}

	sum.Deductions = []Line{
		{Label: "Processing fee", Amount: f.ProcessingFee},
		{Label: "Documentation fee", Amount: f.DocumentationFee},
	}
	if !f.ReloanDeduction.IsZero() {
		sum.Deductions = append(sum.Deductions, Line{Label: "Reloan settlement", Amount: f.ReloanDeduction})
	}

	sum.Documents = documentStatuses(s)
	sum.Errors = Validate(s)
	sum.Ready = sum.Errors.Empty()
	return sum
}

func documentStatuses(s State) []DocumentStatus {
	var required []DocumentType
	if s.Product != nil {
		required = RequiredDocuments(s.Product.Category)
	}
	seen := map[DocumentType]bool{}
	var out []DocumentStatus
	add := func(t DocumentType, req bool) {
		if seen[t] {
			return
		}
		seen[t] = true
		ds := DocumentStatus{Type: t, Label: t.Label(), Required: req, State: "unset"}
		switch d := s.Form.Documents[t].(type) {
		case ExistingDocument:
			ds.State = "existing"
		case StagedFile:
			ds.State = "staged"
			ds.Name = d.Name
		}
		out = append(out, ds)
	}
	for _, t := range required {
		add(t, true)
	}
	if s.Form.GuardianNIC != "" {
		add(DocGuardianNIC, true)
	}
	extra := make([]DocumentType, 0, len(s.Form.Documents))
	for t := range s.Form.Documents {
		extra = append(extra, t)
	}
	slices.Sort(extra)
	for _, t := range extra {
		add(t, false)
	}
	return out
}
