// Package wizard holds the loan application wizard: its form state, the reducer
// that applies every change with its cascades, the validation that gates
// submission, the read-only review projection and the per-session controller.
package wizard

import (
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/validation"
)

type Step string

const (
	StepProduct    Step = "product"
	StepCustomer   Step = "customer"
	StepFinancials Step = "financials"
	StepLoanTerms  Step = "loan_terms"
	StepDocuments  Step = "documents"
	StepReview     Step = "review"
	StepSubmitted  Step = "submitted"
)

// Steps lists the wizard steps in order.
var Steps = []Step{StepProduct, StepCustomer, StepFinancials, StepLoanTerms, StepDocuments, StepReview, StepSubmitted}

func (s Step) index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

type Status string

const (
	StatusEditing      Status = "editing"
	StatusSubmitting   Status = "submitting"
	StatusSubmitFailed Status = "submit_failed"
	StatusSubmitted    Status = "submitted"
)

// FormData is the application being entered. Fields below "derived" are
// recomputed from the inputs after every change and are never set directly.
type FormData struct {
	ProductID  string `json:"product_id"`
	CenterID   string `json:"center_id"`
	GroupID    string `json:"group_id"`
	CustomerID string `json:"customer_id"`
	NIC        string `json:"nic"`

	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`

	GuardianName string `json:"guardian_name"`
	GuardianNIC  string `json:"guardian_nic"`
	Guarantor1ID string `json:"guarantor1_id"`
	Guarantor2ID string `json:"guarantor2_id"`
	Witness1ID   string `json:"witness1_id"`
	Witness2ID   string `json:"witness2_id"`

	RequestedAmount decimal.Decimal `json:"requested_amount"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	Tenure          int             `json:"tenure"`
	RentalType      string          `json:"rental_type"`

	// derived
	TotalPayable     decimal.Decimal `json:"total_payable"`
	CalculatedRental decimal.Decimal `json:"calculated_rental"`
	ProcessingFee    decimal.Decimal `json:"processing_fee"`
	DocumentationFee decimal.Decimal `json:"documentation_fee"`
	ReloanDeduction  decimal.Decimal `json:"reloan_deduction"`
	NetDisbursable   decimal.Decimal `json:"net_disbursable"`

	BankName             string `json:"bank_name"`
	BankBranch           string `json:"bank_branch"`
	AccountNumber        string `json:"account_number"`
	ConfirmAccountNumber string `json:"confirm_account_number"`

	Documents Documents `json:"documents"`
}

// Clone returns a copy that shares no mutable state with f.
func (f FormData) Clone() FormData {
	f.Documents = f.Documents.clone()
	return f
}

// State is everything a wizard session knows.
type State struct {
	Step   Step                   `json:"step"`
	Status Status                 `json:"status"`
	Form   FormData               `json:"form"`
	Errors validation.FieldErrors `json:"errors"`

	Product  *models.LoanProduct    `json:"product,omitempty"`
	Customer *models.CustomerRecord `json:"customer,omitempty"`
	Members  []models.Customer      `json:"members,omitempty"`
	Witness2 *models.Staff          `json:"witness2,omitempty"`

	CreatedBy auth.Session `json:"created_by"`
	LookupSeq uint64       `json:"lookup_seq"`
}

// NewState starts an empty application. Witness 1 is the creating staff member.
func NewState(creator auth.Session) State {
	return State{
		Step:      StepProduct,
		Status:    StatusEditing,
		Form:      FormData{Witness1ID: creator.StaffID, Documents: Documents{}},
		Errors:    validation.FieldErrors{},
		CreatedBy: creator,
	}
}

// Clone returns a deep copy of s. Product, Customer and Witness2 are
// snapshots that are replaced, never mutated, so they are shared.
func (s State) Clone() State {
	s.Form = s.Form.Clone()
	s.Errors = s.Errors.Clone()
	if s.Members != nil {
		s.Members = append([]models.Customer(nil), s.Members...)
	}
	return s
}

// otherMembers returns the group members other than the selected customer.
func (s State) otherMembers() []models.Customer {
	var out []models.Customer
	for _, m := range s.Members {
		if m.ID != s.Form.CustomerID {
			out = append(out, m)
		}
	}
	return out
}

func (s State) member(id string) (models.Customer, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return models.Customer{}, false
}

// reloanFor returns the customer's reloan position for the selected product.
func (s State) reloanFor() *models.ReloanEligibility {
	if s.Customer == nil {
		return nil
	}
	return s.Customer.ReloanFor(s.Form.ProductID)
}
