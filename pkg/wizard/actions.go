package wizard

import (
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/directory"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/validation"
)

// Action is a single change to the wizard state. Every change goes through Reduce.
type Action interface {
	isAction()
}

type SelectProduct struct {
	Product models.LoanProduct
}

type SelectCenter struct {
	CenterID string
}

// SelectGroup carries the group with its current members.
type SelectGroup struct {
	Group   models.Group
	Members []models.Customer
}

type SelectCustomer struct {
	Customer models.CustomerRecord
}

type SetFinancials struct {
	MonthlyIncome   decimal.Decimal
	MonthlyExpenses decimal.Decimal
}

type SetGuardian struct {
	Name string
	NIC  string
}

// SetGuarantor fills guarantor slot 1 or 2.
type SetGuarantor struct {
	Slot       int
	CustomerID string
}

type SetWitness2 struct {
	Staff models.Staff
}

// SetLoanTerms changes only the fields that are non-nil.
type SetLoanTerms struct {
	RequestedAmount *decimal.Decimal
	ApprovedAmount  *decimal.Decimal
	InterestRate    *decimal.Decimal
	Tenure          *int
	RentalType      *string
}

type SetBankDetails struct {
	BankName             string
	BankBranch           string
	AccountNumber        string
	ConfirmAccountNumber string
}

type NICEntered struct {
	NIC string
}

// NICLookupSucceeded applies the result of the lookup started with sequence Seq.
type NICLookupSucceeded struct {
	Seq    uint64
	Lookup directory.Lookup
}

type NICLookupFailed struct {
	Seq     uint64
	Message string
}

type StageDocument struct {
	Type DocumentType
	File StagedFile
}

type AttachExistingDocument struct {
	Type DocumentType
	ID   string
}

type ClearDocument struct {
	Type DocumentType
}

type GoToStep struct {
	Step Step
}

type SubmitStarted struct{}

// SubmitFailed is applied to the snapshot taken before submission.
type SubmitFailed struct {
	Errors validation.FieldErrors
}

type SubmitSucceeded struct{}

func (SelectProduct) isAction()          {}
func (SelectCenter) isAction()           {}
func (SelectGroup) isAction()            {}
func (SelectCustomer) isAction()         {}
func (SetFinancials) isAction()          {}
func (SetGuardian) isAction()            {}
func (SetGuarantor) isAction()           {}
func (SetWitness2) isAction()            {}
func (SetLoanTerms) isAction()           {}
func (SetBankDetails) isAction()         {}
func (NICEntered) isAction()             {}
func (NICLookupSucceeded) isAction()     {}
func (NICLookupFailed) isAction()        {}
func (StageDocument) isAction()          {}
func (AttachExistingDocument) isAction() {}
func (ClearDocument) isAction()          {}
func (GoToStep) isAction()               {}
func (SubmitStarted) isAction()          {}
func (SubmitFailed) isAction()           {}
func (SubmitSucceeded) isAction()        {}
