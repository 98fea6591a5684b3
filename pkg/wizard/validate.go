package wizard

import (
	"fmt"
	"strings"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/reloan"
	"github.com/mcclellann/loandesk/pkg/validation"
)

var fieldSteps = map[string]Step{
	"product_id":             StepProduct,
	"center_id":              StepCustomer,
	"group_id":               StepCustomer,
	"customer_id":            StepCustomer,
	"nic":                    StepCustomer,
	"guardian_name":          StepCustomer,
	"guardian_nic":           StepCustomer,
	"guarantor1_id":          StepCustomer,
	"guarantor2_id":          StepCustomer,
	"witness1_id":            StepCustomer,
	"witness2_id":            StepCustomer,
	"monthly_income":         StepFinancials,
	"monthly_expenses":       StepFinancials,
	"requested_amount":       StepLoanTerms,
	"approved_amount":        StepLoanTerms,
	"interest_rate":          StepLoanTerms,
	"tenure":                 StepLoanTerms,
	"rental_type":            StepLoanTerms,
	"net_disbursable":        StepLoanTerms,
	"bank_name":              StepLoanTerms,
	"bank_branch":            StepLoanTerms,
	"account_number":         StepLoanTerms,
	"confirm_account_number": StepLoanTerms,
}

// StepFor returns the step on which field is edited.
func StepFor(field string) Step {
	if strings.HasPrefix(field, "documents.") {
		return StepDocuments
	}
	if st, ok := fieldSteps[field]; ok {
		return st
	}
	return StepReview
}

func firstStep(errs validation.FieldErrors) Step {
	best := StepReview
	for f := range errs {
		if st := StepFor(f); st.index() < best.index() {
			best = st
		}
	}
	return best
}

// Validate checks every step of the application. Submission is allowed only
// when the result is empty.
func Validate(s State) validation.FieldErrors {
	errs := validation.FieldErrors{}
	f := s.Form

	if f.ProductID == "" || s.Product == nil {
		errs.Add("product_id", "select a loan product")
	} else if r := s.reloanFor(); r != nil && !r.IsEligible {
		errs.Add("product_id", reloan.ShortfallMessage(*r))
	}

	validateParties(s, errs)
	validateFinancials(f, errs)
	validateTerms(s, errs)
	validateBank(f, errs)
	validateDocuments(s, errs)
	return errs
}

func validateParties(s State, errs validation.FieldErrors) {
	f := s.Form
	if f.CenterID == "" {
		errs.Add("center_id", "select a center")
	}
	if f.GroupID == "" {
		errs.Add("group_id", "select a group")
	}
	if f.CustomerID == "" || s.Customer == nil {
		errs.Add("customer_id", "select a customer")
	}
	errs.Add("nic", validation.CheckNIC(f.NIC))
	if s.Customer != nil && !errs.Has("nic") && !strings.EqualFold(f.NIC, s.Customer.NIC) {
		errs.Add("nic", "NIC does not match the selected customer")
	}

	if f.GuardianNIC != "" {
		errs.Add("guardian_nic", validation.CheckNIC(f.GuardianNIC))
		if f.GuardianName == "" {
			errs.Add("guardian_name", "guardian name is required when a guardian NIC is given")
		}
	}

	for slot, id := range []string{f.Guarantor1ID, f.Guarantor2ID} {
		field := fmt.Sprintf("guarantor%d_id", slot+1)
		_, isMember := s.member(id)
		switch {
		case id == "":
			if f.GroupID != "" && len(s.otherMembers()) <= slot {
				errs.Add(field, "the group does not have enough other members to act as guarantors")
			} else {
				errs.Add(field, fmt.Sprintf("guarantor %d is required", slot+1))
			}
		case id == f.CustomerID:
			errs.Add(field, "the customer cannot guarantee their own loan")
		case !isMember:
			errs.Add(field, "guarantor must be a member of the selected group")
		}
	}
	if f.Guarantor1ID != "" && f.Guarantor1ID == f.Guarantor2ID {
		errs.Add("guarantor2_id", "guarantors must be different people")
	}

	if f.Witness1ID == "" {
		errs.Add("witness1_id", "witness 1 is required")
	}
	switch {
	case f.Witness2ID == "":
		errs.Add("witness2_id", "select a second witness")
	case f.Witness2ID == f.Witness1ID:
		errs.Add("witness2_id", "witness 2 must be different from witness 1")
	}
}

func validateFinancials(f FormData, errs validation.FieldErrors) {
	if !f.MonthlyIncome.IsPositive() {
		errs.Add("monthly_income", "monthly income is required")
	}
	switch {
	case f.MonthlyExpenses.IsNegative():
		errs.Add("monthly_expenses", "monthly expenses cannot be negative")
	case f.MonthlyIncome.IsPositive() && f.MonthlyExpenses.GreaterThan(f.MonthlyIncome):
		errs.Add("monthly_expenses", "monthly expenses exceed monthly income")
	}
}

func validateTerms(s State, errs validation.FieldErrors) {
	f := s.Form
	if !f.RequestedAmount.IsPositive() {
		errs.Add("requested_amount", "requested amount is required")
	}
	if !f.ApprovedAmount.IsPositive() {
		errs.Add("approved_amount", "approved amount is required")
	} else {
		if f.RequestedAmount.IsPositive() && f.ApprovedAmount.GreaterThan(f.RequestedAmount) {
			errs.Add("approved_amount", "approved amount cannot exceed the requested amount")
		}
		if p := s.Product; p != nil {
			if p.MinAmount.IsPositive() && f.ApprovedAmount.LessThan(p.MinAmount) {
				errs.Add("approved_amount", "approved amount must be at least "+p.MinAmount.StringFixed(2))
			}
			if p.MaxAmount.IsPositive() && f.ApprovedAmount.GreaterThan(p.MaxAmount) {
				errs.Add("approved_amount", "approved amount must be at most "+p.MaxAmount.StringFixed(2))
			}
		}
	}
	if f.Tenure <= 0 {
		errs.Add("tenure", "tenure must be a positive number of weeks")
	}
	if p := s.Product; p != nil {
		if !f.InterestRate.Equal(p.InterestRate) {
			errs.Add("interest_rate", "interest rate must match the selected product")
		}
		if f.RentalType != p.RentalType {
			errs.Add("rental_type", "rental type must match the selected product")
		}
	}
	if f.NetDisbursable.IsNegative() {
		errs.Add("net_disbursable", negativeNetMessage(f.NetDisbursable))
	}
}

func validateBank(f FormData, errs validation.FieldErrors) {
	if f.BankName == "" {
		errs.Add("bank_name", "select a bank")
	}
	if err := validation.ValidateAccountNumber(f.BankName, f.AccountNumber); err != nil {
		errs.Add("account_number", err.Error())
	}
	errs.Add("confirm_account_number", validation.ConfirmAccountNumber(f.AccountNumber, f.ConfirmAccountNumber))
}

func validateDocuments(s State, errs validation.FieldErrors) {
	if s.Product == nil {
		return
	}
	required := RequiredDocuments(s.Product.Category)
	if s.Form.GuardianNIC != "" {
		required = append(required[:len(required):len(required)], DocGuardianNIC)
	}
	for _, t := range required {
		if _, ok := s.Form.Documents[t]; !ok {
			errs.Add(documentField(t), t.Label()+" is required")
		}
	}
}

// Rebuild reconstructs a wizard state from submitted form data and freshly
// loaded reference records, then recomputes the derived fields.
func Rebuild(form FormData, creator auth.Session, product *models.LoanProduct, customer *models.CustomerRecord, members []models.Customer, witness2 *models.Staff) State {
	s := State{
		Step:      StepReview,
		Status:    StatusEditing,
		Form:      form.Clone(),
		Errors:    validation.FieldErrors{},
		Product:   product,
		Customer:  customer,
		Members:   append([]models.Customer(nil), members...),
		Witness2:  witness2,
		CreatedBy: creator,
	}
	if s.Form.Documents == nil {
		s.Form.Documents = Documents{}
	}
	s.recompute()
	return s
}
