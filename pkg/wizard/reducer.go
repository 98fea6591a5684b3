package wizard

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/calculator"
	"github.com/mcclellann/loandesk/pkg/directory"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/reloan"
	"github.com/mcclellann/loandesk/pkg/validation"
)

// Reduce applies a to s and returns the resulting state. s itself is left untouched.
// Derived money fields are recomputed after every action.
func Reduce(s State, a Action) State {
	next := s.Clone()
	if next.Errors == nil {
		next.Errors = validation.FieldErrors{}
	}

	switch a.(type) {
	case SubmitFailed, SubmitSucceeded:
	default:
		// Edits are ignored while a submission is in flight; the snapshot is restored on failure.
		if next.Status == StatusSubmitting {
			return next
		}
	}

	switch a := a.(type) {
	case SelectProduct:
		next.selectProduct(a.Product)
	case SelectCenter:
		next.selectCenter(a.CenterID)
	case SelectGroup:
		next.selectGroup(a.Group, a.Members)
	case SelectCustomer:
		next.selectCustomer(a.Customer)
	case SetFinancials:
		next.setFinancials(a)
	case SetGuardian:
		next.setGuardian(a)
	case SetGuarantor:
		next.setGuarantor(a.Slot, a.CustomerID)
	case SetWitness2:
		next.setWitness2(a.Staff)
	case SetLoanTerms:
		next.setLoanTerms(a)
	case SetBankDetails:
		next.setBankDetails(a)
	case NICEntered:
		next.nicEntered(a.NIC)
	case NICLookupSucceeded:
		next.lookupSucceeded(a.Seq, a.Lookup)
	case NICLookupFailed:
		if a.Seq == next.LookupSeq {
			next.Errors["nic"] = a.Message
		}
	case StageDocument:
		next.stageDocument(a.Type, a.File)
	case AttachExistingDocument:
		next.attachDocument(a.Type, a.ID)
	case ClearDocument:
		next.clearDocument(a.Type)
	case GoToStep:
		next.goToStep(a.Step)
		next.recompute()
		return next
	case SubmitStarted:
		next.Status = StatusSubmitting
		delete(next.Errors, "form")
		return next
	case SubmitFailed:
		next.Status = StatusSubmitFailed
		next.Step = StepReview
		// Lookups issued before the submission no longer apply to the restored form.
		next.LookupSeq++
		for f, m := range a.Errors {
			next.Errors[f] = m
		}
		return next
	case SubmitSucceeded:
		fresh := NewState(next.CreatedBy)
		fresh.Step = StepSubmitted
		fresh.Status = StatusSubmitted
		return fresh
	default:
		next.Errors["form"] = fmt.Sprintf("unsupported action %T", a)
		return next
	}

	if next.Status != StatusEditing {
		next.Status = StatusEditing
	}
	if next.Step == StepSubmitted {
		next.Step = StepProduct
	}
	next.recompute()
	return next
}

func (s *State) clearErrors(fields ...string) {
	for _, f := range fields {
		delete(s.Errors, f)
	}
}

func (s *State) selectProduct(p models.LoanProduct) {
	s.Product = &p
	s.Form.ProductID = p.ID
	s.Form.Tenure = p.Tenure
	s.Form.InterestRate = p.InterestRate
	s.Form.RentalType = p.RentalType
	s.clearErrors("product_id", "tenure", "interest_rate", "rental_type", "net_disbursable")
	for f := range s.Errors {
		if strings.HasPrefix(f, "documents.") {
			delete(s.Errors, f)
		}
	}
}

func (s *State) clearCustomer() {
	s.Form.CustomerID = ""
	s.Form.NIC = ""
	s.Customer = nil
	s.clearErrors("customer_id", "nic", "product_id")
}

func (s *State) selectCenter(centerID string) {
	s.Form.CenterID = centerID
	s.Form.GroupID = ""
	s.Members = nil
	s.clearCustomer()
	s.Form.Guarantor1ID = ""
	s.Form.Guarantor2ID = ""
	s.clearErrors("center_id", "group_id", "guarantor1_id", "guarantor2_id")
}

func (s *State) selectGroup(g models.Group, members []models.Customer) {
	delete(s.Errors, "group_id")
	switch {
	case s.Form.CenterID == "":
		s.Errors["group_id"] = "select a center first"
		return
	case g.CenterID != s.Form.CenterID:
		s.Errors["group_id"] = "group does not belong to the selected center"
		return
	}
	s.Form.GroupID = g.ID
	s.Members = append([]models.Customer(nil), members...)
	s.clearCustomer()
	s.deriveGuarantors()
}

func (s *State) selectCustomer(c models.CustomerRecord) {
	delete(s.Errors, "customer_id")
	switch {
	case s.Form.GroupID == "":
		s.Errors["customer_id"] = "select a group first"
		return
	case c.GroupID != s.Form.GroupID:
		s.Errors["customer_id"] = "customer is not a member of the selected group"
		return
	}
	s.applyCustomer(c)
}

// applyCustomer fills every customer-derived field from the snapshot.
func (s *State) applyCustomer(c models.CustomerRecord) {
	s.Customer = &c
	s.Form.CustomerID = c.ID
	s.Form.NIC = c.NIC
	s.Form.MonthlyIncome = c.MonthlyIncome
	s.Form.MonthlyExpenses = c.MonthlyExpenses
	if _, ok := s.member(c.ID); !ok {
		s.Members = append(s.Members, c.Customer)
	}
	s.clearErrors("customer_id", "nic", "product_id", "monthly_income", "monthly_expenses")
	s.deriveGuarantors()
}

// deriveGuarantors fills both guarantor slots from the other group members.
func (s *State) deriveGuarantors() {
	s.Form.Guarantor1ID = ""
	s.Form.Guarantor2ID = ""
	others := s.otherMembers()
	if len(others) > 0 {
		s.Form.Guarantor1ID = others[0].ID
	}
	if len(others) > 1 {
		s.Form.Guarantor2ID = others[1].ID
	}
	s.clearErrors("guarantor1_id", "guarantor2_id")
}

func (s *State) setFinancials(a SetFinancials) {
	s.Form.MonthlyIncome = a.MonthlyIncome
	s.Form.MonthlyExpenses = a.MonthlyExpenses
	s.clearErrors("monthly_income", "monthly_expenses")
	if a.MonthlyIncome.IsNegative() {
		s.Errors["monthly_income"] = "monthly income cannot be negative"
	}
	if a.MonthlyExpenses.IsNegative() {
		s.Errors["monthly_expenses"] = "monthly expenses cannot be negative"
	}
}

func (s *State) setGuardian(a SetGuardian) {
	s.Form.GuardianName = strings.TrimSpace(a.Name)
	s.Form.GuardianNIC = strings.TrimSpace(a.NIC)
	s.clearErrors("guardian_name", "guardian_nic")
	if s.Form.GuardianNIC != "" {
		s.Errors.Add("guardian_nic", validation.CheckNIC(s.Form.GuardianNIC))
	}
}

func (s *State) setGuarantor(slot int, customerID string) {
	if slot != 1 && slot != 2 {
		s.Errors["guarantor"] = fmt.Sprintf("unknown guarantor slot %d", slot)
		return
	}
	field := fmt.Sprintf("guarantor%d_id", slot)
	delete(s.Errors, field)
	delete(s.Errors, "guarantor")

	other := s.Form.Guarantor2ID
	if slot == 2 {
		other = s.Form.Guarantor1ID
	}
	switch _, isMember := s.member(customerID); {
	case s.Form.GroupID == "":
		s.Errors[field] = "select a group before choosing guarantors"
		return
	case customerID == "":
	case customerID == s.Form.CustomerID:
		s.Errors[field] = "the customer cannot guarantee their own loan"
		return
	case !isMember:
		s.Errors[field] = "guarantor must be a member of the selected group"
		return
	case customerID == other:
		s.Errors[field] = "guarantors must be different people"
		return
	}
	if slot == 1 {
		s.Form.Guarantor1ID = customerID
	} else {
		s.Form.Guarantor2ID = customerID
	}
}

func (s *State) setWitness2(st models.Staff) {
	delete(s.Errors, "witness2_id")
	switch {
	case st.ID == "":
		s.Errors["witness2_id"] = "witness 2 must be a staff member"
	case st.ID == s.Form.Witness1ID:
		s.Errors["witness2_id"] = "witness 2 must be different from witness 1"
	default:
		s.Form.Witness2ID = st.ID
		s.Witness2 = &st
	}
}

func (s *State) setLoanTerms(a SetLoanTerms) {
	if a.RequestedAmount != nil {
		s.Form.RequestedAmount = *a.RequestedAmount
		s.clearErrors("requested_amount", "approved_amount")
	}
	if a.ApprovedAmount != nil {
		s.Form.ApprovedAmount = *a.ApprovedAmount
		s.clearErrors("approved_amount")
	}
	if a.Tenure != nil {
		s.Form.Tenure = *a.Tenure
		delete(s.Errors, "tenure")
		if *a.Tenure <= 0 {
			s.Errors["tenure"] = "tenure must be a positive number of weeks"
		}
	}
	if a.InterestRate != nil {
		delete(s.Errors, "interest_rate")
		if s.Product != nil && !a.InterestRate.Equal(s.Product.InterestRate) {
			s.Errors["interest_rate"] = "interest rate is fixed by the selected product"
		} else {
			s.Form.InterestRate = *a.InterestRate
		}
	}
	if a.RentalType != nil {
		delete(s.Errors, "rental_type")
		if s.Product != nil && *a.RentalType != s.Product.RentalType {
			s.Errors["rental_type"] = "rental type is fixed by the selected product"
		} else {
			s.Form.RentalType = *a.RentalType
		}
	}
}

func (s *State) setBankDetails(a SetBankDetails) {
	s.Form.BankName = a.BankName
	s.Form.BankBranch = a.BankBranch
	s.Form.AccountNumber = a.AccountNumber
	s.Form.ConfirmAccountNumber = a.ConfirmAccountNumber
	s.clearErrors("bank_name", "account_number", "confirm_account_number")
	if a.BankName != "" && strings.TrimSpace(a.AccountNumber) != "" {
		if err := validation.ValidateAccountNumber(a.BankName, a.AccountNumber); err != nil {
			s.Errors["account_number"] = err.Error()
		}
	}
	if strings.TrimSpace(a.ConfirmAccountNumber) != "" {
		s.Errors.Add("confirm_account_number", validation.ConfirmAccountNumber(a.AccountNumber, a.ConfirmAccountNumber))
	}
}

func (s *State) nicEntered(nic string) {
	s.Form.NIC = strings.TrimSpace(nic)
	s.LookupSeq++
	delete(s.Errors, "nic")
	s.Errors.Add("nic", validation.CheckNIC(s.Form.NIC))
}

func (s *State) lookupSucceeded(seq uint64, l directory.Lookup) {
	if seq != s.LookupSeq {
		return
	}
	s.Form.CenterID = l.Customer.CenterID
	s.Form.GroupID = l.Group.ID
	s.Members = append([]models.Customer(nil), l.Members...)
	s.clearErrors("center_id", "group_id")
	s.applyCustomer(l.Customer)
}

func documentField(t DocumentType) string {
	return "documents." + string(t)
}

func (s *State) stageDocument(t DocumentType, f StagedFile) {
	field := documentField(t)
	delete(s.Errors, field)
	switch {
	case !t.Known():
		s.Errors[field] = "unknown document type"
		return
	case len(f.Data) == 0:
		s.Errors[field] = "file is empty"
		return
	}
	switch cur := s.Form.Documents[t].(type) {
	case ExistingDocument:
		f.Replaces = cur.ID
	case StagedFile:
		f.Replaces = cur.Replaces
	}
	s.Form.Documents[t] = f
}

func (s *State) attachDocument(t DocumentType, id string) {
	field := documentField(t)
	delete(s.Errors, field)
	switch {
	case !t.Known():
		s.Errors[field] = "unknown document type"
	case id == "":
		s.Errors[field] = "document reference is empty"
	default:
		s.Form.Documents[t] = ExistingDocument{ID: id}
	}
}

// clearDocument unsets a slot. Clearing a staged replacement brings back the stored document.
func (s *State) clearDocument(t DocumentType) {
	if f, ok := s.Form.Documents[t].(StagedFile); ok && f.Replaces != "" {
		s.Form.Documents[t] = ExistingDocument{ID: f.Replaces}
		return
	}
	delete(s.Form.Documents, t)
}

func (s *State) goToStep(step Step) {
	delete(s.Errors, "step")
	switch {
	case step == StepSubmitted:
		s.Errors["step"] = "applications are submitted through submit"
		return
	case step.index() < 0:
		s.Errors["step"] = fmt.Sprintf("unknown step %q", step)
		return
	case step == StepReview:
		if errs := Validate(*s); !errs.Empty() {
			for f, m := range errs {
				s.Errors[f] = m
			}
			s.Step = firstStep(errs)
			return
		}
	}
	s.Step = step
	if s.Status == StatusSubmitted {
		s.Status = StatusEditing
	}
}

// recompute derives every computed money field from the current inputs.
func (s *State) recompute() {
	f := &s.Form
	f.DocumentationFee = decimal.Zero
	if s.Product != nil {
		f.DocumentationFee = s.Product.DocumentationFee
	}
	f.ReloanDeduction = decimal.Zero
	if r := s.reloanFor(); r != nil {
		if r.IsEligible {
			f.ReloanDeduction = r.DeductionAmount
		} else {
			s.Errors["product_id"] = reloan.ShortfallMessage(*r)
		}
	}

	q, err := calculator.Calculate(calculator.Input{
		Amount:           f.ApprovedAmount,
		Rate:             f.InterestRate,
		Tenure:           f.Tenure,
		DocumentationFee: f.DocumentationFee,
		ReloanDeduction:  f.ReloanDeduction,
	})
	if err != nil {
		f.TotalPayable = decimal.Zero
		f.CalculatedRental = decimal.Zero
		f.ProcessingFee = decimal.Zero
		f.NetDisbursable = decimal.Zero
		delete(s.Errors, "net_disbursable")
		return
	}
	f.TotalPayable = q.TotalPayable
	f.CalculatedRental = q.Rental
	f.ProcessingFee = q.ProcessingFee
	f.NetDisbursable = q.NetDisbursable
	if q.Negative() {
		s.Errors["net_disbursable"] = negativeNetMessage(q.NetDisbursable)
	} else {
		delete(s.Errors, "net_disbursable")
	}
}

func negativeNetMessage(net decimal.Decimal) string {
	return fmt.Sprintf("deductions exceed the approved amount by %s", net.Neg().StringFixed(2))
}

// Quote returns the derived money fields of the form.
func (f FormData) Quote() calculator.Quote {
	return calculator.Quote{
		TotalPayable:     f.TotalPayable,
		Rental:           f.CalculatedRental,
		ProcessingFee:    f.ProcessingFee,
		DocumentationFee: f.DocumentationFee,
		ReloanDeduction:  f.ReloanDeduction,
		NetDisbursable:   f.NetDisbursable,
	}
}
