package wizard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/directory"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/reloan"
)

var (
	officer = auth.Session{StaffID: "st1", Name: "Kamal", Role: models.RoleFieldOfficer, CenterIDs: []string{"ce1"}}
	witness = models.Staff{ID: "st2", Name: "Sunil", Role: models.RoleManager}

	product = models.LoanProduct{
		ID:               "p1",
		Name:             "Business 48",
		Category:         models.CategoryBusiness,
		InterestRate:     decimal.NewFromInt(20),
		TermType:         "weekly",
		Tenure:           48,
		RentalType:       "weekly",
		MinAmount:        decimal.NewFromInt(10000),
		MaxAmount:        decimal.NewFromInt(500000),
		DocumentationFee: decimal.NewFromInt(500),
	}

	group   = models.Group{ID: "g1", CenterID: "ce1", Name: "Lotus"}
	members = []models.Customer{
		{ID: "c1", NIC: "853400937V", FullName: "Anula Perera", CenterID: "ce1", GroupID: "g1",
			MonthlyIncome: decimal.NewFromInt(60000), MonthlyExpenses: decimal.NewFromInt(20000)},
		{ID: "c2", NIC: "926021234X", FullName: "Nirmala Silva", CenterID: "ce1", GroupID: "g1"},
		{ID: "c3", NIC: "199856101234", FullName: "Chandra Fernando", CenterID: "ce1", GroupID: "g1"},
	}
)

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func record(c models.Customer, reloans ...*models.ReloanEligibility) models.CustomerRecord {
	rec := models.CustomerRecord{Customer: c}
	for _, e := range reloans {
		if e != nil {
			rec.Reloans = append(rec.Reloans, *e)
		}
	}
	return rec
}

func file(name string) StagedFile {
	return StagedFile{Name: name, ContentType: "image/jpeg", Data: []byte("jpeg")}
}

func reduceAll(s State, actions ...Action) State {
	for _, a := range actions {
		s = Reduce(s, a)
	}
	return s
}

// completeState is an application that passes validation.
func completeState(t *testing.T) State {
	t.Helper()
	s := reduceAll(NewState(officer),
		SelectProduct{Product: product},
		SelectCenter{CenterID: "ce1"},
		SelectGroup{Group: group, Members: members},
		SelectCustomer{Customer: record(members[0])},
		SetWitness2{Staff: witness},
		SetLoanTerms{RequestedAmount: dec(120000), ApprovedAmount: dec(100000)},
		SetBankDetails{BankName: "Commercial Bank", BankBranch: "Kandy", AccountNumber: "1234567890", ConfirmAccountNumber: "1234567890"},
		StageDocument{Type: DocNICFront, File: file("front.jpg")},
		StageDocument{Type: DocNICBack, File: file("back.jpg")},
		StageDocument{Type: DocPhoto, File: file("photo.jpg")},
		StageDocument{Type: DocBusinessRegistration, File: file("br.pdf")},
	)
	require.Empty(t, Validate(s), "fixture must be valid")
	return s
}

func TestNewState_Witness1IsCreator(t *testing.T) {
	s := NewState(officer)
	assert.Equal(t, StepProduct, s.Step)
	assert.Equal(t, "st1", s.Form.Witness1ID)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := completeState(t)
	before := s.Clone()
	_ = Reduce(s, ClearDocument{Type: DocPhoto})
	_ = Reduce(s, SelectCenter{CenterID: "ce2"})
	assert.Equal(t, before, s)
}

func TestSelectCenter_Cascade(t *testing.T) {
	s := completeState(t)

	once := Reduce(s, SelectCenter{CenterID: "ce1"})
	assert.Equal(t, "ce1", once.Form.CenterID)
	assert.Empty(t, once.Form.GroupID)
	assert.Empty(t, once.Form.CustomerID)
	assert.Empty(t, once.Form.NIC)
	assert.Empty(t, once.Form.Guarantor1ID)
	assert.Empty(t, once.Form.Guarantor2ID)
	assert.Nil(t, once.Customer)
	assert.Empty(t, once.Members)

	twice := Reduce(once, SelectCenter{CenterID: "ce1"})
	assert.Equal(t, once.Form, twice.Form)
}

func TestSelectGroup(t *testing.T) {
	s := Reduce(NewState(officer), SelectGroup{Group: group, Members: members})
	assert.Equal(t, "select a center first", s.Errors["group_id"])
	assert.Empty(t, s.Form.GroupID)

	s = reduceAll(NewState(officer), SelectCenter{CenterID: "ce9"}, SelectGroup{Group: group, Members: members})
	assert.Contains(t, s.Errors["group_id"], "does not belong")

	s = reduceAll(NewState(officer), SelectCenter{CenterID: "ce1"}, SelectGroup{Group: group, Members: members})
	assert.Equal(t, "g1", s.Form.GroupID)
	assert.Equal(t, "c1", s.Form.Guarantor1ID)
	assert.Equal(t, "c2", s.Form.Guarantor2ID)

	s = Reduce(s, SelectCustomer{Customer: record(members[0])})
	assert.Equal(t, "c2", s.Form.Guarantor1ID)
	assert.Equal(t, "c3", s.Form.Guarantor2ID)
	assert.Equal(t, "853400937V", s.Form.NIC)
	assert.True(t, s.Form.MonthlyIncome.Equal(decimal.NewFromInt(60000)))

	// Re-selecting the group clears the customer.
	s = Reduce(s, SelectGroup{Group: group, Members: members})
	assert.Empty(t, s.Form.CustomerID)
	assert.Nil(t, s.Customer)
}

func TestSetGuarantor(t *testing.T) {
	s := Reduce(NewState(officer), SetGuarantor{Slot: 1, CustomerID: "c2"})
	assert.Contains(t, s.Errors["guarantor1_id"], "select a group")

	s = completeState(t)
	tests := []struct {
		name   string
		action SetGuarantor
		want   string
	}{
		{"self", SetGuarantor{Slot: 1, CustomerID: "c1"}, "cannot guarantee their own loan"},
		{"outsider", SetGuarantor{Slot: 2, CustomerID: "c9"}, "must be a member"},
		{"duplicate", SetGuarantor{Slot: 2, CustomerID: "c2"}, "different people"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(s, tt.action)
			field := "guarantor1_id"
			if tt.action.Slot == 2 {
				field = "guarantor2_id"
			}
			assert.Contains(t, got.Errors[field], tt.want)
			assert.Equal(t, s.Form.Guarantor1ID, got.Form.Guarantor1ID)
			assert.Equal(t, s.Form.Guarantor2ID, got.Form.Guarantor2ID)
		})
	}

	swapped := reduceAll(s, SetGuarantor{Slot: 1, CustomerID: ""}, SetGuarantor{Slot: 2, CustomerID: "c2"}, SetGuarantor{Slot: 1, CustomerID: "c3"})
	assert.Equal(t, "c3", swapped.Form.Guarantor1ID)
	assert.Equal(t, "c2", swapped.Form.Guarantor2ID)
	assert.Empty(t, swapped.Errors)
}

func TestSetWitness2(t *testing.T) {
	s := Reduce(NewState(officer), SetWitness2{Staff: models.Staff{ID: "st1"}})
	assert.Contains(t, s.Errors["witness2_id"], "different from witness 1")
	assert.Empty(t, s.Form.Witness2ID)

	s = Reduce(s, SetWitness2{Staff: witness})
	assert.Equal(t, "st2", s.Form.Witness2ID)
	assert.NotContains(t, s.Errors, "witness2_id")
}

func TestProductLocksRateAndRentalType(t *testing.T) {
	s := Reduce(NewState(officer), SelectProduct{Product: product})
	assert.Equal(t, 48, s.Form.Tenure)
	assert.True(t, s.Form.InterestRate.Equal(decimal.NewFromInt(20)))

	monthly := "monthly"
	s = Reduce(s, SetLoanTerms{InterestRate: dec(15), RentalType: &monthly})
	assert.Equal(t, "interest rate is fixed by the selected product", s.Errors["interest_rate"])
	assert.Equal(t, "rental type is fixed by the selected product", s.Errors["rental_type"])
	assert.True(t, s.Form.InterestRate.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "weekly", s.Form.RentalType)

	tenure := 52
	s = Reduce(s, SetLoanTerms{Tenure: &tenure})
	assert.Equal(t, 52, s.Form.Tenure)
}

func TestRecompute(t *testing.T) {
	s := completeState(t)
	f := s.Form
	assert.Equal(t, "120000.00", f.TotalPayable.StringFixed(2))
	assert.Equal(t, "2500.00", f.CalculatedRental.StringFixed(2))
	assert.Equal(t, "4000.00", f.ProcessingFee.StringFixed(2))
	assert.Equal(t, "500.00", f.DocumentationFee.StringFixed(2))
	assert.Equal(t, "95500.00", f.NetDisbursable.StringFixed(2))

	tenure := 52
	s = Reduce(s, SetLoanTerms{Tenure: &tenure})
	assert.Equal(t, "6000.00", s.Form.ProcessingFee.StringFixed(2))
	assert.Equal(t, "2307.69", s.Form.CalculatedRental.StringFixed(2))

	// Derived fields clear when the inputs can no longer be computed.
	s = Reduce(s, SetLoanTerms{ApprovedAmount: dec(0)})
	assert.True(t, s.Form.TotalPayable.IsZero())
	assert.True(t, s.Form.NetDisbursable.IsZero())
}

func TestNegativeNetDisbursable(t *testing.T) {
	costly := product
	costly.DocumentationFee = decimal.NewFromInt(2000)
	s := reduceAll(NewState(officer), SelectProduct{Product: costly}, SetLoanTerms{RequestedAmount: dec(1000), ApprovedAmount: dec(1000)})

	assert.Equal(t, "-1040.00", s.Form.NetDisbursable.StringFixed(2))
	assert.Equal(t, "deductions exceed the approved amount by 1040.00", s.Errors["net_disbursable"])
	assert.Contains(t, Validate(s), "net_disbursable")

	s = Reduce(s, SetLoanTerms{ApprovedAmount: dec(10000)})
	assert.NotContains(t, s.Errors, "net_disbursable")
}

func TestReloan(t *testing.T) {
	blocked, err := reloan.Evaluate(20, 48, decimal.NewFromInt(30000))
	require.NoError(t, err)
	blocked.ProductID = "p1"

	s := reduceAll(NewState(officer),
		SelectCenter{CenterID: "ce1"},
		SelectGroup{Group: group, Members: members},
		SelectCustomer{Customer: record(members[0], &blocked)},
		SelectProduct{Product: product},
	)
	assert.Equal(t, reloan.ShortfallMessage(blocked), s.Errors["product_id"])
	assert.Equal(t, reloan.ShortfallMessage(blocked), Validate(s)["product_id"])

	other := product
	other.ID = "p2"
	s = Reduce(s, SelectProduct{Product: other})
	assert.NotContains(t, s.Errors, "product_id")
	assert.True(t, s.Form.ReloanDeduction.IsZero())

	eligible, err := reloan.Evaluate(36, 48, decimal.NewFromInt(12000))
	require.NoError(t, err)
	eligible.ProductID = "p1"
	eligible.LoanID = uuid.New()

	eligible2 := eligible
	eligible2.ProductID = "p2"
	eligible2.LoanID = uuid.New()

	s = completeState(t)
	s = Reduce(s, SelectCustomer{Customer: record(members[0], &eligible)})
	assert.NotContains(t, s.Errors, "product_id")
	assert.Equal(t, "12000.00", s.Form.ReloanDeduction.StringFixed(2))
	assert.Equal(t, "83500.00", s.Form.NetDisbursable.StringFixed(2))
	// An eligible loan of another product does not hide the blocked one.
	s = Reduce(s, SelectCustomer{Customer: record(members[0], &eligible2, &blocked)})
	assert.Equal(t, reloan.ShortfallMessage(blocked), s.Errors["product_id"])
	assert.True(t, s.Form.ReloanDeduction.IsZero())
}

func TestNICLookupSequence(t *testing.T) {
	s := reduceAll(NewState(officer), NICEntered{NIC: "85340093"}, NICEntered{NIC: "853400937V"})
	require.Equal(t, uint64(2), s.LookupSeq)
	assert.NotContains(t, s.Errors, "nic")

	lookup := directory.Lookup{Customer: record(members[0]), Group: group, Members: members}

	stale := Reduce(s, NICLookupSucceeded{Seq: 1, Lookup: lookup})
	assert.Empty(t, stale.Form.CustomerID)

	s = Reduce(s, NICLookupSucceeded{Seq: 2, Lookup: lookup})
	assert.Equal(t, "ce1", s.Form.CenterID)
	assert.Equal(t, "g1", s.Form.GroupID)
	assert.Equal(t, "c1", s.Form.CustomerID)
	assert.Equal(t, "c2", s.Form.Guarantor1ID)
	assert.Equal(t, "c3", s.Form.Guarantor2ID)
	assert.Len(t, s.Members, 3)

	failed := reduceAll(s, NICEntered{NIC: "926021234X"}, NICLookupFailed{Seq: 3, Message: "no customer found with this NIC"})
	assert.Equal(t, "no customer found with this NIC", failed.Errors["nic"])
	assert.Equal(t, "c1", failed.Form.CustomerID)

	ignored := Reduce(s, NICLookupFailed{Seq: 1, Message: "late"})
	assert.NotContains(t, ignored.Errors, "nic")
}

func TestNICEntered_InvalidFormat(t *testing.T) {
	s := Reduce(NewState(officer), NICEntered{NIC: "12345"})
	assert.Contains(t, s.Errors, "nic")
	assert.Equal(t, "12345", s.Form.NIC)
}

func TestDocuments(t *testing.T) {
	s := reduceAll(NewState(officer),
		SelectProduct{Product: product},
		AttachExistingDocument{Type: DocPhoto, ID: "doc-1"},
	)
	assert.Equal(t, ExistingDocument{ID: "doc-1"}, s.Form.Documents[DocPhoto])

	s = Reduce(s, StageDocument{Type: DocPhoto, File: file("new.jpg")})
	staged, ok := s.Form.Documents[DocPhoto].(StagedFile)
	require.True(t, ok)
	assert.Equal(t, "doc-1", staged.Replaces)

	// Restaging keeps the reference to the stored document.
	s = Reduce(s, StageDocument{Type: DocPhoto, File: file("newer.jpg")})
	assert.Equal(t, "doc-1", s.Form.Documents[DocPhoto].(StagedFile).Replaces)

	s = Reduce(s, ClearDocument{Type: DocPhoto})
	assert.Equal(t, ExistingDocument{ID: "doc-1"}, s.Form.Documents[DocPhoto])

	s = Reduce(s, ClearDocument{Type: DocPhoto})
	assert.NotContains(t, s.Form.Documents, DocPhoto)

	s = Reduce(s, StageDocument{Type: "passport", File: file("p.jpg")})
	assert.Equal(t, "unknown document type", s.Errors["documents.passport"])

	s = Reduce(s, StageDocument{Type: DocNICFront, File: StagedFile{Name: "empty.jpg"}})
	assert.Equal(t, "file is empty", s.Errors["documents.nic_front"])

	errs := Validate(s)
	for _, doc := range RequiredDocuments(models.CategoryBusiness) {
		assert.Contains(t, errs, "documents."+string(doc))
	}
}

func TestRequiredDocuments(t *testing.T) {
	assert.Contains(t, RequiredDocuments(models.CategoryBusiness), DocBusinessRegistration)
	assert.Contains(t, RequiredDocuments(models.CategoryConsumption), DocUtilityBill)
	assert.Equal(t, []DocumentType{DocNICFront, DocNICBack, DocPhoto}, RequiredDocuments("unknown"))
}

func TestGuardianRequiresDocument(t *testing.T) {
	s := Reduce(completeState(t), SetGuardian{Name: "Piyal", NIC: "700011111X"})
	assert.Contains(t, Validate(s), "documents.guardian_nic")

	s = Reduce(s, SetGuardian{Name: "Piyal", NIC: "bad"})
	assert.Contains(t, s.Errors, "guardian_nic")
}

func TestValidate_TermsAndFinancials(t *testing.T) {
	s := completeState(t)

	s = Reduce(s, SetLoanTerms{ApprovedAmount: dec(130000)})
	assert.Equal(t, "approved amount cannot exceed the requested amount", Validate(s)["approved_amount"])

	s = Reduce(s, SetLoanTerms{RequestedAmount: dec(900000), ApprovedAmount: dec(600000)})
	assert.Equal(t, "approved amount must be at most 500000.00", Validate(s)["approved_amount"])

	s = Reduce(s, SetLoanTerms{ApprovedAmount: dec(5000)})
	assert.Equal(t, "approved amount must be at least 10000.00", Validate(s)["approved_amount"])

	s = Reduce(s, SetFinancials{MonthlyIncome: decimal.NewFromInt(1000), MonthlyExpenses: decimal.NewFromInt(2000)})
	assert.Equal(t, "monthly expenses exceed monthly income", Validate(s)["monthly_expenses"])
}

func TestBankDetails(t *testing.T) {
	s := Reduce(NewState(officer), SetBankDetails{BankName: "Commercial Bank", AccountNumber: "12345", ConfirmAccountNumber: "1234"})
	assert.Equal(t, "Commercial Bank account numbers must be 10 digits", s.Errors["account_number"])
	assert.Equal(t, "account numbers do not match", s.Errors["confirm_account_number"])

	s = Reduce(s, SetBankDetails{BankName: "Commercial Bank", AccountNumber: "1234567890"})
	assert.NotContains(t, s.Errors, "account_number")
	assert.NotContains(t, s.Errors, "confirm_account_number")
	assert.Equal(t, "please re-enter the account number", Validate(s)["confirm_account_number"])
}

func TestGoToStep(t *testing.T) {
	s := Reduce(NewState(officer), GoToStep{Step: StepReview})
	assert.Equal(t, StepProduct, s.Step)
	assert.Contains(t, s.Errors, "product_id")

	s = Reduce(s, GoToStep{Step: StepDocuments})
	assert.Equal(t, StepDocuments, s.Step)

	s = Reduce(s, GoToStep{Step: StepSubmitted})
	assert.Equal(t, StepDocuments, s.Step)
	assert.Contains(t, s.Errors, "step")

	s = Reduce(completeState(t), GoToStep{Step: StepReview})
	assert.Equal(t, StepReview, s.Step)
}

func TestSubmittingIgnoresEdits(t *testing.T) {
	s := Reduce(completeState(t), SubmitStarted{})
	after := Reduce(s, SelectCenter{CenterID: "ce2"})
	assert.Equal(t, "ce1", after.Form.CenterID)
	assert.Equal(t, StatusSubmitting, after.Status)
}

func TestReview(t *testing.T) {
	eligible, err := reloan.Evaluate(35, 48, decimal.NewFromInt(5000))
	require.NoError(t, err)
	eligible.ProductID = "p1"

	s := Reduce(completeState(t), SelectCustomer{Customer: record(members[0], &eligible)})
	sum := Review(s)

	require.Len(t, sum.Deductions, 3)
	assert.Equal(t, "Processing fee", sum.Deductions[0].Label)
	assert.Equal(t, "Reloan settlement", sum.Deductions[2].Label)
	assert.Equal(t, "5000.00", sum.Deductions[2].Amount.StringFixed(2))
	assert.Equal(t, "Nirmala Silva", sum.Guarantors[0].Name)
	assert.Equal(t, "Kamal", sum.Witnesses[0].Name)
	assert.Equal(t, "Sunil", sum.Witnesses[1].Name)
	assert.True(t, sum.Ready)
	require.NotNil(t, sum.Reloan)
	assert.Equal(t, "72.9", sum.ReloanProgress)

	// Review shows stored values as they are.
	s.Form.TotalPayable = decimal.NewFromInt(1)
	assert.Equal(t, "1", Review(s).TotalPayable.String())

	plain := Review(completeState(t))
	assert.Len(t, plain.Deductions, 2)
	assert.Nil(t, plain.Reloan)
	assert.Empty(t, plain.ReloanProgress)
	assert.Len(t, plain.Documents, 4)
}

func TestRebuild(t *testing.T) {
	s := completeState(t)
	form := s.Form.Clone()
	form.NetDisbursable = decimal.NewFromInt(1)

	rebuilt := Rebuild(form, officer, &product, s.Customer, members, &witness)
	assert.Equal(t, s.Form.Quote(), rebuilt.Form.Quote())
	assert.Empty(t, Validate(rebuilt))
}
