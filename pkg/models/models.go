package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleManager      Role = "manager"
	RoleFieldOfficer Role = "field_officer"
)

// Staff is a back-office user. Staff members create applications and act as witnesses.
type Staff struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      Role     `json:"role"`
	CenterIDs []string `json:"center_ids,omitempty"` // Centers a field officer is assigned to
}

type Center struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	FieldOfficerID string `json:"field_officer_id"`
}

type Group struct {
	ID       string `json:"id"`
	CenterID string `json:"center_id"`
	Name     string `json:"name"`
}

// MaxGroupMembers is the number of customer slots in a lending group.
const MaxGroupMembers = 3

type Customer struct {
	ID              string          `json:"id"`
	NIC             string          `json:"nic"`
	FullName        string          `json:"full_name"`
	CenterID        string          `json:"center_id"`
	GroupID         string          `json:"group_id"`
	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ProductCategory string

const (
	CategoryBusiness    ProductCategory = "business"
	CategoryConsumption ProductCategory = "consumption"
	CategoryStaff       ProductCategory = "staff"
)

// LoanProduct is reference data. Selecting a product fixes the rate and rental type of an application.
type LoanProduct struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         ProductCategory `json:"category"`
	InterestRate     decimal.Decimal `json:"interest_rate"` // Flat percentage over the whole tenure
	TermType         string          `json:"term_type"`     // e.g., "weekly"
	Tenure           int             `json:"tenure"`        // Default number of periods
	RentalType       string          `json:"rental_type"`
	MinAmount        decimal.Decimal `json:"min_amount"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	DocumentationFee decimal.Decimal `json:"documentation_fee"`
}

// ReloanEligibility describes a customer's progress on an active loan.
type ReloanEligibility struct {
	LoanID          uuid.UUID       `json:"loan_id"`
	ProductID       string          `json:"product_id"`
	IsEligible      bool            `json:"is_eligible"`
	Progress        decimal.Decimal `json:"progress"` // Percentage, full precision
	PaidWeeks       int             `json:"paid_weeks"`
	TotalWeeks      int             `json:"total_weeks"`
	Balance         decimal.Decimal `json:"balance"`
	DeductionAmount decimal.Decimal `json:"deduction_amount"`
	ShortfallWeeks  int             `json:"shortfall_weeks"`
}

// CustomerRecord is a read-only snapshot of a customer taken at selection time.
// Reloans holds one entry per active loan, at most one per product.
type CustomerRecord struct {
	Customer
	Gender  string              `json:"gender,omitempty"`
	Reloans []ReloanEligibility `json:"reloans,omitempty"`
}

// ReloanFor returns the reloan position on the customer's active loan of a product.
func (c CustomerRecord) ReloanFor(productID string) *ReloanEligibility {
	if productID == "" {
		return nil
	}
	for i := range c.Reloans {
		if c.Reloans[i].ProductID == productID {
			return &c.Reloans[i]
		}
	}
	return nil
}

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "active"
	LoanStatusClosed  LoanStatus = "closed"
	LoanStatusSettled LoanStatus = "settled" // Closed by deduction from a reloan
)

type Loan struct {
	ID            uuid.UUID       `json:"id"`
	ApplicationID uuid.UUID       `json:"application_id"`
	CustomerID    string          `json:"customer_id"`
	ProductID     string          `json:"product_id"`
	Principal     decimal.Decimal `json:"principal"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	TotalPayable  decimal.Decimal `json:"total_payable"`
	Rental        decimal.Decimal `json:"rental"`
	Balance       decimal.Decimal `json:"balance"`
	TenureWeeks   int             `json:"tenure_weeks"`
	PaidWeeks     int             `json:"paid_weeks"`
	Status        LoanStatus      `json:"status"`
	DisbursedAt   time.Time       `json:"disbursed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDisbursement     TransactionType = "disbursement"
	TransactionTypeCollection       TransactionType = "collection"
	TransactionTypeFee              TransactionType = "fee"
	TransactionTypeReloanSettlement TransactionType = "reloan_settlement"
)

type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// Application is a submitted loan application. Form holds the JSON encoded form data.
type Application struct {
	ID          uuid.UUID  `json:"id"`
	CustomerID  string     `json:"customer_id"`
	ProductID   string     `json:"product_id"`
	CreatedBy   string     `json:"created_by"`
	LoanID      *uuid.UUID `json:"loan_id,omitempty"`
	Form        []byte     `json:"-"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// StoredDocument is a persisted attachment of an application or customer.
type StoredDocument struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	ApplicationID uuid.UUID `json:"application_id"`
	Type          string    `json:"type"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	Data          []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
