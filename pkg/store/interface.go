package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loandesk/pkg/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrGroupFull = errors.New("group already has the maximum number of members")
)

// Directory is the read side of centers, groups, customers, staff and products.
type Directory interface {
	GetCenter(ctx context.Context, id string) (*models.Center, error)
	ListCenters(ctx context.Context) ([]*models.Center, error)
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context, centerID string) ([]*models.Group, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]*models.Customer, error)
	FindCustomersByNIC(ctx context.Context, nic string) ([]*models.Customer, error)
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
	ListStaff(ctx context.Context) ([]*models.Staff, error)
	GetProduct(ctx context.Context, id string) (*models.LoanProduct, error)
	ListProducts(ctx context.Context) ([]*models.LoanProduct, error)
}

// Storage defines the interface for database operations of the back office.
type Storage interface {
	Directory

	CreateCenter(ctx context.Context, c *models.Center) error
	CreateGroup(ctx context.Context, g *models.Group) error
	CreateCustomer(ctx context.Context, c *models.Customer) error
	CreateStaff(ctx context.Context, s *models.Staff) error
	SetStaffPassword(ctx context.Context, id, hash string) error
	GetStaffPasswordHash(ctx context.Context, id string) (string, error)
	CreateProduct(ctx context.Context, p *models.LoanProduct) error

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetActiveLoansForCustomer(ctx context.Context, customerID string) ([]*models.Loan, error)

	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error)

	CreateApplication(ctx context.Context, app *models.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	SetApplicationLoan(ctx context.Context, appID, loanID uuid.UUID) error

	SaveDocument(ctx context.Context, doc *models.StoredDocument) error
	GetDocument(ctx context.Context, id string) (*models.StoredDocument, error)
	DeleteDocument(ctx context.Context, id string) error

	// WithinTx runs fn in a single transaction; fn must only use the Storage it is given.
	WithinTx(ctx context.Context, fn func(Storage) error) error

	Close() error
}
