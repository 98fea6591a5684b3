// Package directory serves the reference data of the wizard (products, banks,
// centers, groups, staff) scoped by the caller's session, and looks customers up
// by NIC together with their reloan position.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/reloan"
	"github.com/mcclellann/loandesk/pkg/store"
	"github.com/mcclellann/loandesk/pkg/validation"
)

var (
	ErrAmbiguous    = errors.New("more than one customer matches")
	ErrForbidden    = errors.New("center is outside the session's assignment")
	ErrNoSuchRecord = errors.New("no matching record")
)

// LoanSource returns a customer's active loans.
type LoanSource interface {
	GetActiveLoansForCustomer(ctx context.Context, customerID string) ([]*models.Loan, error)
}

type Service struct {
	dir    store.Directory
	loans  LoanSource
	logger *slog.Logger
}

func NewService(dir store.Directory, loans LoanSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dir: dir, loans: loans, logger: logger}
}

func (s *Service) Products(ctx context.Context) ([]*models.LoanProduct, error) {
	return s.dir.ListProducts(ctx)
}

func (s *Service) Product(ctx context.Context, id string) (*models.LoanProduct, error) {
	return s.dir.GetProduct(ctx, id)
}

func (s *Service) Banks() []string {
	return validation.Banks()
}

// Centers lists the centers visible to the session.
func (s *Service) Centers(ctx context.Context, sess auth.Session) ([]*models.Center, error) {
	all, err := s.dir.ListCenters(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]*models.Center, 0, len(all))
	for _, c := range all {
		if sess.CanAccessCenter(c.ID) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

func (s *Service) Groups(ctx context.Context, sess auth.Session, centerID string) ([]*models.Group, error) {
	if !sess.CanAccessCenter(centerID) {
		return nil, ErrForbidden
	}
	return s.dir.ListGroups(ctx, centerID)
}

// Group returns a group and its members.
func (s *Service) Group(ctx context.Context, sess auth.Session, groupID string) (*models.Group, []models.Customer, error) {
	g, err := s.dir.GetGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if !sess.CanAccessCenter(g.CenterID) {
		return nil, nil, ErrForbidden
	}
	members, err := s.members(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	return g, members, nil
}

func (s *Service) members(ctx context.Context, groupID string) ([]models.Customer, error) {
	ptrs, err := s.dir.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]models.Customer, len(ptrs))
	for i, c := range ptrs {
		members[i] = *c
	}
	return members, nil
}

func (s *Service) Staff(ctx context.Context) ([]*models.Staff, error) {
	return s.dir.ListStaff(ctx)
}

func (s *Service) StaffMember(ctx context.Context, id string) (*models.Staff, error) {
	return s.dir.GetStaff(ctx, id)
}

// Customer loads a customer snapshot by id.
func (s *Service) Customer(ctx context.Context, sess auth.Session, id string) (*models.CustomerRecord, error) {
	c, err := s.dir.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.CanAccessCenter(c.CenterID) {
		return nil, ErrForbidden
	}
	return s.record(ctx, c)
}

// CheckCustomer returns ErrForbidden when the customer belongs to a center
// outside the session's assignment.
func (s *Service) CheckCustomer(ctx context.Context, sess auth.Session, id string) error {
	c, err := s.dir.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	if !sess.CanAccessCenter(c.CenterID) {
		return ErrForbidden
	}
	return nil
}

// Lookup is the result of a NIC search: the customer with its group.
type Lookup struct {
	Customer models.CustomerRecord `json:"customer"`
	Group    models.Group          `json:"group"`
	Members  []models.Customer     `json:"members"`
}

// FindByNIC returns the single customer holding nic. Zero matches give
// ErrNoSuchRecord, several give ErrAmbiguous.
func (s *Service) FindByNIC(ctx context.Context, sess auth.Session, nic string) (*Lookup, error) {
	if _, err := validation.ParseNIC(nic); err != nil {
		return nil, err
	}
	found, err := s.dir.FindCustomersByNIC(ctx, nic)
	if err != nil {
		return nil, err
	}
	var visible []*models.Customer
	for _, c := range found {
		if sess.CanAccessCenter(c.CenterID) {
			visible = append(visible, c)
		}
	}
	switch len(visible) {
	case 0:
		return nil, fmt.Errorf("nic %s: %w", nic, ErrNoSuchRecord)
	case 1:
	default:
		return nil, fmt.Errorf("nic %s: %w", nic, ErrAmbiguous)
	}

	rec, err := s.record(ctx, visible[0])
	if err != nil {
		return nil, err
	}
	g, err := s.dir.GetGroup(ctx, rec.GroupID)
	if err != nil {
		return nil, err
	}
	members, err := s.members(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return &Lookup{Customer: *rec, Group: *g, Members: members}, nil
}

// record attaches the derived gender and the reloan position of each of the
// customer's active loans.
func (s *Service) record(ctx context.Context, c *models.Customer) (*models.CustomerRecord, error) {
	rec := &models.CustomerRecord{Customer: *c}
	if g, err := validation.GenderOf(c.NIC); err == nil {
		rec.Gender = string(g)
	}
	loans, err := s.loans.GetActiveLoansForCustomer(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if rec.ReloanFor(loan.ProductID) != nil {
			s.logger.Warn("customer has more than one active loan of a product",
				"customer_id", c.ID, "product_id", loan.ProductID, "loan_id", loan.ID)
			continue
		}
		e, err := reloan.ForLoan(loan)
		if err != nil {
			return nil, err
		}
		rec.Reloans = append(rec.Reloans, e)
	}
	return rec, nil
}
