// Package origination accepts completed loan applications: it re-validates them
// against stored reference data, stores the application and its documents,
// settles a previous loan on reloan and disburses the new loan in one transaction.
package origination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/calculator"
	"github.com/mcclellann/loandesk/pkg/directory"
	"github.com/mcclellann/loandesk/pkg/events"
	"github.com/mcclellann/loandesk/pkg/ledger"
	"github.com/mcclellann/loandesk/pkg/metrics"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/reloan"
	"github.com/mcclellann/loandesk/pkg/store"
	"github.com/mcclellann/loandesk/pkg/validation"
	"github.com/mcclellann/loandesk/pkg/wizard"
)

const msgRejected = "application rejected"

var errActiveLoanChanged = errors.New("active loan of the product changed")

type Service struct {
	store   store.Storage
	dir     *directory.Service
	ledger  *ledger.Ledger
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService wires the submission endpoint. pub and m may be nil.
func NewService(s store.Storage, dir *directory.Service, l *ledger.Ledger, pub events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.NoopPublisher{Logger: logger}
	}
	return &Service{store: s, dir: dir, ledger: l, events: pub, metrics: m, logger: logger, now: time.Now}
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) reject(fields validation.FieldErrors) error {
	s.count(metrics.OutcomeRejected)
	return &wizard.SubmissionError{Message: msgRejected, Fields: fields}
}

// Submit stores a completed application and disburses its loan.
func (s *Service) Submit(ctx context.Context, sess auth.Session, form wizard.FormData) (*wizard.Receipt, error) {
	state, fields, err := s.rebuild(ctx, sess, form)
	if err != nil {
		s.count(metrics.OutcomeError)
		return nil, err
	}
	if !fields.Empty() {
		return nil, s.reject(fields)
	}

	fields = wizard.Validate(state)
	if !quotesEqual(state.Form.Quote(), form.Quote()) {
		fields.Add("form", "calculated amounts are out of date; review the application again")
	}
	if err := s.checkDocuments(ctx, state); err != nil {
		var se *wizard.SubmissionError
		if !errors.As(err, &se) {
			s.count(metrics.OutcomeError)
			return nil, err
		}
		fields.Merge(se.Fields)
	}
	if !fields.Empty() {
		s.logger.Info("application rejected", "customer_id", form.CustomerID, "fields", fields.Fields())
		return nil, s.reject(fields)
	}

	receipt, err := s.persist(ctx, sess, state)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrSettlementDrift), errors.Is(err, ledger.ErrLoanNotActive), errors.Is(err, errActiveLoanChanged):
			return nil, s.reject(validation.FieldErrors{"product_id": "the previous loan changed since it was loaded; reload the customer"})
		case errors.Is(err, ledger.ErrInvalidAmount):
			return nil, s.reject(validation.FieldErrors{"net_disbursable": "nothing left to disburse after deductions"})
		}
		s.count(metrics.OutcomeError)
		s.logger.Error("failed to store application", "customer_id", form.CustomerID, "error", err)
		return nil, fmt.Errorf("failed to store application: %w", err)
	}

	s.count(metrics.OutcomeSuccess)
	if s.metrics != nil {
		s.metrics.Disbursed.Add(receipt.NetDisbursable.InexactFloat64())
	}
	s.publish(ctx, sess, state, receipt)
	s.logger.Info("application submitted",
		"application_id", receipt.ApplicationID, "loan_id", receipt.LoanID,
		"customer_id", receipt.CustomerID, "net", receipt.NetDisbursable.StringFixed(2))
	return receipt, nil
}

// rebuild loads the reference records the form points at. Unknown or
// inaccessible records are reported as field errors.
func (s *Service) rebuild(ctx context.Context, sess auth.Session, form wizard.FormData) (wizard.State, validation.FieldErrors, error) {
	fields := validation.FieldErrors{}
	lookup := func(field, msg string, err error) error {
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrNotFound):
			fields.Add(field, msg)
			return nil
		case errors.Is(err, directory.ErrForbidden):
			fields.Add(field, "outside the centers assigned to you")
			return nil
		}
		return err
	}

	var product *models.LoanProduct
	if form.ProductID != "" {
		p, err := s.dir.Product(ctx, form.ProductID)
		if err := lookup("product_id", "unknown loan product", err); err != nil {
			return wizard.State{}, nil, err
		}
		product = p
	}

	var customer *models.CustomerRecord
	if form.CustomerID != "" {
		c, err := s.dir.Customer(ctx, sess, form.CustomerID)
		if err := lookup("customer_id", "unknown customer", err); err != nil {
			return wizard.State{}, nil, err
		}
		customer = c
	}
	if customer != nil {
		if customer.GroupID != form.GroupID || customer.CenterID != form.CenterID {
			fields.Add("customer_id", "customer is not a member of the selected group")
		}
		if err := s.reloadReloan(ctx, customer, form.ProductID); err != nil {
			return wizard.State{}, nil, err
		}
	}

	var members []models.Customer
	if form.GroupID != "" {
		g, m, err := s.dir.Group(ctx, sess, form.GroupID)
		if err := lookup("group_id", "unknown group", err); err != nil {
			return wizard.State{}, nil, err
		}
		if g != nil && g.CenterID != form.CenterID {
			fields.Add("group_id", "group does not belong to the selected center")
		}
		members = m
	}

	if form.Witness1ID != sess.StaffID {
		fields.Add("witness1_id", "witness 1 must be the staff member submitting the application")
	}
	var witness2 *models.Staff
	if form.Witness2ID != "" {
		st, err := s.dir.StaffMember(ctx, form.Witness2ID)
		if err := lookup("witness2_id", "witness 2 must be a staff member", err); err != nil {
			return wizard.State{}, nil, err
		}
		witness2 = st
	}

	return wizard.Rebuild(form, sess, product, customer, members, witness2), fields, nil
}

// reloadReloan replaces the customer's reloan positions with a fresh one for
// the applied product, read from the ledger.
func (s *Service) reloadReloan(ctx context.Context, customer *models.CustomerRecord, productID string) error {
	customer.Reloans = nil
	if productID == "" {
		return nil
	}
	loan, err := s.ledger.ActiveLoanForCustomer(ctx, customer.ID, productID)
	if err != nil || loan == nil {
		return err
	}
	e, err := reloan.ForLoan(loan)
	if err != nil {
		return err
	}
	customer.Reloans = []models.ReloanEligibility{e}
	return nil
}

// checkDocuments verifies that referenced stored documents exist and belong to the customer.
func (s *Service) checkDocuments(ctx context.Context, state wizard.State) error {
	fields := validation.FieldErrors{}
	for t, doc := range state.Form.Documents {
		var id string
		switch d := doc.(type) {
		case wizard.ExistingDocument:
			id = d.ID
		case wizard.StagedFile:
			id = d.Replaces
		}
		if id == "" {
			continue
		}
		stored, err := s.store.GetDocument(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fields.Add("documents."+string(t), "stored document no longer exists")
		case err != nil:
			return err
		case stored.CustomerID != state.Form.CustomerID:
			fields.Add("documents."+string(t), "document belongs to another customer")
		}
	}
	if fields.Empty() {
		return nil
	}
	return &wizard.SubmissionError{Message: msgRejected, Fields: fields}
}

func (s *Service) persist(ctx context.Context, sess auth.Session, state wizard.State) (*wizard.Receipt, error) {
	form := state.Form
	now := s.now()
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	receipt := &wizard.Receipt{
		ApplicationID:  uuid.New(),
		CustomerID:     form.CustomerID,
		NetDisbursable: form.NetDisbursable,
		SubmittedAt:    now,
	}

	err = s.store.WithinTx(ctx, func(tx store.Storage) error {
		app := &models.Application{
			ID:          receipt.ApplicationID,
			CustomerID:  form.CustomerID,
			ProductID:   form.ProductID,
			CreatedBy:   sess.StaffID,
			Form:        body,
			SubmittedAt: now,
		}
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}

		for t, doc := range form.Documents {
			f, ok := doc.(wizard.StagedFile)
			if !ok {
				continue
			}
			stored := &models.StoredDocument{
				ID:            uuid.NewString(),
				CustomerID:    form.CustomerID,
				ApplicationID: app.ID,
				Type:          string(t),
				FileName:      f.Name,
				ContentType:   f.ContentType,
				Data:          f.Data,
				CreatedAt:     now,
			}
			if err := tx.SaveDocument(ctx, stored); err != nil {
				return err
			}
			if f.Replaces != "" {
				if err := tx.DeleteDocument(ctx, f.Replaces); err != nil {
					return fmt.Errorf("failed to delete replaced document: %w", err)
				}
			}
		}

		l := s.ledger.WithStorage(tx)
		r := state.Customer.ReloanFor(form.ProductID)
		active, err := l.ActiveLoanForCustomer(ctx, form.CustomerID, form.ProductID)
		if err != nil {
			return err
		}
		if active != nil && (r == nil || r.LoanID != active.ID) {
			return fmt.Errorf("loan %s: %w", active.ID, errActiveLoanChanged)
		}
		if r != nil && r.IsEligible {
			if err := l.SettleForReloan(ctx, r.LoanID, form.ReloanDeduction); err != nil {
				return err
			}
			settled := r.LoanID
			receipt.SettledLoanID = &settled
		}

		loan, err := l.Disburse(ctx, ledger.Disbursement{
			ApplicationID: app.ID,
			CustomerID:    form.CustomerID,
			ProductID:     form.ProductID,
			Principal:     form.ApprovedAmount,
			InterestRate:  form.InterestRate,
			TenureWeeks:   form.Tenure,
			Quote:         form.Quote(),
		})
		if err != nil {
			return err
		}
		receipt.LoanID = loan.ID
		return tx.SetApplicationLoan(ctx, app.ID, loan.ID)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Service) publish(ctx context.Context, sess auth.Session, state wizard.State, r *wizard.Receipt) {
	ev := events.ApplicationSubmitted{
		ApplicationID:  r.ApplicationID,
		LoanID:         r.LoanID,
		CustomerID:     r.CustomerID,
		ProductID:      state.Form.ProductID,
		CreatedBy:      sess.StaffID,
		Principal:      state.Form.ApprovedAmount,
		NetDisbursable: r.NetDisbursable,
		SettledLoanID:  r.SettledLoanID,
		SubmittedAt:    r.SubmittedAt,
	}
	if err := s.events.Publish(ctx, events.RoutingKeyApplicationSubmitted, ev); err != nil {
		if s.metrics != nil {
			s.metrics.EventFailures.Inc()
		}
		s.logger.Warn("failed to publish submission event", "application_id", r.ApplicationID, "error", err)
	}
}

func quotesEqual(a, b calculator.Quote) bool {
	return a.TotalPayable.Equal(b.TotalPayable) &&
		a.Rental.Equal(b.Rental) &&
		a.ProcessingFee.Equal(b.ProcessingFee) &&
		a.DocumentationFee.Equal(b.DocumentationFee) &&
		a.ReloanDeduction.Equal(b.ReloanDeduction) &&
		a.NetDisbursable.Equal(b.NetDisbursable)
}
