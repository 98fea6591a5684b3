package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loandesk/pkg/calculator"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	ErrLoanNotActive   = errors.New("loan is not active")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrSettlementDrift = errors.New("settlement amount does not match outstanding balance")
)

// Ledger handles the business logic for loans and transactions.
type Ledger struct {
	storage store.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{storage: s, logger: logger, now: time.Now}
}

// WithStorage returns a ledger bound to another storage, typically a transaction.
func (l *Ledger) WithStorage(s store.Storage) *Ledger {
	return &Ledger{storage: s, logger: l.logger, now: l.now}
}

// Disbursement describes a new loan issued from an approved application.
type Disbursement struct {
	ApplicationID uuid.UUID
	CustomerID    string
	ProductID     string
	Principal     decimal.Decimal
	InterestRate  decimal.Decimal
	TenureWeeks   int
	Quote         calculator.Quote
}

// Disburse creates the loan and records the cash handed out and the fees withheld.
func (l *Ledger) Disburse(ctx context.Context, d Disbursement) (*models.Loan, error) {
	if !d.Quote.NetDisbursable.IsPositive() {
		return nil, fmt.Errorf("net disbursable %s: %w", d.Quote.NetDisbursable.StringFixed(2), ErrInvalidAmount)
	}
	now := l.now()
	loan := &models.Loan{
		ID:            uuid.New(),
		ApplicationID: d.ApplicationID,
		CustomerID:    d.CustomerID,
		ProductID:     d.ProductID,
		Principal:     d.Principal,
		InterestRate:  d.InterestRate,
		TotalPayable:  d.Quote.TotalPayable,
		Rental:        d.Quote.Rental,
		Balance:       d.Quote.TotalPayable,
		TenureWeeks:   d.TenureWeeks,
		Status:        models.LoanStatusActive,
		DisbursedAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	txs := []*models.Transaction{
		{ID: uuid.New(), LoanID: loan.ID, Amount: d.Quote.NetDisbursable, Type: models.TransactionTypeDisbursement, Timestamp: now},
	}
	if fees := d.Quote.ProcessingFee.Add(d.Quote.DocumentationFee); fees.IsPositive() {
		txs = append(txs, &models.Transaction{ID: uuid.New(), LoanID: loan.ID, Amount: fees, Type: models.TransactionTypeFee, Timestamp: now})
	}
	for _, tx := range txs {
		if err := l.storage.CreateTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to store %s transaction: %w", tx.Type, err)
		}
	}

	l.logger.Info("loan disbursed", "loan_id", loan.ID, "customer_id", loan.CustomerID, "net", d.Quote.NetDisbursable.StringFixed(2))
	return loan, nil
}

// RecordCollection processes a weekly collection for a loan.
func (l *Ledger) RecordCollection(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, ErrLoanNotActive
	}

	loan.Balance = loan.Balance.Sub(amount)
	loan.UpdatedAt = l.now()

	// If balance is 0 or negative, close the loan
	if loan.Balance.LessThanOrEqual(decimal.Zero) {
		loan.Status = models.LoanStatusClosed
		loan.Balance = decimal.Zero
	}
	loan.PaidWeeks = PaidWeeks(loan)

	if err := l.storage.UpdateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to update loan balance: %w", err)
	}

	transaction := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    amount,
		Type:      models.TransactionTypeCollection,
		Timestamp: loan.UpdatedAt,
	}
	if err := l.storage.CreateTransaction(ctx, transaction); err != nil {
		return nil, fmt.Errorf("failed to store collection transaction: %w", err)
	}

	l.logger.Info("collection recorded", "loan_id", loan.ID, "amount", amount.StringFixed(2), "paid_weeks", loan.PaidWeeks, "balance", loan.Balance.StringFixed(2))
	return transaction, nil
}

// PaidWeeks counts the whole rentals covered by what has been repaid so far.
func PaidWeeks(loan *models.Loan) int {
	if loan.Balance.IsZero() {
		return loan.TenureWeeks
	}
	if !loan.Rental.IsPositive() {
		return 0
	}
	repaid := loan.TotalPayable.Sub(loan.Balance)
	weeks := int(repaid.Div(loan.Rental).Floor().IntPart())
	if weeks > loan.TenureWeeks {
		weeks = loan.TenureWeeks
	}
	if weeks < 0 {
		weeks = 0
	}
	return weeks
}

// SettleForReloan closes an active loan with a deduction taken from a new loan.
// amount must equal the outstanding balance.
func (l *Ledger) SettleForReloan(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) error {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Status != models.LoanStatusActive {
		return ErrLoanNotActive
	}
	if !loan.Balance.Equal(amount) {
		return fmt.Errorf("loan %s balance %s, deduction %s: %w", loan.ID, loan.Balance.StringFixed(2), amount.StringFixed(2), ErrSettlementDrift)
	}

	loan.Balance = decimal.Zero
	loan.Status = models.LoanStatusSettled
	loan.UpdatedAt = l.now()
	if err := l.storage.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to settle loan: %w", err)
	}

	transaction := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    amount,
		Type:      models.TransactionTypeReloanSettlement,
		Timestamp: loan.UpdatedAt,
	}
	if err := l.storage.CreateTransaction(ctx, transaction); err != nil {
		return fmt.Errorf("failed to store settlement transaction: %w", err)
	}

	l.logger.Info("loan settled by reloan", "loan_id", loan.ID, "amount", amount.StringFixed(2))
	return nil
}

// ActiveLoanForCustomer returns the customer's active loan of a product, or nil.
func (l *Ledger) ActiveLoanForCustomer(ctx context.Context, customerID, productID string) (*models.Loan, error) {
	loans, err := l.storage.GetActiveLoansForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if productID == "" || loan.ProductID == productID {
			return loan, nil
		}
	}
	return nil, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx)
}

// GetTransactions lists the transactions of a loan in time order.
func (l *Ledger) GetTransactions(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetTransactionsForLoan(ctx, loanID)
}
