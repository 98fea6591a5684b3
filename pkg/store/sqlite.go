package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loandesk/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// A single connection keeps the PRAGMAs and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, q: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Decimal fields are stored as TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS centers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		field_officer_id TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS lending_groups (
		id TEXT PRIMARY KEY,
		center_id TEXT NOT NULL,
		name TEXT NOT NULL,
		FOREIGN KEY(center_id) REFERENCES centers(id)
	);
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		nic TEXT NOT NULL,
		full_name TEXT NOT NULL,
		center_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		monthly_income TEXT NOT NULL DEFAULT '0',
		monthly_expenses TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(center_id) REFERENCES centers(id),
		FOREIGN KEY(group_id) REFERENCES lending_groups(id)
	);
	CREATE INDEX IF NOT EXISTS idx_customers_nic ON customers(nic);
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		center_ids TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_type TEXT NOT NULL,
		tenure INTEGER NOT NULL,
		rental_type TEXT NOT NULL,
		min_amount TEXT NOT NULL,
		max_amount TEXT NOT NULL,
		documentation_fee TEXT NOT NULL DEFAULT '0'
	);
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		loan_id TEXT,
		form BLOB NOT NULL,
		submitted_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		total_payable TEXT NOT NULL,
		rental TEXT NOT NULL,
		balance TEXT NOT NULL,
		tenure_weeks INTEGER NOT NULL,
		paid_weeks INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		disbursed_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id, status);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		application_id TEXT NOT NULL,
		type TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithinTx runs fn against a store bound to a single database transaction.
// Calls made while already inside a transaction join it.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func checkAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// --- directory ---

func (s *SQLiteStore) CreateCenter(ctx context.Context, c *models.Center) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO centers (id, name, field_officer_id) VALUES (?, ?, ?)`, c.ID, c.Name, c.FieldOfficerID)
	if err != nil {
		return fmt.Errorf("failed to create center: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCenter(ctx context.Context, id string) (*models.Center, error) {
	var c models.Center
	err := s.q.QueryRowContext(ctx, `SELECT id, name, field_officer_id FROM centers WHERE id = ?`, id).Scan(&c.ID, &c.Name, &c.FieldOfficerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("center", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get center: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCenters(ctx context.Context) ([]*models.Center, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, field_officer_id FROM centers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list centers: %w", err)
	}
	defer rows.Close()

	var centers []*models.Center
	for rows.Next() {
		var c models.Center
		if err := rows.Scan(&c.ID, &c.Name, &c.FieldOfficerID); err != nil {
			return nil, fmt.Errorf("failed to scan center row: %w", err)
		}
		centers = append(centers, &c)
	}
	return centers, rows.Err()
}

func (s *SQLiteStore) CreateGroup(ctx context.Context, g *models.Group) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO lending_groups (id, center_id, name) VALUES (?, ?, ?)`, g.ID, g.CenterID, g.Name)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	err := s.q.QueryRowContext(ctx, `SELECT id, center_id, name FROM lending_groups WHERE id = ?`, id).Scan(&g.ID, &g.CenterID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("group", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

func (s *SQLiteStore) ListGroups(ctx context.Context, centerID string) ([]*models.Group, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, center_id, name FROM lending_groups WHERE center_id = ? ORDER BY name`, centerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.CenterID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// CreateCustomer inserts a customer, refusing a fourth member of a group.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return s.WithinTx(ctx, func(tx Storage) error {
		txs := tx.(*SQLiteStore)
		var members int
		if err := txs.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers WHERE group_id = ?`, c.GroupID).Scan(&members); err != nil {
			return fmt.Errorf("failed to count group members: %w", err)
		}
		if members >= models.MaxGroupMembers {
			return fmt.Errorf("group %s: %w", c.GroupID, ErrGroupFull)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		_, err := txs.q.ExecContext(ctx,
			`INSERT INTO customers (id, nic, full_name, center_id, group_id, monthly_income, monthly_expenses, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.NIC, c.FullName, c.CenterID, c.GroupID, c.MonthlyIncome, c.MonthlyExpenses, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		return nil
	})
}

const customerColumns = `id, nic, full_name, center_id, group_id, monthly_income, monthly_expenses, created_at`

func scanCustomer(sc interface{ Scan(...any) error }) (*models.Customer, error) {
	var c models.Customer
	err := sc.Scan(&c.ID, &c.NIC, &c.FullName, &c.CenterID, &c.GroupID, &c.MonthlyIncome, &c.MonthlyExpenses, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c, err := scanCustomer(s.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("customer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) queryCustomers(ctx context.Context, query string, args ...any) ([]*models.Customer, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]*models.Customer, error) {
	return s.queryCustomers(ctx, `SELECT `+customerColumns+` FROM customers WHERE group_id = ? ORDER BY created_at, id`, groupID)
}

// FindCustomersByNIC matches the NIC case-insensitively.
func (s *SQLiteStore) FindCustomersByNIC(ctx context.Context, nic string) ([]*models.Customer, error) {
	return s.queryCustomers(ctx, `SELECT `+customerColumns+` FROM customers WHERE UPPER(nic) = UPPER(?)`, strings.TrimSpace(nic))
}

func (s *SQLiteStore) CreateStaff(ctx context.Context, st *models.Staff) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO staff (id, name, role, center_ids) VALUES (?, ?, ?, ?)`,
		st.ID, st.Name, st.Role, strings.Join(st.CenterIDs, ","))
	if err != nil {
		return fmt.Errorf("failed to create staff: %w", err)
	}
	return nil
}

func scanStaff(sc interface{ Scan(...any) error }) (*models.Staff, error) {
	var st models.Staff
	var centers string
	if err := sc.Scan(&st.ID, &st.Name, &st.Role, &centers); err != nil {
		return nil, err
	}
	if centers != "" {
		st.CenterIDs = strings.Split(centers, ",")
	}
	return &st, nil
}

func (s *SQLiteStore) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	st, err := scanStaff(s.q.QueryRowContext(ctx, `SELECT id, name, role, center_ids FROM staff WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("staff", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, role, center_ids FROM staff ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var staff []*models.Staff
	for rows.Next() {
		st, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staff row: %w", err)
		}
		staff = append(staff, st)
	}
	return staff, rows.Err()
}

// SetStaffPassword stores a password hash for a staff member.
func (s *SQLiteStore) SetStaffPassword(ctx context.Context, id, hash string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE staff SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to set staff password: %w", err)
	}
	return checkAffected(result, "staff", id)
}

// GetStaffPasswordHash returns the stored hash; it is empty when no password was set.
func (s *SQLiteStore) GetStaffPasswordHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := s.q.QueryRowContext(ctx, `SELECT password_hash FROM staff WHERE id = ?`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("staff", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get staff password: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *models.LoanProduct) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO products (id, name, category, interest_rate, term_type, tenure, rental_type, min_amount, max_amount, documentation_fee)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, p.InterestRate, p.TermType, p.Tenure, p.RentalType, p.MinAmount, p.MaxAmount, p.DocumentationFee,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

const productColumns = `id, name, category, interest_rate, term_type, tenure, rental_type, min_amount, max_amount, documentation_fee`

func scanProduct(sc interface{ Scan(...any) error }) (*models.LoanProduct, error) {
	var p models.LoanProduct
	err := sc.Scan(&p.ID, &p.Name, &p.Category, &p.InterestRate, &p.TermType, &p.Tenure, &p.RentalType, &p.MinAmount, &p.MaxAmount, &p.DocumentationFee)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*models.LoanProduct, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.LoanProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// --- loans ---

const loanColumns = `id, application_id, customer_id, product_id, principal, interest_rate, total_payable, rental, balance, tenure_weeks, paid_weeks, status, disbursed_at, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.ApplicationID.String(), loan.CustomerID, loan.ProductID, loan.Principal, loan.InterestRate,
		loan.TotalPayable, loan.Rental, loan.Balance, loan.TenureWeeks, loan.PaidWeeks, loan.Status,
		loan.DisbursedAt, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func scanLoan(sc interface{ Scan(...any) error }) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr, appIDStr string
	err := sc.Scan(&loanIDStr, &appIDStr, &loan.CustomerID, &loan.ProductID, &loan.Principal, &loan.InterestRate,
		&loan.TotalPayable, &loan.Rental, &loan.Balance, &loan.TenureWeeks, &loan.PaidWeeks, &loan.Status,
		&loan.DisbursedAt, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(loanIDStr)
	loan.ApplicationID = uuid.MustParse(appIDStr)
	return &loan, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("loan", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates the mutable fields of an existing loan.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE loans SET balance = ?, paid_weeks = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.Balance, loan.PaidWeeks, loan.Status, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return checkAffected(result, "loan", loan.ID.String())
}

func (s *SQLiteStore) queryLoans(ctx context.Context, query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at`)
}

func (s *SQLiteStore) GetActiveLoansForCustomer(ctx context.Context, customerID string) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE customer_id = ? AND status = ? ORDER BY created_at`,
		customerID, models.LoanStatusActive)
}

// CreateTransaction inserts a new transaction into the database.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (id, loan_id, amount, type, timestamp) VALUES (?, ?, ?, ?, ?)`,
		transaction.ID.String(), transaction.LoanID.String(), transaction.Amount, transaction.Type, transaction.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s *SQLiteStore) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, loan_id, amount, type, timestamp FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		var txIDStr, loanIDStr string
		if err := rows.Scan(&txIDStr, &loanIDStr, &transaction.Amount, &transaction.Type, &transaction.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.ID = uuid.MustParse(txIDStr)
		transaction.LoanID = uuid.MustParse(loanIDStr)
		transactions = append(transactions, &transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// --- applications and documents ---

func (s *SQLiteStore) CreateApplication(ctx context.Context, app *models.Application) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO applications (id, customer_id, product_id, created_by, form, submitted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		app.ID.String(), app.CustomerID, app.ProductID, app.CreatedBy, app.Form, app.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var app models.Application
	var idStr string
	var loanID sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT id, customer_id, product_id, created_by, loan_id, form, submitted_at FROM applications WHERE id = ?`, id.String(),
	).Scan(&idStr, &app.CustomerID, &app.ProductID, &app.CreatedBy, &loanID, &app.Form, &app.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("application", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	app.ID = uuid.MustParse(idStr)
	if loanID.Valid {
		lid := uuid.MustParse(loanID.String)
		app.LoanID = &lid
	}
	return &app, nil
}

func (s *SQLiteStore) SetApplicationLoan(ctx context.Context, appID, loanID uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `UPDATE applications SET loan_id = ? WHERE id = ?`, loanID.String(), appID.String())
	if err != nil {
		return fmt.Errorf("failed to link application to loan: %w", err)
	}
	return checkAffected(result, "application", appID.String())
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *models.StoredDocument) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO documents (id, customer_id, application_id, type, file_name, content_type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CustomerID, doc.ApplicationID.String(), doc.Type, doc.FileName, doc.ContentType, doc.Data, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.StoredDocument, error) {
	var doc models.StoredDocument
	var appID string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, customer_id, application_id, type, file_name, content_type, data, created_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.CustomerID, &appID, &doc.Type, &doc.FileName, &doc.ContentType, &doc.Data, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.ApplicationID, _ = uuid.Parse(appID)
	return &doc, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return checkAffected(result, "document", id)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
