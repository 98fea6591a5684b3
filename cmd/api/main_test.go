package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/config"
	"github.com/mcclellann/loandesk/pkg/events"
	"github.com/mcclellann/loandesk/pkg/logging"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/store"
)

type testAPI struct {
	store   *store.SQLiteStore
	handler http.Handler
	officer string
	manager string
}

func setupTestServer(t *testing.T) *testAPI {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	seed(t, s)

	cfg := &config.Config{
		JWTSecret:           "test-secret",
		TokenTTLHours:       1,
		NICLookupDebounceMS: 10,
		NICLookupTimeoutMS:  1000,
		DraftIdleTTLMinutes: 60,
		CORSAllowedOrigins:  "http://localhost:3000",
		MaxUploadSizeMB:     1,
	}
	logger := logging.New(io.Discard, logging.Config{Level: "error"})
	server := NewServer(cfg, s, events.NoopPublisher{Logger: logger}, logger)

	issue := func(sess auth.Session) string {
		token, err := server.issuer.Issue(sess)
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
		return token
	}
	return &testAPI{
		store:   s,
		handler: server.Routes(),
		officer: issue(auth.Session{StaffID: "st1", Name: "Kamal", Role: models.RoleFieldOfficer, CenterIDs: []string{"ce1"}}),
		manager: issue(auth.Session{StaffID: "st2", Name: "Sunil", Role: models.RoleManager}),
	}
}

func seed(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		if err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}
	must(s.CreateStaff(ctx, &models.Staff{ID: "st1", Name: "Kamal", Role: models.RoleFieldOfficer, CenterIDs: []string{"ce1"}}))
	must(s.CreateStaff(ctx, &models.Staff{ID: "st2", Name: "Sunil", Role: models.RoleManager}))
	hash, err := auth.HashPassword("collect-on-monday")
	must(err)
	must(s.SetStaffPassword(ctx, "st1", hash))
	must(s.CreateCenter(ctx, &models.Center{ID: "ce1", Name: "Galle", FieldOfficerID: "st1"}))
	must(s.CreateCenter(ctx, &models.Center{ID: "ce2", Name: "Matara"}))
	must(s.CreateGroup(ctx, &models.Group{ID: "g1", CenterID: "ce1", Name: "Lotus"}))
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, c := range []*models.Customer{
		{ID: "c1", NIC: "853400937V", FullName: "Anula Perera", CenterID: "ce1", GroupID: "g1",
			MonthlyIncome: decimal.NewFromInt(60000), MonthlyExpenses: decimal.NewFromInt(20000)},
		{ID: "c2", NIC: "926021234X", FullName: "Nirmala Silva", CenterID: "ce1", GroupID: "g1"},
		{ID: "c3", NIC: "199856101234", FullName: "Chandra Fernando", CenterID: "ce1", GroupID: "g1"},
	} {
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		must(s.CreateCustomer(ctx, c))
	}
	must(s.CreateProduct(ctx, &models.LoanProduct{
		ID: "p1", Name: "Business 48", Category: models.CategoryBusiness, InterestRate: decimal.NewFromInt(20),
		TermType: "weekly", Tenure: 48, RentalType: "weekly",
		MinAmount: decimal.NewFromInt(10000), MaxAmount: decimal.NewFromInt(500000), DocumentationFee: decimal.NewFromInt(500),
	}))
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) upload(t *testing.T, path, token, name string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("\xff\xd8\xff\xe0 scanned page"))
	mw.Close()

	req := httptest.NewRequest("PUT", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d. Body: %s", want, rr.Code, rr.Body.String())
	}
}

type draftBody struct {
	ID    string `json:"id"`
	State struct {
		Step   string            `json:"step"`
		Status string            `json:"status"`
		Errors map[string]string `json:"errors"`
		Form   struct {
			CustomerID     string          `json:"customer_id"`
			NetDisbursable decimal.Decimal `json:"net_disbursable"`
		} `json:"form"`
	} `json:"state"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func TestAPI_RequiresToken(t *testing.T) {
	api := setupTestServer(t)

	expectStatus(t, api.do(t, "GET", "/products", "", nil), http.StatusUnauthorized)
	expectStatus(t, api.do(t, "GET", "/products", "not-a-token", nil), http.StatusUnauthorized)
	expectStatus(t, api.do(t, "GET", "/health", "", nil), http.StatusOK)
}

func TestAPI_Login(t *testing.T) {
	api := setupTestServer(t)

	rr := api.do(t, "POST", "/auth/login", "", map[string]string{"staff_id": "st1", "password": "collect-on-monday"})
	expectStatus(t, rr, http.StatusOK)
	body := decode[struct {
		Token string `json:"token"`
	}](t, rr)
	expectStatus(t, api.do(t, "GET", "/products", body.Token, nil), http.StatusOK)

	rr = api.do(t, "POST", "/auth/login", "", map[string]string{"staff_id": "st1", "password": "wrong-password"})
	expectStatus(t, rr, http.StatusUnauthorized)
	rr = api.do(t, "POST", "/auth/login", "", map[string]string{"staff_id": "st2", "password": "collect-on-monday"})
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestAPI_CentersScopedBySession(t *testing.T) {
	api := setupTestServer(t)

	rr := api.do(t, "GET", "/centers", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	if centers := decode[[]models.Center](t, rr); len(centers) != 1 || centers[0].ID != "ce1" {
		t.Errorf("Expected only ce1, got %+v", centers)
	}

	rr = api.do(t, "GET", "/centers", api.manager, nil)
	if centers := decode[[]models.Center](t, rr); len(centers) != 2 {
		t.Errorf("Expected 2 centers for manager, got %d", len(centers))
	}

	expectStatus(t, api.do(t, "GET", "/centers/ce2/groups", api.officer, nil), http.StatusForbidden)

	rr = api.do(t, "GET", "/groups/g1/customers", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	if members := decode[[]models.Customer](t, rr); len(members) != 3 {
		t.Errorf("Expected 3 members, got %d", len(members))
	}
}

func TestAPI_CustomerLookup(t *testing.T) {
	api := setupTestServer(t)

	rr := api.do(t, "GET", "/customers/lookup?nic=853400937V", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	found := decode[struct {
		Customer models.CustomerRecord `json:"customer"`
	}](t, rr)
	if found.Customer.ID != "c1" {
		t.Errorf("Expected c1, got %q", found.Customer.ID)
	}

	expectStatus(t, api.do(t, "GET", "/customers/lookup?nic=12AB", api.officer, nil), http.StatusBadRequest)
	expectStatus(t, api.do(t, "GET", "/customers/lookup?nic=700011111X", api.officer, nil), http.StatusNotFound)

	rr = api.do(t, "GET", "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `loandesk_nic_lookups_total{outcome="not_found"} 1`) {
		t.Errorf("Expected lookup counter in metrics output")
	}
}

func TestAPI_DraftFlow(t *testing.T) {
	api := setupTestServer(t)

	rr := api.do(t, "POST", "/applications/drafts", api.officer, nil)
	expectStatus(t, rr, http.StatusCreated)
	draft := decode[draftBody](t, rr)
	base := "/applications/drafts/" + draft.ID

	for _, action := range []map[string]any{
		{"type": "select_product", "id": "p1"},
		{"type": "select_center", "id": "ce1"},
		{"type": "select_group", "id": "g1"},
		{"type": "select_customer", "id": "c1"},
		{"type": "set_witness2", "id": "st2"},
		{"type": "set_loan_terms", "requested_amount": 120000, "approved_amount": 100000},
		{"type": "set_bank_details", "bank_name": "Commercial Bank", "bank_branch": "Kandy",
			"account_number": "1234567890", "confirm_account_number": "1234567890"},
	} {
		rr = api.do(t, "POST", base+"/actions", api.officer, action)
		expectStatus(t, rr, http.StatusOK)
	}
	state := decode[draftBody](t, rr).State
	if state.Form.CustomerID != "c1" {
		t.Fatalf("Expected customer c1, got %q", state.Form.CustomerID)
	}
	if !state.Form.NetDisbursable.Equal(decimal.NewFromInt(95500)) {
		t.Errorf("Expected net 95500, got %s", state.Form.NetDisbursable)
	}

	for _, doc := range []string{"nic_front", "nic_back", "photo", "business_registration"} {
		expectStatus(t, api.upload(t, base+"/documents/"+doc, api.officer, doc+".jpg"), http.StatusOK)
	}

	rr = api.do(t, "GET", base+"/review", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	if review := decode[struct {
		Ready bool `json:"ready"`
	}](t, rr); !review.Ready {
		t.Fatalf("Expected review to be ready: %s", rr.Body.String())
	}

	expectStatus(t, api.do(t, "GET", base, api.manager, nil), http.StatusNotFound)

	rr = api.do(t, "POST", base+"/submit", api.officer, nil)
	expectStatus(t, rr, http.StatusCreated)
	receipt := decode[struct {
		LoanID         string          `json:"loan_id"`
		NetDisbursable decimal.Decimal `json:"net_disbursable"`
	}](t, rr)
	if !receipt.NetDisbursable.Equal(decimal.NewFromInt(95500)) {
		t.Errorf("Expected receipt net 95500, got %s", receipt.NetDisbursable)
	}

	expectStatus(t, api.do(t, "GET", base, api.officer, nil), http.StatusNotFound)

	rr = api.do(t, "GET", "/loans/"+receipt.LoanID+"/schedule", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	if schedule := decode[[]json.RawMessage](t, rr); len(schedule) != 48 {
		t.Errorf("Expected 48 installments, got %d", len(schedule))
	}

	rr = api.do(t, "POST", "/loans/"+receipt.LoanID+"/collections", api.officer, map[string]any{"amount": 2500})
	expectStatus(t, rr, http.StatusCreated)
	rr = api.do(t, "GET", "/loans/"+receipt.LoanID+"/transactions", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	if txs := decode[[]models.Transaction](t, rr); len(txs) < 2 {
		t.Errorf("Expected disbursement and collection transactions, got %d", len(txs))
	}
}

func TestAPI_SubmitIncompleteDraft(t *testing.T) {
	api := setupTestServer(t)

	draft := decode[draftBody](t, api.do(t, "POST", "/applications/drafts", api.officer, nil))
	rr := api.do(t, "POST", "/applications/drafts/"+draft.ID+"/submit", api.officer, nil)
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	body := decode[struct {
		Fields map[string]string `json:"fields"`
		State  struct {
			Step string `json:"step"`
		} `json:"state"`
	}](t, rr)
	if _, ok := body.Fields["product_id"]; !ok {
		t.Errorf("Expected product_id error, got %v", body.Fields)
	}
	if body.State.Step != "product" {
		t.Errorf("Expected to be sent back to the product step, got %q", body.State.Step)
	}
}

func TestAPI_DraftActionErrors(t *testing.T) {
	api := setupTestServer(t)

	draft := decode[draftBody](t, api.do(t, "POST", "/applications/drafts", api.officer, nil))
	base := "/applications/drafts/" + draft.ID

	expectStatus(t, api.do(t, "POST", base+"/actions", api.officer, map[string]any{"type": "launch"}), http.StatusBadRequest)
	expectStatus(t, api.do(t, "POST", base+"/actions", api.officer, map[string]any{"type": "select_center", "id": "ce2"}), http.StatusForbidden)
	expectStatus(t, api.do(t, "POST", base+"/actions", api.officer, map[string]any{"type": "select_product", "id": "p9"}), http.StatusNotFound)
	expectStatus(t, api.upload(t, base+"/documents/passport", api.officer, "p.jpg"), http.StatusBadRequest)
	expectStatus(t, api.do(t, "GET", "/applications/drafts/missing", api.officer, nil), http.StatusNotFound)
}

func TestAPI_DraftNICLookup(t *testing.T) {
	api := setupTestServer(t)

	draft := decode[draftBody](t, api.do(t, "POST", "/applications/drafts", api.officer, nil))
	base := "/applications/drafts/" + draft.ID
	api.do(t, "POST", base+"/actions", api.officer, map[string]any{"type": "select_product", "id": "p1"})

	rr := api.do(t, "POST", base+"/nic", api.officer, map[string]any{"nic": "853400937V", "wait": true})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[draftBody](t, rr).State.Form.CustomerID; got != "c1" {
		t.Errorf("Expected lookup to select c1, got %q", got)
	}

	rr = api.do(t, "POST", base+"/nic", api.officer, map[string]any{"nic": "926021234X"})
	expectStatus(t, rr, http.StatusAccepted)
}

func TestAPI_LoansScopedBySession(t *testing.T) {
	api := setupTestServer(t)
	ctx := context.Background()
	if err := api.store.CreateGroup(ctx, &models.Group{ID: "g2", CenterID: "ce2", Name: "Jasmine"}); err != nil {
		t.Fatal(err)
	}
	if err := api.store.CreateCustomer(ctx, &models.Customer{ID: "c4", NIC: "887654321V", FullName: "Sita Kumari", CenterID: "ce2", GroupID: "g2"}); err != nil {
		t.Fatal(err)
	}
	newLoan := func(customerID string) *models.Loan {
		now := time.Now()
		loan := &models.Loan{
			ID: uuid.New(), ApplicationID: uuid.New(), CustomerID: customerID, ProductID: "p1",
			Principal: decimal.NewFromInt(40000), InterestRate: decimal.NewFromInt(20),
			TotalPayable: decimal.NewFromInt(48000), Rental: decimal.NewFromInt(1000), Balance: decimal.NewFromInt(48000),
			TenureWeeks: 48, Status: models.LoanStatusActive, DisbursedAt: now, CreatedAt: now, UpdatedAt: now,
		}
		if err := api.store.CreateLoan(ctx, loan); err != nil {
			t.Fatal(err)
		}
		return loan
	}
	own, foreign := newLoan("c1"), newLoan("c4")

	rr := api.do(t, "GET", "/loans", api.officer, nil)
	expectStatus(t, rr, http.StatusOK)
	if loans := decode[[]models.Loan](t, rr); len(loans) != 1 || loans[0].ID != own.ID {
		t.Fatalf("Expected only the officer's loan, got %+v", loans)
	}
	rr = api.do(t, "GET", "/loans", api.manager, nil)
	expectStatus(t, rr, http.StatusOK)
	if loans := decode[[]models.Loan](t, rr); len(loans) != 2 {
		t.Fatalf("Expected 2 loans for a manager, got %d", len(loans))
	}

	path := "/loans/" + foreign.ID.String()
	expectStatus(t, api.do(t, "GET", path, api.officer, nil), http.StatusForbidden)
	expectStatus(t, api.do(t, "GET", path+"/schedule", api.officer, nil), http.StatusForbidden)
	expectStatus(t, api.do(t, "GET", path+"/transactions", api.officer, nil), http.StatusForbidden)
	expectStatus(t, api.do(t, "POST", path+"/collections", api.officer, map[string]string{"amount": "1000"}), http.StatusForbidden)
	expectStatus(t, api.do(t, "GET", path, api.manager, nil), http.StatusOK)

	loan, err := api.store.GetLoan(ctx, foreign.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loan.PaidWeeks != 0 || !loan.Balance.Equal(decimal.NewFromInt(48000)) {
		t.Errorf("Forbidden collection changed the loan: %+v", loan)
	}
	expectStatus(t, api.do(t, "GET", "/loans/"+own.ID.String(), api.officer, nil), http.StatusOK)
}
