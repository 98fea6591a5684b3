package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/config"
	"github.com/mcclellann/loandesk/pkg/directory"
	"github.com/mcclellann/loandesk/pkg/events"
	"github.com/mcclellann/loandesk/pkg/ledger"
	"github.com/mcclellann/loandesk/pkg/metrics"
	"github.com/mcclellann/loandesk/pkg/models"
	"github.com/mcclellann/loandesk/pkg/origination"
	"github.com/mcclellann/loandesk/pkg/store"
	"github.com/mcclellann/loandesk/pkg/validation"
	"github.com/mcclellann/loandesk/pkg/wizard"
)

// Server holds the services behind the HTTP API.
type Server struct {
	storage     store.Storage
	dir         *directory.Service
	ledger      *ledger.Ledger
	origination *origination.Service
	drafts      *wizard.Drafts
	finder      wizard.CustomerFinder
	issuer      *auth.Issuer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	origins     []string
	maxUpload   int64
}

func NewServer(cfg *config.Config, s store.Storage, pub events.Publisher, logger *slog.Logger) *Server {
	m := metrics.New()
	l := ledger.NewLedger(s, logger)
	dir := directory.NewService(s, s, logger)
	orig := origination.NewService(s, dir, l, pub, m, logger)
	finder := &countingFinder{dir: dir, lookups: m.NICLookups}

	return &Server{
		storage:     s,
		dir:         dir,
		ledger:      l,
		origination: orig,
		drafts: wizard.NewDrafts(finder, orig, wizard.Options{
			Debounce:      cfg.NICLookupDebounce(),
			LookupTimeout: cfg.NICLookupTimeout(),
			Logger:        logger,
		}),
		finder:    finder,
		issuer:    auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL()),
		metrics:   m,
		logger:    logger,
		origins:   cfg.AllowedOrigins(),
		maxUpload: cfg.MaxUploadBytes(),
	}
}

// countingFinder records the outcome of every NIC lookup.
type countingFinder struct {
	dir     *directory.Service
	lookups *prometheus.CounterVec
}

func (f *countingFinder) FindByNIC(ctx context.Context, sess auth.Session, nic string) (*directory.Lookup, error) {
	found, err := f.dir.FindByNIC(ctx, sess, nic)
	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, directory.ErrNoSuchRecord):
		outcome = metrics.OutcomeNotFound
	case errors.Is(err, validation.ErrNICFormat), errors.Is(err, validation.ErrNICDay), errors.Is(err, directory.ErrAmbiguous):
		outcome = metrics.OutcomeRejected
	case err != nil:
		outcome = metrics.OutcomeError
	}
	f.lookups.WithLabelValues(outcome).Inc()
	return found, err
}

func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	router.HandleFunc("/auth/login", s.loginHandler).Methods("POST")

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.issuer.Middleware)

	api.HandleFunc("/products", s.listProductsHandler).Methods("GET")
	api.HandleFunc("/banks", s.listBanksHandler).Methods("GET")
	api.HandleFunc("/centers", s.listCentersHandler).Methods("GET")
	api.HandleFunc("/centers/{id}/groups", s.listGroupsHandler).Methods("GET")
	api.HandleFunc("/groups/{id}/customers", s.listGroupMembersHandler).Methods("GET")
	api.HandleFunc("/staff", s.listStaffHandler).Methods("GET")
	api.HandleFunc("/customers/lookup", s.lookupCustomerHandler).Methods("GET")

	api.HandleFunc("/applications/drafts", s.createDraftHandler).Methods("POST")
	api.HandleFunc("/applications/drafts/{id}", s.getDraftHandler).Methods("GET")
	api.HandleFunc("/applications/drafts/{id}", s.deleteDraftHandler).Methods("DELETE")
	api.HandleFunc("/applications/drafts/{id}/actions", s.draftActionHandler).Methods("POST")
	api.HandleFunc("/applications/drafts/{id}/nic", s.draftNICHandler).Methods("POST")
	api.HandleFunc("/applications/drafts/{id}/documents/{type}", s.uploadDocumentHandler).Methods("PUT")
	api.HandleFunc("/applications/drafts/{id}/documents/{type}", s.clearDocumentHandler).Methods("DELETE")
	api.HandleFunc("/applications/drafts/{id}/review", s.reviewDraftHandler).Methods("GET")
	api.HandleFunc("/applications/drafts/{id}/submit", s.submitDraftHandler).Methods("POST")

	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/collections", s.recordCollectionHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/transactions", s.listTransactionsHandler).Methods("GET")

	return cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(router)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, directory.ErrNoSuchRecord),
		errors.Is(err, wizard.ErrDraftNotFound):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, directory.ErrAmbiguous),
		errors.Is(err, wizard.ErrSubmitInProgress),
		errors.Is(err, ledger.ErrLoanNotActive):
		return http.StatusConflict
	case errors.Is(err, validation.ErrNICFormat),
		errors.Is(err, validation.ErrNICDay),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func session(r *http.Request) auth.Session {
	sess, _ := auth.FromContext(r.Context())
	return sess
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "drafts": s.drafts.Len()})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StaffID  string `json:"staff_id"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, sess, err := s.issuer.Login(r.Context(), s.storage, req.StaffID, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		s.logger.Warn("login failed", "staff_id", req.StaffID)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": sess})
}

func (s *Server) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	products, err := s.dir.Products(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) listBanksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.Banks())
}

func (s *Server) listCentersHandler(w http.ResponseWriter, r *http.Request) {
	centers, err := s.dir.Centers(r.Context(), session(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, centers)
}

func (s *Server) listGroupsHandler(w http.ResponseWriter, r *http.Request) {
	groups, err := s.dir.Groups(r.Context(), session(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) listGroupMembersHandler(w http.ResponseWriter, r *http.Request) {
	_, members, err := s.dir.Group(r.Context(), session(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) listStaffHandler(w http.ResponseWriter, r *http.Request) {
	staff, err := s.dir.Staff(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (s *Server) lookupCustomerHandler(w http.ResponseWriter, r *http.Request) {
	nic := r.URL.Query().Get("nic")
	if nic == "" {
		http.Error(w, "nic query parameter is required", http.StatusBadRequest)
		return
	}
	found, err := s.finder.FindByNIC(r.Context(), session(r), nic)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func loanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// loan loads the loan named in the path. Loans of customers outside the
// session's centers are forbidden.
func (s *Server) loan(w http.ResponseWriter, r *http.Request) (*models.Loan, bool) {
	id, ok := loanID(w, r)
	if !ok {
		return nil, false
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err == nil {
		err = s.dir.CheckCustomer(r.Context(), session(r), loan.CustomerID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return loan, true
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	ctx, sess := r.Context(), session(r)
	loans, err := s.ledger.GetAllLoans(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	visible := map[string]bool{}
	out := make([]*models.Loan, 0, len(loans))
	for _, loan := range loans {
		ok, seen := visible[loan.CustomerID]
		if !seen {
			err := s.dir.CheckCustomer(ctx, sess, loan.CustomerID)
			switch {
			case err == nil:
				ok = true
			case !errors.Is(err, directory.ErrForbidden):
				s.writeError(w, r, err)
				return
			}
			visible[loan.CustomerID] = ok
		}
		if ok {
			out = append(out, loan)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.loan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) recordCollectionHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.loan(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := s.ledger.RecordCollection(r.Context(), loan.ID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.Collections.Inc()
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.loan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ledger.CollectionSchedule(loan, loan.DisbursedAt))
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	loan, ok := s.loan(w, r)
	if !ok {
		return
	}
	txs, err := s.ledger.GetTransactions(r.Context(), loan.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
