package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/validation"
	"github.com/mcclellann/loandesk/pkg/wizard"
)

type draftResponse struct {
	ID            string       `json:"id"`
	State         wizard.State `json:"state"`
	Notifications []string     `json:"notifications,omitempty"`
}

type submitErrorResponse struct {
	Message string                 `json:"message"`
	Fields  validation.FieldErrors `json:"fields"`
	State   wizard.State           `json:"state"`
}

// actionRequest is the wire form of a wizard action. ID names the product,
// center, group, customer or staff member the action refers to.
type actionRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`

	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
	GuardianName    string          `json:"guardian_name"`
	GuardianNIC     string          `json:"guardian_nic"`
	Slot            int             `json:"slot"`

	RequestedAmount *decimal.Decimal `json:"requested_amount"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount"`
	InterestRate    *decimal.Decimal `json:"interest_rate"`
	Tenure          *int             `json:"tenure"`
	RentalType      *string          `json:"rental_type"`

	BankName             string `json:"bank_name"`
	BankBranch           string `json:"bank_branch"`
	AccountNumber        string `json:"account_number"`
	ConfirmAccountNumber string `json:"confirm_account_number"`

	DocumentType wizard.DocumentType `json:"document_type"`
	DocumentID   string              `json:"document_id"`
	Step         wizard.Step         `json:"step"`
}

var (
	errUnknownAction   = errors.New("unknown action type")
	errForbiddenCenter = errors.New("center is not assigned to you")
)

// toAction resolves the ids of req into the records the reducer works with.
func (s *Server) toAction(r *http.Request, sess auth.Session, req actionRequest) (wizard.Action, error) {
	ctx := r.Context()
	switch req.Type {
	case "select_product":
		p, err := s.dir.Product(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return wizard.SelectProduct{Product: *p}, nil
	case "select_center":
		if !sess.CanAccessCenter(req.ID) {
			return nil, fmt.Errorf("center %s: %w", req.ID, errForbiddenCenter)
		}
		return wizard.SelectCenter{CenterID: req.ID}, nil
	case "select_group":
		g, members, err := s.dir.Group(ctx, sess, req.ID)
		if err != nil {
			return nil, err
		}
		return wizard.SelectGroup{Group: *g, Members: members}, nil
	case "select_customer":
		c, err := s.dir.Customer(ctx, sess, req.ID)
		if err != nil {
			return nil, err
		}
		return wizard.SelectCustomer{Customer: *c}, nil
	case "set_financials":
		return wizard.SetFinancials{MonthlyIncome: req.MonthlyIncome, MonthlyExpenses: req.MonthlyExpenses}, nil
	case "set_guardian":
		return wizard.SetGuardian{Name: req.GuardianName, NIC: req.GuardianNIC}, nil
	case "set_guarantor":
		return wizard.SetGuarantor{Slot: req.Slot, CustomerID: req.ID}, nil
	case "set_witness2":
		st, err := s.dir.StaffMember(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return wizard.SetWitness2{Staff: *st}, nil
	case "set_loan_terms":
		return wizard.SetLoanTerms{
			RequestedAmount: req.RequestedAmount,
			ApprovedAmount:  req.ApprovedAmount,
			InterestRate:    req.InterestRate,
			Tenure:          req.Tenure,
			RentalType:      req.RentalType,
		}, nil
	case "set_bank_details":
		return wizard.SetBankDetails{
			BankName:             req.BankName,
			BankBranch:           req.BankBranch,
			AccountNumber:        req.AccountNumber,
			ConfirmAccountNumber: req.ConfirmAccountNumber,
		}, nil
	case "attach_document":
		return wizard.AttachExistingDocument{Type: req.DocumentType, ID: req.DocumentID}, nil
	case "clear_document":
		return wizard.ClearDocument{Type: req.DocumentType}, nil
	case "go_to_step":
		return wizard.GoToStep{Step: req.Step}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownAction, req.Type)
}

func (s *Server) draft(w http.ResponseWriter, r *http.Request) (string, *wizard.Controller, bool) {
	id := mux.Vars(r)["id"]
	c, err := s.drafts.Get(id, session(r))
	if err != nil {
		s.writeError(w, r, err)
		return "", nil, false
	}
	return id, c, true
}

func (s *Server) createDraftHandler(w http.ResponseWriter, r *http.Request) {
	id, c := s.drafts.Create(session(r))
	writeJSON(w, http.StatusCreated, draftResponse{ID: id, State: c.State()})
}

func (s *Server) getDraftHandler(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{ID: id, State: c.State(), Notifications: c.Notifications()})
}

func (s *Server) deleteDraftHandler(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.draft(w, r)
	if !ok {
		return
	}
	s.drafts.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) draftActionHandler(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action, err := s.toAction(r, session(r), req)
	switch {
	case errors.Is(err, errUnknownAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, errForbiddenCenter):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{ID: id, State: c.Dispatch(action), Notifications: c.Notifications()})
}

// draftNICHandler records a typed NIC. The lookup runs after the debounce
// delay unless the caller asks to wait for it.
func (s *Server) draftNICHandler(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	var req struct {
		NIC  string `json:"nic"`
		Wait bool   `json:"wait"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Wait {
		st := c.LookupNIC(r.Context(), req.NIC)
		writeJSON(w, http.StatusOK, draftResponse{ID: id, State: st, Notifications: c.Notifications()})
		return
	}
	c.EnterNIC(req.NIC)
	writeJSON(w, http.StatusAccepted, draftResponse{ID: id, State: c.State()})
}

func (s *Server) uploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	docType := wizard.DocumentType(mux.Vars(r)["type"])
	if !docType.Known() {
		http.Error(w, "unknown document type", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	st := c.Dispatch(wizard.StageDocument{
		Type: docType,
		File: wizard.StagedFile{Name: header.Filename, ContentType: contentType, Data: data},
	})
	writeJSON(w, http.StatusOK, draftResponse{ID: id, State: st})
}

func (s *Server) clearDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	st := c.Dispatch(wizard.ClearDocument{Type: wizard.DocumentType(mux.Vars(r)["type"])})
	writeJSON(w, http.StatusOK, draftResponse{ID: id, State: st})
}

func (s *Server) reviewDraftHandler(w http.ResponseWriter, r *http.Request) {
	_, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wizard.Review(c.State()))
}

func (s *Server) submitDraftHandler(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.draft(w, r)
	if !ok {
		return
	}
	receipt, err := c.Submit(r.Context())
	if err != nil {
		var se *wizard.SubmissionError
		switch {
		case errors.As(err, &se):
			writeJSON(w, http.StatusUnprocessableEntity, submitErrorResponse{Message: se.Message, Fields: se.Fields, State: c.State()})
		case errors.Is(err, wizard.ErrSubmitInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			s.logger.Error("submission failed", "draft_id", id, "error", err)
			writeJSON(w, http.StatusBadGateway, submitErrorResponse{Message: "submission failed, please try again", State: c.State()})
		}
		return
	}
	s.drafts.Delete(id)
	writeJSON(w, http.StatusCreated, receipt)
}
