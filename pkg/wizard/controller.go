package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/directory"
	"github.com/mcclellann/loandesk/pkg/validation"
)

const (
	DefaultDebounce      = 400 * time.Millisecond
	DefaultLookupTimeout = 10 * time.Second
)

var ErrSubmitInProgress = errors.New("a submission is already in progress")

// CustomerFinder resolves an NIC to a single customer.
type CustomerFinder interface {
	FindByNIC(ctx context.Context, sess auth.Session, nic string) (*directory.Lookup, error)
}

// Submitter persists a completed application.
type Submitter interface {
	Submit(ctx context.Context, sess auth.Session, form FormData) (*Receipt, error)
}

// Receipt confirms a stored application and its disbursed loan.
type Receipt struct {
	ApplicationID  uuid.UUID       `json:"application_id"`
	LoanID         uuid.UUID       `json:"loan_id"`
	CustomerID     string          `json:"customer_id"`
	NetDisbursable decimal.Decimal `json:"net_disbursable"`
	SettledLoanID  *uuid.UUID      `json:"settled_loan_id,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
}

// SubmissionError is a rejected submission with messages keyed by form field.
type SubmissionError struct {
	Message string
	Fields  validation.FieldErrors
}

func (e *SubmissionError) Error() string {
	if e.Fields.Empty() {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Fields)
}

type Options struct {
	Debounce      time.Duration
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

// Controller owns the state of one wizard session. Dispatch is the only way
// the state changes; concurrent callers are serialized and the last writer wins.
type Controller struct {
	mu            sync.Mutex
	sess          auth.Session
	state         State
	finder        CustomerFinder
	submitter     Submitter
	logger        *slog.Logger
	debounce      time.Duration
	lookupTimeout time.Duration
	timer         *time.Timer
	notes         []string
	lastActive    time.Time
	closed        bool
}

func NewController(sess auth.Session, finder CustomerFinder, submitter Submitter, opts Options) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		sess:          sess,
		state:         NewState(sess),
		finder:        finder,
		submitter:     submitter,
		logger:        opts.Logger,
		debounce:      opts.Debounce,
		lookupTimeout: opts.LookupTimeout,
		lastActive:    time.Now(),
	}
}

func (c *Controller) Session() auth.Session {
	return c.sess
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// LastActive is the time of the last applied action.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Controller) Dispatch(a Action) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(a)
	return c.state.Clone()
}

// apply must be called with mu held.
func (c *Controller) apply(a Action) {
	c.state = Reduce(c.state, a)
	c.lastActive = time.Now()
}

func (c *Controller) notify(msg string) {
	c.notes = append(c.notes, msg)
}

// Notifications drains the pending non-blocking messages.
func (c *Controller) Notifications() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notes
	c.notes = nil
	return out
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close cancels a pending lookup. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimer()
	c.closed = true
}

// LookupNIC records nic and resolves it immediately.
func (c *Controller) LookupNIC(ctx context.Context, nic string) State {
	c.mu.Lock()
	if c.state.Status == StatusSubmitting {
		defer c.mu.Unlock()
		return c.state.Clone()
	}
	c.stopTimer()
	c.apply(NICEntered{NIC: nic})
	seq, invalid := c.state.LookupSeq, c.state.Errors.Has("nic")
	c.mu.Unlock()

	if !invalid {
		c.resolve(ctx, nic, seq)
	}
	return c.State()
}

// EnterNIC records a keystroke in the NIC field. A lookup starts once the
// field has been quiet for the debounce interval; each new keystroke restarts it.
func (c *Controller) EnterNIC(nic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusSubmitting {
		return
	}
	c.stopTimer()
	c.apply(NICEntered{NIC: nic})
	if c.closed || c.state.Errors.Has("nic") {
		return
	}
	seq := c.state.LookupSeq
	c.timer = time.AfterFunc(c.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.lookupTimeout)
		defer cancel()
		c.resolve(ctx, nic, seq)
	})
}

// resolve performs the lookup for seq and applies its outcome. Outcomes of
// superseded lookups are dropped by the reducer.
func (c *Controller) resolve(ctx context.Context, nic string, seq uint64) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("nic lookup panicked", "nic", nic, "panic", r)
			c.mu.Lock()
			defer c.mu.Unlock()
			c.fail(seq, "customer lookup failed", true)
		}
	}()

	res, err := c.finder.FindByNIC(ctx, c.sess, nic)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil && res != nil:
		c.apply(NICLookupSucceeded{Seq: seq, Lookup: *res})
	case err == nil, errors.Is(err, directory.ErrNoSuchRecord):
		c.fail(seq, "no customer found with this NIC", false)
	case errors.Is(err, directory.ErrAmbiguous):
		c.fail(seq, "more than one customer has this NIC; select the customer manually", false)
	case errors.Is(err, validation.ErrNICFormat), errors.Is(err, validation.ErrNICDay):
		c.fail(seq, err.Error(), false)
	default:
		c.logger.Warn("nic lookup failed", "nic", nic, "error", err)
		c.fail(seq, "customer lookup failed", true)
	}
}

// fail must be called with mu held.
func (c *Controller) fail(seq uint64, msg string, transient bool) {
	if seq != c.state.LookupSeq {
		return
	}
	c.apply(NICLookupFailed{Seq: seq, Message: msg})
	if transient {
		c.notify("Customer lookup is unavailable; select the customer manually")
	}
}

// Submit sends the completed application. On failure the form is restored
// exactly as it was and the wizard returns to review with the reported errors.
// On success the session state is discarded.
func (c *Controller) Submit(ctx context.Context) (*Receipt, error) {
	c.mu.Lock()
	if c.state.Status == StatusSubmitting {
		c.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	c.stopTimer()
	if errs := Validate(c.state); !errs.Empty() {
		c.apply(GoToStep{Step: StepReview})
		c.mu.Unlock()
		return nil, &SubmissionError{Message: "application is incomplete", Fields: errs}
	}
	snapshot := c.state.Clone()
	c.apply(SubmitStarted{})
	form := snapshot.Form.Clone()
	c.mu.Unlock()

	receipt, err := c.send(ctx, form)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		fields := validation.FieldErrors{}
		var se *SubmissionError
		if errors.As(err, &se) {
			fields.Merge(se.Fields)
			fields.Add("form", se.Message)
		} else {
			c.logger.Error("submission failed", "customer_id", form.CustomerID, "error", err)
			fields.Add("form", "submission failed, please try again")
			c.notify("The application could not be submitted; nothing was saved")
		}
		c.state = Reduce(snapshot, SubmitFailed{Errors: fields})
		c.lastActive = time.Now()
		return nil, err
	}
	c.apply(SubmitSucceeded{})
	return receipt, nil
}

func (c *Controller) send(ctx context.Context, form FormData) (receipt *Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submitter panicked: %v", r)
		}
	}()
	return c.submitter.Submit(ctx, c.sess, form)
}
