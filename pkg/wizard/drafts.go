package wizard

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcclellann/loandesk/pkg/auth"
)

var ErrDraftNotFound = errors.New("draft not found")

// Drafts keeps the open wizard sessions, each owned by the staff member who created it.
type Drafts struct {
	mu        sync.Mutex
	sessions  map[string]*Controller
	finder    CustomerFinder
	submitter Submitter
	opts      Options
}

func NewDrafts(finder CustomerFinder, submitter Submitter, opts Options) *Drafts {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Drafts{
		sessions:  make(map[string]*Controller),
		finder:    finder,
		submitter: submitter,
		opts:      opts,
	}
}

// Create opens a new draft for sess.
func (d *Drafts) Create(sess auth.Session) (string, *Controller) {
	id := uuid.New().String()
	c := NewController(sess, d.finder, d.submitter, d.opts)
	d.mu.Lock()
	d.sessions[id] = c
	d.mu.Unlock()
	d.opts.Logger.Info("draft opened", "draft_id", id, "staff_id", sess.StaffID)
	return id, c
}

// Get returns the draft with the given id if it belongs to sess.
func (d *Drafts) Get(id string, sess auth.Session) (*Controller, error) {
	d.mu.Lock()
	c, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok || c.Session().StaffID != sess.StaffID {
		return nil, ErrDraftNotFound
	}
	return c, nil
}

func (d *Drafts) Delete(id string) {
	d.mu.Lock()
	c, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (d *Drafts) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Sweep closes drafts idle since before cutoff and returns how many were removed.
func (d *Drafts) Sweep(cutoff time.Time) int {
	d.mu.Lock()
	var stale []*Controller
	for id, c := range d.sessions {
		if c.LastActive().Before(cutoff) && c.State().Status != StatusSubmitting {
			stale = append(stale, c)
			delete(d.sessions, id)
		}
	}
	d.mu.Unlock()
	for _, c := range stale {
		c.Close()
	}
	return len(stale)
}
