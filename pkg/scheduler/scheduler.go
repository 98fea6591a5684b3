// Package scheduler runs the service's periodic jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

// DraftSweeper discards drafts idle since before cutoff.
type DraftSweeper interface {
	Sweep(cutoff time.Time) int
}

type Scheduler struct {
	cron     *cron.Cron
	drafts   DraftSweeper
	idleTTL  time.Duration
	schedule string
	swept    prometheus.Counter
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler builds a scheduler; swept may be nil.
func NewScheduler(drafts DraftSweeper, idleTTL time.Duration, schedule string, swept prometheus.Counter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		drafts:   drafts,
		idleTTL:  idleTTL,
		schedule: schedule,
		swept:    swept,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.SweepIdleDrafts); err != nil {
		return fmt.Errorf("failed to schedule draft sweep %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled draft sweep", "schedule", s.schedule, "idle_ttl", s.idleTTL)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepIdleDrafts discards drafts nobody has touched within the idle TTL.
func (s *Scheduler) SweepIdleDrafts() {
	n := s.drafts.Sweep(s.now().Add(-s.idleTTL))
	if n == 0 {
		return
	}
	if s.swept != nil {
		s.swept.Add(float64(n))
	}
	s.logger.Info("expired idle drafts", "count", n)
}
