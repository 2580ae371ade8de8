// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StaleRecoverer re-enqueues imports whose worker went away.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, staleAfter time.Duration, maxAttempts, limit int) (requeued, failed int, err error)
}

// ReaperConfig controls the stale import sweep.
type ReaperConfig struct {
	Schedule    string
	StaleAfter  time.Duration
	MaxAttempts int
	BatchSize   int
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	recoverer StaleRecoverer
	cfg       ReaperConfig
	logger    *slog.Logger
}

// NewScheduler creates a new job scheduler.
func NewScheduler(recoverer StaleRecoverer, cfg ReaperConfig, logger *slog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:      c,
		recoverer: recoverer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.reapStaleImports); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("reaper_schedule", s.cfg.Schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a sweep synchronously. Used at startup to pick up imports
// left behind by a previous process.
func (s *Scheduler) RunNow() {
	s.reapStaleImports()
}

func (s *Scheduler) reapStaleImports() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	requeued, failed, err := s.recoverer.RecoverStale(ctx, s.cfg.StaleAfter, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("stale import sweep failed",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Debug("stale import sweep finished",
		slog.Int("requeued", requeued),
		slog.Int("failed", failed),
	)
}
