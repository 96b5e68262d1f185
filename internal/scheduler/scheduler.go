package scheduler

import (
	"context"
	"log/slog"
	"time"

	"feed_relay/internal/domain"
)

// Runner performs one pass over every source.
type Runner interface {
	Run(ctx context.Context) (*domain.RunStats, error)
}

type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewScheduler creates a scheduler. A zero runTimeout lets a run take as
// long as the parent context allows.
func NewScheduler(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start runs immediately and then on every tick until ctx is cancelled.
// Runs never overlap: a tick that arrives during a run is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "run_timeout", s.runTimeout)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	syncCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	stats, err := s.runner.Run(syncCtx)
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		return
	}
	if stats != nil {
		s.logger.Debug("run finished", "run_id", stats.RunID, "duration", stats.Duration)
	}
}
