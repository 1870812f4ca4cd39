package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ArticlesPodcast/internal/ports"
)

// DefaultBudget bounds one background run.
const DefaultBudget = 30 * time.Second

// Scheduler wires the cron-like driver with background recovery.
type Scheduler struct {
	driver       ports.Scheduler
	orchestrator *Orchestrator
	budget       time.Duration
	logger       *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, orchestrator *Orchestrator, budget time.Duration, logger *slog.Logger) *Scheduler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, orchestrator: orchestrator, budget: budget, logger: logger}
}

// Start registers RecoverNext with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.orchestrator == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.RunOnce(ctx, trigger)
	})
}

// RunOnce performs one background unit within the budget. An expired budget
// leaves the item's persisted state as it was.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	started := time.Now()
	picked, err := s.orchestrator.RecoverNext(runCtx)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Debug("background run skipped, processor busy", "trigger", trigger)
	case errors.Is(err, ErrInterrupted):
		s.logger.Warn("background run expired", "budget", s.budget, "error", err)
	case err != nil:
		s.logger.Error("background run failed", "error", err)
	case picked:
		s.logger.Info("background run completed", "elapsed", time.Since(started))
	default:
		s.logger.Debug("background run found no work", "trigger", trigger)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
