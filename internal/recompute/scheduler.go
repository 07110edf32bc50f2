package recompute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs recomputation cycles on a cron schedule.
type Scheduler struct {
	runner   *Runner
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler driving the given runner.
//
// Common cron expressions:
//   - "0 * * * *"    - Hourly
//   - "*/15 * * * *" - Every 15 minutes
//   - "0 6 * * *"    - Daily at 6 AM
//
// An empty schedule disables scheduling; cycles then run only on manual
// triggers.
func NewScheduler(runner *Runner, schedule string) *Scheduler {
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "recompute.scheduler"),
	}
}

// Start begins scheduled recomputation and runs one cycle immediately so a
// fresh deployment serves data without waiting for the first tick. The
// scheduler stops itself when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("recompute schedule not configured, manual triggers only")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runCycle(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule recompute: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("recompute scheduler started", "schedule", s.schedule)

	go s.runCycle(ctx)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if err := s.runner.Run(ctx); err != nil {
		s.logger.Error("scheduled recompute finished with errors", "error", err)
		return
	}
	s.logger.Debug("scheduled recompute completed")
}

// Stop stops the scheduler and waits for a running cycle to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		s.running = false
		s.logger.Info("recompute scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled recompute time, or nil when no
// schedule is active.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
