package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the stale execution sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically fails orphaned executions through SweepStale.
type Sweeper struct {
	service  *Execution
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSweeper validates schedule, a standard cron expression or descriptor.
func NewSweeper(service *Execution, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", schedule, err)
	}

	return &Sweeper{
		service:  service,
		schedule: schedule,
		logger:   logger.With("module", "stale_sweeper"),
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Started stale execution sweeper", "schedule", s.schedule)

	return nil
}

// Sweep runs one pass and reports how many executions were failed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	swept, err := s.service.SweepStale(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale execution sweep failed", "error", err)

		return 0
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "Failed stale executions", "count", swept)
	}

	return swept
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Stopped stale execution sweeper")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
