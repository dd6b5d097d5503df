package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the aggregator's finalization sweep on a cron schedule.
// Finalization is a pure function of elapsed time since a session's last
// event; the sweep is the only path that seals sessions.
type Sweeper struct {
	aggregator *Aggregator
	cron       *cron.Cron
	schedule   string
	mu         sync.Mutex
	logger     *slog.Logger
	running    bool
}

// NewSweeper creates a finalization sweeper for the aggregator. The
// schedule comes from the aggregator's configuration.
func NewSweeper(aggregator *Aggregator) *Sweeper {
	return &Sweeper{
		aggregator: aggregator,
		cron:       cron.New(),
		schedule:   aggregator.config.SweepSchedule,
		logger:     slog.Default().With("component", "session.sweeper"),
	}
}

// Start begins scheduled sweeping. If the schedule is empty the sweeper
// does nothing.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping sweeper")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("session sweeper started",
		"schedule", s.schedule,
		"idle_timeout", s.aggregator.config.IdleTimeout,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runSweep executes one sweep cycle.
func (s *Sweeper) runSweep(ctx context.Context) {
	sealed := s.aggregator.Sweep(ctx, time.Now())
	if sealed > 0 {
		s.logger.Info("session sweep completed", "sealed_sessions", sealed)
	} else {
		s.logger.Debug("session sweep completed, nothing to seal")
	}
}

// Stop stops the sweeper and waits for a running sweep to complete.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("session sweeper stopped")
	}
}
