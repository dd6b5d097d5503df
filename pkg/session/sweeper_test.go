package session

import (
	"context"
	"testing"
)

func TestSweeper_StartStop(t *testing.T) {
	agg := newTestAggregator(t, nil, nil)

	s := NewSweeper(agg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	s.Stop()

	// Stop again must be a no-op.
	s.Stop()
}

func TestSweeper_RejectsInvalidSchedule(t *testing.T) {
	config := DefaultConfig()
	config.SweepSchedule = "every other tuesday"
	agg := newTestAggregator(t, config, nil)

	s := NewSweeper(agg)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should reject an invalid cron schedule")
	}
}

func TestSweeper_EmptyScheduleIsNoop(t *testing.T) {
	config := DefaultConfig()
	config.SweepSchedule = ""
	agg := newTestAggregator(t, config, nil)

	s := NewSweeper(agg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() with empty schedule failed: %v", err)
	}
	s.Stop()
}
