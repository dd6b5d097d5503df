package session

import (
	"fmt"
	"time"
)

// Config contains configuration for the session aggregator.
type Config struct {
	// Lanes is the number of ingest lanes events are sharded onto by actor
	// key. More lanes raise cross-actor parallelism. Default: 16.
	Lanes int

	// LaneBuffer is the channel buffer per lane. Default: 64.
	LaneBuffer int

	// IdleTimeout is the inactivity window: a session with no new events
	// for this long is finalized by the sweep. Default: 30m.
	IdleTimeout time.Duration

	// SweepSchedule is the cron schedule for the finalization sweep.
	// Default: "@every 1m".
	SweepSchedule string

	// BurstWindow is the sub-window for request rate anomaly detection.
	// Default: 1m.
	BurstWindow time.Duration

	// BurstThreshold is the event count within BurstWindow above which the
	// burst_traffic pattern is tagged. Default: 30.
	BurstThreshold int

	// MaxDistinctModels is the number of distinct providers plus models a
	// session may touch before the model_hopping pattern is tagged.
	// Default: 5.
	MaxDistinctModels int

	// RiskLevelWindow limits risk level derivation to the most recent N
	// events. Zero considers every event in the session. Default: 0.
	RiskLevelWindow int
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() *Config {
	return &Config{
		Lanes:             16,
		LaneBuffer:        64,
		IdleTimeout:       30 * time.Minute,
		SweepSchedule:     "@every 1m",
		BurstWindow:       time.Minute,
		BurstThreshold:    30,
		MaxDistinctModels: 5,
		RiskLevelWindow:   0,
	}
}

// Validate validates the aggregator configuration.
func (c *Config) Validate() error {
	if c.Lanes <= 0 {
		return fmt.Errorf("lanes must be positive")
	}
	if c.LaneBuffer < 0 {
		return fmt.Errorf("lane buffer cannot be negative")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.BurstWindow <= 0 {
		return fmt.Errorf("burst window must be positive")
	}
	if c.BurstThreshold <= 0 {
		return fmt.Errorf("burst threshold must be positive")
	}
	if c.MaxDistinctModels <= 0 {
		return fmt.Errorf("max distinct models must be positive")
	}
	if c.RiskLevelWindow < 0 {
		return fmt.Errorf("risk level window cannot be negative")
	}
	return nil
}

// WithIdleTimeout sets the inactivity window.
func (c *Config) WithIdleTimeout(d time.Duration) *Config {
	c.IdleTimeout = d
	return c
}

// WithLanes sets the lane count.
func (c *Config) WithLanes(n int) *Config {
	c.Lanes = n
	return c
}
