package alerting

import (
	"fmt"
	"time"
)

// Config contains configuration for the alert engine.
type Config struct {
	// Cooldown is the minimum time between repeated alerts for the same
	// (alert rule, actor) pairing while the earlier alert is new or
	// acknowledged. Default: 15m.
	Cooldown time.Duration

	// MaxWindow bounds how far back per-actor event history is kept for
	// threshold counting; threshold windows longer than this are clamped.
	// Default: 1h.
	MaxWindow time.Duration

	// CleanupInterval is how often expired dedup entries and idle actor
	// history are swept. Default: 5m.
	CleanupInterval time.Duration
}

// DefaultConfig returns the default alert engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Cooldown:        15 * time.Minute,
		MaxWindow:       time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Validate validates the alert engine configuration.
func (c *Config) Validate() error {
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive")
	}
	if c.MaxWindow <= 0 {
		return fmt.Errorf("max window must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	return nil
}

// WithCooldown sets the dedup cool-down window.
func (c *Config) WithCooldown(d time.Duration) *Config {
	c.Cooldown = d
	return c
}
