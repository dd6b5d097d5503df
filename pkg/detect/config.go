package detect

import (
	"fmt"
	"time"
)

// Config contains configuration for the detection engine.
type Config struct {
	// FlagThreshold is the risk score at or above which an event is
	// flagged. Default: 70.
	FlagThreshold int

	// ChatbotThresholds overrides FlagThreshold per chatbot ID.
	ChatbotThresholds map[string]int

	// RuleTimeout bounds a single rule's matcher so a pathological pattern
	// cannot stall the pipeline. A timed-out rule is treated as
	// non-matching and reported as a diagnostic. Default: 5ms.
	RuleTimeout time.Duration

	// MaxRules caps the number of rules evaluated per event, guarding
	// against runaway configuration. Default: 500.
	MaxRules int
}

// DefaultConfig returns the default detection engine configuration.
func DefaultConfig() *Config {
	return &Config{
		FlagThreshold: 70,
		RuleTimeout:   5 * time.Millisecond,
		MaxRules:      500,
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.FlagThreshold < 0 || c.FlagThreshold > 100 {
		return fmt.Errorf("flag threshold %d out of range [0,100]", c.FlagThreshold)
	}
	for id, t := range c.ChatbotThresholds {
		if t < 0 || t > 100 {
			return fmt.Errorf("flag threshold %d for chatbot %s out of range [0,100]", t, id)
		}
	}
	if c.RuleTimeout <= 0 {
		return fmt.Errorf("rule timeout must be positive")
	}
	if c.MaxRules <= 0 {
		return fmt.Errorf("max rules must be positive")
	}
	return nil
}

// WithFlagThreshold sets the global flag threshold.
func (c *Config) WithFlagThreshold(threshold int) *Config {
	c.FlagThreshold = threshold
	return c
}

// WithRuleTimeout sets the per-rule matcher timeout.
func (c *Config) WithRuleTimeout(timeout time.Duration) *Config {
	c.RuleTimeout = timeout
	return c
}

// thresholdFor returns the flag threshold for the given chatbot, falling
// back to the global threshold.
func (c *Config) thresholdFor(chatbotID string) int {
	if chatbotID != "" {
		if t, ok := c.ChatbotThresholds[chatbotID]; ok {
			return t
		}
	}
	return c.FlagThreshold
}
