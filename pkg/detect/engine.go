package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flagwise/flagwise/pkg/rules"
)

// maxRiskScore caps the accumulated risk score.
const maxRiskScore = 100

// Engine scores prompt/response pairs against a rule snapshot.
// It holds no mutable state between evaluations and is safe for concurrent
// use.
type Engine struct {
	config *Config
	logger *slog.Logger
}

// NewEngine creates a detection engine.
func NewEngine(config *Config, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detect config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config: config,
		logger: logger.With("component", "detect.engine"),
	}, nil
}

// Evaluate scores one pair against the snapshot's detection rules.
//
// Rules run ascending by priority (ties by ID, the snapshot's order). A
// matching rule adds its points to the running total, capped at 100, and
// appends a reason. A matching stop_on_match rule terminates the walk and
// forces IsFlagged. Rules that failed to compile or exceed the per-rule
// timeout contribute nothing and are reported on Result.Diagnostics.
//
// The pair is validated before any scoring; an invalid pair produces a
// *ValidationError and no partial result.
func (e *Engine) Evaluate(ctx context.Context, pair *Pair, snap *rules.Snapshot) (*Result, error) {
	if err := ValidatePair(pair); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("rule snapshot cannot be nil")
	}

	start := time.Now()
	result := &Result{SnapshotVersion: snap.Version}

	evaluated := 0
	for _, rule := range snap.Detection {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if evaluated >= e.config.MaxRules {
			e.logger.Warn("rule limit reached, remaining rules skipped",
				"max_rules", e.config.MaxRules,
				"snapshot_version", snap.Version,
			)
			break
		}
		evaluated++

		if rule.Err != nil {
			result.Diagnostics = append(result.Diagnostics, RuleDiagnostic{
				RuleID: rule.ID,
				Kind:   DiagnosticPatternError,
				Detail: rule.Err.Error(),
			})
			continue
		}

		outcome, timedOut := e.matchWithTimeout(ctx, rule, pair)
		if timedOut {
			e.logger.Warn("rule matcher timed out, treated as non-matching",
				"rule_id", rule.ID,
				"timeout", e.config.RuleTimeout,
			)
			result.Diagnostics = append(result.Diagnostics, RuleDiagnostic{
				RuleID: rule.ID,
				Kind:   DiagnosticTimeout,
				Detail: fmt.Sprintf("matcher exceeded %v", e.config.RuleTimeout),
			})
			continue
		}
		if !outcome.matched {
			continue
		}

		result.RiskScore += rule.Points
		if result.RiskScore > maxRiskScore {
			result.RiskScore = maxRiskScore
		}
		result.FlagReasons = append(result.FlagReasons, reasonFor(rule, outcome))
		result.MatchedRuleIDs = append(result.MatchedRuleIDs, rule.ID)
		result.Severity = rules.MaxSeverity(result.Severity, rule.Severity)

		if rule.StopOnMatch {
			result.StopRuleID = rule.ID
			break
		}
	}

	threshold := e.config.thresholdFor(pair.ChatbotID)
	result.IsFlagged = result.StopRuleID != "" || result.RiskScore >= threshold
	result.EvaluationTime = time.Since(start)

	return result, nil
}

// matchWithTimeout runs the rule's matcher bounded by the configured
// per-rule timeout. A timed-out matcher keeps running in its goroutine until
// completion but its outcome is discarded.
func (e *Engine) matchWithTimeout(ctx context.Context, rule *rules.CompiledRule, pair *Pair) (matchOutcome, bool) {
	done := make(chan matchOutcome, 1)
	go func() {
		done <- matchRule(rule, pair)
	}()

	timer := time.NewTimer(e.config.RuleTimeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		return outcome, false
	case <-timer.C:
		return matchOutcome{}, true
	case <-ctx.Done():
		return matchOutcome{}, true
	}
}

// ValidatePair checks the required fields of a pair before scoring.
func ValidatePair(pair *Pair) error {
	if pair == nil {
		return &ValidationError{Field: "pair", Message: "pair cannot be nil"}
	}
	if pair.Prompt == "" && pair.Response == "" {
		return &ValidationError{Field: "prompt", Message: "prompt and response are both empty"}
	}
	if pair.ActorKey() == "" {
		return &ValidationError{Field: "src_ip", Message: "missing actor key (src_ip or user_id)"}
	}
	if pair.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "missing timestamp"}
	}
	return nil
}

// ValidationError indicates an input pair that was rejected before scoring.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pair: field %q: %s", e.Field, e.Message)
}
