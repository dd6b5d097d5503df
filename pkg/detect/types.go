package detect

import (
	"strings"
	"time"

	"github.com/flagwise/flagwise/pkg/rules"
)

// Pair is one prompt/response exchange submitted for scoring.
type Pair struct {
	// RequestID identifies the stored request record this evaluation
	// belongs to. Assigned by the caller (the pipeline) before scoring.
	RequestID string `json:"request_id"`

	// ChatbotID identifies the monitored chatbot, when the pair came in
	// through the chatbot monitoring endpoint.
	ChatbotID string `json:"chatbot_id,omitempty"`

	// ConversationID groups pairs belonging to one chatbot conversation.
	ConversationID string `json:"conversation_id,omitempty"`

	// SrcIP is the actor key for session aggregation. Either SrcIP or
	// UserID must be present.
	SrcIP string `json:"src_ip,omitempty"`

	// UserID is the external user identifier, used as the actor key when
	// SrcIP is absent.
	UserID string `json:"user_id,omitempty"`

	// Provider is the LLM provider identifier (e.g. "openai").
	Provider string `json:"provider,omitempty"`

	// Model is the declared model identifier, tested by model_restriction
	// rules.
	Model string `json:"model,omitempty"`

	// Prompt is the user input text.
	Prompt string `json:"prompt"`

	// Response is the model output text.
	Response string `json:"response"`

	// Timestamp is when the exchange occurred.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries caller-supplied key/value context. It is stored
	// with the request record but never evaluated by rules.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ActorKey returns the session key for the pair: source IP when present,
// otherwise the external user ID.
func (p *Pair) ActorKey() string {
	if p.SrcIP != "" {
		return p.SrcIP
	}
	return p.UserID
}

// Result is the outcome of scoring one pair. It is created once per
// evaluation and never mutated afterwards.
type Result struct {
	// RiskScore is the capped sum of matched rules' points, in [0,100].
	RiskScore int `json:"risk_score"`

	// IsFlagged is true when the score crossed the flag threshold or a
	// stop_on_match rule matched.
	IsFlagged bool `json:"is_flagged"`

	// FlagReasons lists matched-rule descriptions in evaluation order.
	FlagReasons []string `json:"flag_reasons,omitempty"`

	// MatchedRuleIDs lists the IDs of rules that matched, in evaluation
	// order.
	MatchedRuleIDs []string `json:"matched_rule_ids,omitempty"`

	// Severity is the worst severity among matched rules, or empty when
	// nothing matched.
	Severity rules.Severity `json:"severity,omitempty"`

	// StopRuleID is the ID of the stop_on_match rule that terminated
	// evaluation, when one did.
	StopRuleID string `json:"stop_rule_id,omitempty"`

	// Diagnostics reports rules that were skipped this evaluation because
	// of definition errors or timeouts. Non-fatal.
	Diagnostics []RuleDiagnostic `json:"diagnostics,omitempty"`

	// SnapshotVersion records which rule snapshot produced this result.
	SnapshotVersion uint64 `json:"snapshot_version"`

	// EvaluationTime is how long the evaluation took.
	EvaluationTime time.Duration `json:"evaluation_time"`
}

// FlagReason joins the ordered reasons for display, matching the flat
// flag_reason column on stored request records.
func (r *Result) FlagReason() string {
	return strings.Join(r.FlagReasons, "; ")
}

// RuleDiagnostic describes a rule that could not be evaluated.
type RuleDiagnostic struct {
	// RuleID is the offending rule.
	RuleID string `json:"rule_id"`

	// Kind is "pattern_error" or "timeout".
	Kind string `json:"kind"`

	// Detail is the human-readable failure description.
	Detail string `json:"detail"`
}

const (
	// DiagnosticPatternError marks a rule skipped for a bad definition.
	DiagnosticPatternError = "pattern_error"

	// DiagnosticTimeout marks a rule whose matcher exceeded its bound.
	DiagnosticTimeout = "timeout"
)
