package session

import (
	"time"

	"github.com/flagwise/flagwise/pkg/rules"
)

// ScoredEvent is one evaluated prompt/response exchange entering the
// aggregator.
type ScoredEvent struct {
	// RequestID identifies the stored request record.
	RequestID string `json:"request_id"`

	// ActorKey identifies the actor (source IP or external user ID).
	ActorKey string `json:"actor_key"`

	// ChatbotID identifies the monitored chatbot, when known.
	ChatbotID string `json:"chatbot_id,omitempty"`

	// Provider and Model describe the LLM the exchange targeted.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Timestamp is when the exchange occurred.
	Timestamp time.Time `json:"timestamp"`

	// RiskScore is the detection engine's capped score.
	RiskScore int `json:"risk_score"`

	// IsFlagged is the detection engine's flag decision.
	IsFlagged bool `json:"is_flagged"`

	// MatchedRuleIDs lists the detection rules that matched.
	MatchedRuleIDs []string `json:"matched_rule_ids,omitempty"`
}

// Anomaly tags appended to a session's unusual patterns.
const (
	// PatternBurst marks a request rate exceeding the burst threshold
	// within the burst window.
	PatternBurst = "burst_traffic"

	// PatternModelHopping marks a session touching more distinct
	// providers/models than allowed.
	PatternModelHopping = "model_hopping"
)

// Session is the aggregate behavioral record for one actor over a bounded
// time window. The aggregator exclusively owns mutation; everything outside
// the owning lane only ever sees copies.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`

	// ActorKey is the session key (source IP or external user ID).
	ActorKey string `json:"actor_key"`

	// StartTime is the timestamp of the first event.
	StartTime time.Time `json:"start_time"`

	// EndTime is the timestamp of the most recent event.
	EndTime time.Time `json:"end_time"`

	// RequestCount is the number of events in the session.
	RequestCount int `json:"request_count"`

	// AvgRiskScore is the running mean risk score.
	AvgRiskScore float64 `json:"avg_risk_score"`

	// FlaggedCount is the number of flagged events.
	FlaggedCount int `json:"flagged_count"`

	// RiskBreakdown counts events per severity bucket, derived from each
	// event's risk score.
	RiskBreakdown map[rules.Severity]int `json:"risk_breakdown"`

	// RiskLevel is the worst severity bucket with a nonzero count among
	// the events considered (most recent N, default all).
	RiskLevel rules.Severity `json:"risk_level"`

	// UnusualPatterns lists anomaly tags, each appended at most once.
	UnusualPatterns []string `json:"unusual_patterns,omitempty"`

	// Providers and Models list the distinct providers and models touched,
	// in first-seen order.
	Providers []string `json:"providers,omitempty"`
	Models    []string `json:"models,omitempty"`

	// Finalized is true once the inactivity window elapsed and the session
	// was sealed. A finalized session never mutates again.
	Finalized bool `json:"finalized"`
}

// Duration returns the session's elapsed time.
func (s *Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// clone returns a deep copy safe to hand outside the owning lane.
func (s *Session) clone() *Session {
	out := *s
	out.RiskBreakdown = make(map[rules.Severity]int, len(s.RiskBreakdown))
	for k, v := range s.RiskBreakdown {
		out.RiskBreakdown[k] = v
	}
	out.UnusualPatterns = append([]string(nil), s.UnusualPatterns...)
	out.Providers = append([]string(nil), s.Providers...)
	out.Models = append([]string(nil), s.Models...)
	return &out
}

// Update reports the state of the owning session after one ingest.
type Update struct {
	// Session is a snapshot of the session after the event was applied.
	Session *Session

	// Created is true when this event opened a new session.
	Created bool

	// NewPatterns lists anomaly tags first observed on this ingest.
	NewPatterns []string
}
