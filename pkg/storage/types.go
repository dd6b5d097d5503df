package storage

import (
	"context"
	"time"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/session"
)

// RequestRecord is one stored prompt/response exchange with its scoring
// outcome. The scoring result fields are immutable once written.
type RequestRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// Timestamp is when the exchange occurred.
	Timestamp time.Time `json:"timestamp"`

	// SrcIP and UserID identify the actor.
	SrcIP  string `json:"src_ip,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// ChatbotID and ConversationID tie the record to a monitored chatbot.
	ChatbotID      string `json:"chatbot_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Provider and Model describe the LLM involved.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Prompt and Response carry the full exchange text.
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`

	// PromptPreview is a truncated prompt for listings.
	PromptPreview string `json:"prompt_preview"`

	// Scoring outcome.
	RiskScore      int      `json:"risk_score"`
	IsFlagged      bool     `json:"is_flagged"`
	FlagReason     string   `json:"flag_reason,omitempty"`
	MatchedRuleIDs []string `json:"matched_rule_ids,omitempty"`

	// Metadata is caller-supplied context from the monitor payload.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RequestQuery filters stored request records.
type RequestQuery struct {
	Flagged      *bool      `json:"flagged,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	SrcIP        string     `json:"src_ip,omitempty"`
	ChatbotID    string     `json:"chatbot_id,omitempty"`
	MinRiskScore *int       `json:"min_risk_score,omitempty"`
	MaxRiskScore *int       `json:"max_risk_score,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`

	// Limit and Offset paginate results. Limit 0 means no limit.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// AlertQuery filters stored alerts.
type AlertQuery struct {
	Severity   string     `json:"severity,omitempty"`
	Status     string     `json:"status,omitempty"`
	SourceType string     `json:"source_type,omitempty"`
	ActorKey   string     `json:"actor_key,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// SessionQuery filters stored sessions.
type SessionQuery struct {
	ActorKey     string     `json:"actor_key,omitempty"`
	RiskLevel    string     `json:"risk_level,omitempty"`
	MinRequests  int        `json:"min_requests,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// NameCount pairs a dimension value with its record count.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats aggregates the stored request stream for dashboards.
type Stats struct {
	TotalRequests   int64       `json:"total_requests"`
	FlaggedRequests int64       `json:"flagged_requests"`
	FlaggedRate     float64     `json:"flagged_rate"`
	AvgRiskScore    float64     `json:"avg_risk_score"`
	TopProviders    []NameCount `json:"top_providers"`
	TopModels       []NameCount `json:"top_models"`
	TopRiskIPs      []NameCount `json:"top_risk_ips"`
}

// Store is the persistence interface for requests, sessions, and alerts.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveRequest persists one scored request record.
	SaveRequest(ctx context.Context, rec *RequestRecord) error

	// ListRequests returns request records matching the query, newest
	// first.
	ListRequests(ctx context.Context, q *RequestQuery) ([]*RequestRecord, error)

	// CountRequests returns the number of records matching the query.
	CountRequests(ctx context.Context, q *RequestQuery) (int64, error)

	// SaveSession persists a finalized session.
	SaveSession(ctx context.Context, s *session.Session) error

	// ListSessions returns sessions matching the query, newest first.
	ListSessions(ctx context.Context, q *SessionQuery) ([]*session.Session, error)

	// SaveAlert persists one alert.
	SaveAlert(ctx context.Context, a *alerting.Alert) error

	// ListAlerts returns alerts matching the query, newest first.
	ListAlerts(ctx context.Context, q *AlertQuery) ([]*alerting.Alert, error)

	// UpdateAlertStatus applies an acknowledgment or resolution.
	UpdateAlertStatus(ctx context.Context, alertID string, status alerting.Status, by string, at time.Time) error

	// Stats aggregates the stored request stream.
	Stats(ctx context.Context) (*Stats, error)

	// DeleteRequestsBefore removes request records older than the cutoff.
	// Returns the number deleted. Used by retention pruning.
	DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteAlertsBefore removes resolved alerts older than the cutoff.
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteSessionsBefore removes sessions that ended before the cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}
