package alerting

import (
	"time"

	"github.com/flagwise/flagwise/pkg/rules"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// SourceType identifies what produced an alert.
type SourceType string

const (
	SourceDetectionRule SourceType = "detection_rule"
	SourceThreshold     SourceType = "threshold"
	SourceSystem        SourceType = "system"
)

// Alert is a raised security or privacy finding. The scoring path creates
// alerts in StatusNew; only acknowledgment and resolution actions from the
// gateway mutate them afterwards.
type Alert struct {
	// ID uniquely identifies the alert.
	ID string `json:"id"`

	// Title summarizes the finding, built from the alert rule name.
	Title string `json:"title"`

	// Description carries the alert rule's description plus the firing
	// detail.
	Description string `json:"description,omitempty"`

	// Severity comes from the alert rule.
	Severity rules.Severity `json:"severity"`

	// AlertType is the alert rule's type (threshold, detection_rule).
	AlertType string `json:"alert_type"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// SourceType identifies the producer kind.
	SourceType SourceType `json:"source_type"`

	// SourceID is the alert rule that fired.
	SourceID string `json:"source_id"`

	// RelatedRequestID points at the triggering event's request record.
	RelatedRequestID string `json:"related_request_id,omitempty"`

	// ActorKey is the actor the alert concerns.
	ActorKey string `json:"actor_key,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`
	AcknowledgedBy string    `json:"acknowledged_by,omitempty"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
}
