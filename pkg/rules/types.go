package rules

import (
	"time"
)

// Category classifies what a detection rule protects against.
type Category string

const (
	CategoryDataPrivacy Category = "data_privacy"
	CategorySecurity    Category = "security"
	CategoryCompliance  Category = "compliance"
)

// Valid reports whether the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryDataPrivacy, CategorySecurity, CategoryCompliance:
		return true
	}
	return false
}

// RuleType determines how a detection rule's pattern is interpreted.
type RuleType string

const (
	// RuleTypeKeyword matches any of a comma-separated list of literal terms
	// as a case-insensitive substring.
	RuleTypeKeyword RuleType = "keyword"

	// RuleTypeRegex matches a regular expression against prompt and response.
	RuleTypeRegex RuleType = "regex"

	// RuleTypeModelRestriction matches when the event's declared model
	// violates an allow or deny list encoded in the pattern.
	RuleTypeModelRestriction RuleType = "model_restriction"

	// RuleTypeCustomScoring evaluates a multi-term expression combined with
	// the rule's CombinationLogic.
	RuleTypeCustomScoring RuleType = "custom_scoring"
)

// Valid reports whether the rule type is a known value.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeKeyword, RuleTypeRegex, RuleTypeModelRestriction, RuleTypeCustomScoring:
		return true
	}
	return false
}

// Severity ranks the impact of a rule match or alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank returns an ordering value for severity comparison.
// Higher rank means more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SeverityForScore maps a risk score onto a severity bucket.
// Buckets: critical >= 90, high >= 70, medium >= 40, else low.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Logic combines the sub-terms of a multi-part rule expression.
type Logic string

const (
	// LogicAND requires all sub-terms to be present.
	LogicAND Logic = "AND"

	// LogicOR requires at least one sub-term to be present.
	LogicOR Logic = "OR"
)

// Valid reports whether the logic is a known value.
func (l Logic) Valid() bool {
	return l == LogicAND || l == LogicOR
}

// DetectionRule is one configurable rule scored against a prompt/response
// pair. Rules are read-only to the engines; creation and updates happen in
// external configuration management.
type DetectionRule struct {
	// ID uniquely identifies the rule. Also the tie-breaker for evaluation
	// order within equal priorities.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable rule name, used in flag reasons.
	Name string `yaml:"name" json:"name"`

	// Description explains the rule's intent.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Category classifies the rule (data_privacy, security, compliance).
	Category Category `yaml:"category" json:"category"`

	// RuleType determines pattern interpretation.
	RuleType RuleType `yaml:"rule_type" json:"rule_type"`

	// Pattern is the raw rule pattern. Interpretation depends on RuleType.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Severity ranks the impact of a match.
	Severity Severity `yaml:"severity" json:"severity"`

	// Points is the score contribution on match, in [0,100].
	Points int `yaml:"points" json:"points"`

	// Priority orders evaluation, in [0,1000]. Lower values evaluate first.
	Priority int `yaml:"priority" json:"priority"`

	// StopOnMatch terminates evaluation at this rule when it matches and
	// forces the flagged state regardless of accumulated score.
	StopOnMatch bool `yaml:"stop_on_match" json:"stop_on_match"`

	// CombinationLogic combines the sub-terms of a custom_scoring pattern.
	CombinationLogic Logic `yaml:"combination_logic" json:"combination_logic"`

	// IsActive controls whether the rule participates in evaluation.
	IsActive bool `yaml:"is_active" json:"is_active"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// AlertRuleType determines how an alert rule decides to fire.
type AlertRuleType string

const (
	// AlertRuleThreshold fires when a sliding-window metric crosses a bound.
	AlertRuleThreshold AlertRuleType = "threshold"

	// AlertRuleDetection fires when a scored event matched one of the
	// configured detection rules.
	AlertRuleDetection AlertRuleType = "detection_rule"
)

// Valid reports whether the alert rule type is a known value.
func (t AlertRuleType) Valid() bool {
	return t == AlertRuleThreshold || t == AlertRuleDetection
}

// ThresholdMetric names a metric a threshold alert rule can watch.
type ThresholdMetric string

const (
	// MetricFlaggedCount counts flagged events for the actor in the window.
	MetricFlaggedCount ThresholdMetric = "flagged_count"

	// MetricRequestCount counts all events for the actor in the window.
	MetricRequestCount ThresholdMetric = "request_count"

	// MetricAvgRiskScore is the session's running mean risk score.
	MetricAvgRiskScore ThresholdMetric = "avg_risk_score"

	// MetricRiskScore is the risk score of the triggering event.
	MetricRiskScore ThresholdMetric = "risk_score"
)

// Valid reports whether the metric is a known value.
func (m ThresholdMetric) Valid() bool {
	switch m {
	case MetricFlaggedCount, MetricRequestCount, MetricAvgRiskScore, MetricRiskScore:
		return true
	}
	return false
}

// ThresholdOperator compares a metric value against a limit.
type ThresholdOperator string

const (
	OperatorGreaterThan  ThresholdOperator = "gt"
	OperatorGreaterEqual ThresholdOperator = "gte"
	OperatorLessThan     ThresholdOperator = "lt"
	OperatorLessEqual    ThresholdOperator = "lte"
)

// Valid reports whether the operator is a known value.
func (o ThresholdOperator) Valid() bool {
	switch o {
	case OperatorGreaterThan, OperatorGreaterEqual, OperatorLessThan, OperatorLessEqual:
		return true
	}
	return false
}

// Compare applies the operator to value against limit.
func (o ThresholdOperator) Compare(value, limit float64) bool {
	switch o {
	case OperatorGreaterThan:
		return value > limit
	case OperatorGreaterEqual:
		return value >= limit
	case OperatorLessThan:
		return value < limit
	case OperatorLessEqual:
		return value <= limit
	}
	return false
}

// ThresholdConfig configures a threshold-type alert rule.
type ThresholdConfig struct {
	// Metric is the metric to watch.
	Metric ThresholdMetric `yaml:"metric" json:"metric"`

	// Operator compares the metric value against Limit.
	Operator ThresholdOperator `yaml:"operator" json:"operator"`

	// Window is the sliding window for counting metrics. Ignored for
	// session-scope metrics (avg_risk_score, risk_score).
	Window time.Duration `yaml:"window" json:"window"`

	// Limit is the bound the metric is compared against.
	Limit float64 `yaml:"limit" json:"limit"`
}

// AlertRule is read-only configuration consumed by the alert engine.
type AlertRule struct {
	// ID uniquely identifies the alert rule.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable rule name, used in alert titles.
	Name string `yaml:"name" json:"name"`

	// Description explains the rule's intent.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// RuleType is threshold or detection_rule.
	RuleType AlertRuleType `yaml:"rule_type" json:"rule_type"`

	// Severity is carried onto produced alerts.
	Severity Severity `yaml:"severity" json:"severity"`

	// Threshold configures threshold-type rules.
	Threshold *ThresholdConfig `yaml:"threshold_config,omitempty" json:"threshold_config,omitempty"`

	// DetectionRuleIDs lists the detection rules that trigger a
	// detection_rule-type alert. Any intersection with a scored event's
	// matched rules fires (OR semantics).
	DetectionRuleIDs []string `yaml:"detection_rule_ids,omitempty" json:"detection_rule_ids,omitempty"`

	// IsActive controls whether the rule participates in evaluation.
	IsActive bool `yaml:"is_active" json:"is_active"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}
