package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flagwise/flagwise/pkg/config"
)

// DetectionMetrics tracks metrics for the detection rule engine.
//
// Metrics:
//   - flagwise_monitor_evaluations_total: evaluations by flag outcome
//   - flagwise_monitor_evaluation_duration_seconds: evaluation duration histogram
//   - flagwise_monitor_risk_scores: distribution of computed risk scores
//   - flagwise_monitor_rule_matches_total: matches by rule type and severity
//   - flagwise_monitor_rule_failures_total: pattern errors and timeouts by kind
//   - flagwise_monitor_active_rules: active rules in the current snapshot
//   - flagwise_monitor_rule_reloads_total: snapshot reloads by status
type DetectionMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	riskScores         prometheus.Histogram
	ruleMatchesTotal   *prometheus.CounterVec
	ruleFailuresTotal  *prometheus.CounterVec
	activeRules        prometheus.Gauge
	ruleReloadsTotal   *prometheus.CounterVec
}

// NewDetectionMetrics creates and registers detection metrics with the
// provided registry.
func NewDetectionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DetectionMetrics {
	dm := &DetectionMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of request evaluations",
			},
			[]string{"flagged"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of full rule evaluation per request",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
		),

		riskScores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "risk_scores",
				Help:      "Distribution of computed risk scores",
				Buckets:   cfg.RiskScoreBuckets,
			},
		),

		ruleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_matches_total",
				Help:      "Total detection rule matches",
			},
			[]string{"rule_type", "severity"},
		),

		ruleFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_failures_total",
				Help:      "Rules skipped during evaluation by failure kind",
			},
			[]string{"kind"},
		),

		activeRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "active_rules",
				Help:      "Number of active detection rules in the current snapshot",
			},
		),

		ruleReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_reloads_total",
				Help:      "Rule snapshot reloads by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		dm.evaluationsTotal,
		dm.evaluationDuration,
		dm.riskScores,
		dm.ruleMatchesTotal,
		dm.ruleFailuresTotal,
		dm.activeRules,
		dm.ruleReloadsTotal,
	)

	return dm
}

// RecordEvaluation records the outcome of one request evaluation.
func (dm *DetectionMetrics) RecordEvaluation(flagged bool, riskScore int, duration time.Duration) {
	label := "false"
	if flagged {
		label = "true"
	}
	dm.evaluationsTotal.WithLabelValues(label).Inc()
	dm.evaluationDuration.Observe(duration.Seconds())
	dm.riskScores.Observe(float64(riskScore))
}

// RecordRuleMatch records a single rule match.
func (dm *DetectionMetrics) RecordRuleMatch(ruleType, severity string) {
	dm.ruleMatchesTotal.WithLabelValues(ruleType, severity).Inc()
}

// RecordRuleFailure records a rule skipped during evaluation.
// Kind is "pattern_error" or "timeout".
func (dm *DetectionMetrics) RecordRuleFailure(kind string) {
	dm.ruleFailuresTotal.WithLabelValues(kind).Inc()
}

// SetActiveRules updates the active rule count gauge.
func (dm *DetectionMetrics) SetActiveRules(n int) {
	dm.activeRules.Set(float64(n))
}

// RecordReload records a snapshot reload. Status is "ok" or "error".
func (dm *DetectionMetrics) RecordReload(status string) {
	dm.ruleReloadsTotal.WithLabelValues(status).Inc()
}
