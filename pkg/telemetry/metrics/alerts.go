package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flagwise/flagwise/pkg/config"
)

// AlertMetrics tracks metrics for the alert rule engine.
type AlertMetrics struct {
	evaluationsTotal prometheus.Counter
	firedTotal       *prometheus.CounterVec
	suppressedTotal  prometheus.Counter
}

// NewAlertMetrics creates and registers alert metrics with the provided
// registry.
func NewAlertMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AlertMetrics {
	am := &AlertMetrics{
		evaluationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "alert_evaluations_total",
				Help:      "Total alert rule evaluation passes",
			},
		),

		firedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "alerts_fired_total",
				Help:      "Alerts created by severity and source type",
			},
			[]string{"severity", "source_type"},
		),

		suppressedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "alerts_suppressed_total",
				Help:      "Alerts suppressed by cooldown dedup",
			},
		),
	}

	registry.MustRegister(
		am.evaluationsTotal,
		am.firedTotal,
		am.suppressedTotal,
	)

	return am
}

// RecordEvaluation records one alert evaluation pass.
func (am *AlertMetrics) RecordEvaluation() {
	am.evaluationsTotal.Inc()
}

// RecordFired records a created alert.
func (am *AlertMetrics) RecordFired(severity, sourceType string) {
	am.firedTotal.WithLabelValues(severity, sourceType).Inc()
}

// RecordSuppressed records an alert suppressed by dedup.
func (am *AlertMetrics) RecordSuppressed() {
	am.suppressedTotal.Inc()
}
