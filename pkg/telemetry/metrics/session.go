package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flagwise/flagwise/pkg/config"
)

// SessionMetrics tracks metrics for the session aggregator.
type SessionMetrics struct {
	eventsIngestedTotal  prometheus.Counter
	activeSessions       prometheus.Gauge
	sessionsOpenedTotal  prometheus.Counter
	sessionsSealedTotal  prometheus.Counter
	anomaliesTotal       *prometheus.CounterVec
	sessionRequestCounts prometheus.Histogram
}

// NewSessionMetrics creates and registers session metrics with the provided
// registry.
func NewSessionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SessionMetrics {
	sm := &SessionMetrics{
		eventsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "session_events_total",
				Help:      "Total scored events ingested into the session aggregator",
			},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "active_sessions",
				Help:      "Sessions currently open across all lanes",
			},
		),

		sessionsOpenedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sessions_opened_total",
				Help:      "Total sessions opened",
			},
		),

		sessionsSealedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sessions_sealed_total",
				Help:      "Total sessions finalized after the inactivity window",
			},
		),

		anomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "session_anomalies_total",
				Help:      "Unusual patterns detected in sessions",
			},
			[]string{"pattern"},
		),

		sessionRequestCounts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "session_request_counts",
				Help:      "Distribution of request counts in sealed sessions",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
	}

	registry.MustRegister(
		sm.eventsIngestedTotal,
		sm.activeSessions,
		sm.sessionsOpenedTotal,
		sm.sessionsSealedTotal,
		sm.anomaliesTotal,
		sm.sessionRequestCounts,
	)

	return sm
}

// RecordIngest records one ingested event and whether it opened a session.
func (sm *SessionMetrics) RecordIngest(created bool) {
	sm.eventsIngestedTotal.Inc()
	if created {
		sm.sessionsOpenedTotal.Inc()
		sm.activeSessions.Inc()
	}
}

// RecordSealed records a finalized session.
func (sm *SessionMetrics) RecordSealed(requestCount int) {
	sm.sessionsSealedTotal.Inc()
	sm.activeSessions.Dec()
	sm.sessionRequestCounts.Observe(float64(requestCount))
}

// RecordAnomaly records a newly detected unusual pattern.
func (sm *SessionMetrics) RecordAnomaly(pattern string) {
	sm.anomaliesTotal.WithLabelValues(pattern).Inc()
}
