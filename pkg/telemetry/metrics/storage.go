package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flagwise/flagwise/pkg/config"
)

// StorageMetrics tracks metrics for the persistence layer.
type StorageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	prunedTotal       *prometheus.CounterVec
}

// NewStorageMetrics creates and registers storage metrics with the provided
// registry.
func NewStorageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StorageMetrics {
	sm := &StorageMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "storage_operations_total",
				Help:      "Storage operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "storage_operation_duration_seconds",
				Help:      "Duration of storage operations",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
			},
			[]string{"operation"},
		),

		prunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "storage_pruned_total",
				Help:      "Rows removed by retention pruning",
			},
			[]string{"table"},
		),
	}

	registry.MustRegister(
		sm.operationsTotal,
		sm.operationDuration,
		sm.prunedTotal,
	)

	return sm
}

// RecordOperation records one storage operation.
func (sm *StorageMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sm.operationsTotal.WithLabelValues(operation, status).Inc()
	sm.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPruned records rows removed by retention pruning.
func (sm *StorageMetrics) RecordPruned(table string, count int64) {
	if count > 0 {
		sm.prunedTotal.WithLabelValues(table).Add(float64(count))
	}
}
