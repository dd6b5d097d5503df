package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// RetentionConfig contains configuration for the retention pruner.
type RetentionConfig struct {
	// RequestRetentionDays is the number of days to retain request records.
	// 0 means keep them forever.
	RequestRetentionDays int

	// SessionRetentionDays is the number of days to retain sessions.
	SessionRetentionDays int

	// AlertRetentionDays is the number of days to retain resolved alerts.
	AlertRetentionDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Example: "0 3 * * *" (daily at 3 AM). Empty disables scheduling.
	PruneSchedule string
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RequestRetentionDays: 90,
		SessionRetentionDays: 90,
		AlertRetentionDays:   30,
		PruneSchedule:        "0 3 * * *",
	}
}

// Pruner enforces retention policies on stored requests, sessions, and
// alerts.
type Pruner struct {
	store   Store
	config  *RetentionConfig
	cron    *cron.Cron
	metrics *metrics.StorageMetrics
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewPruner creates a new retention pruner.
func NewPruner(store Store, config *RetentionConfig) *Pruner {
	if config == nil {
		config = DefaultRetentionConfig()
	}

	return &Pruner{
		store:  store,
		config: config,
		cron:   cron.New(),
		logger: slog.Default().With("component", "storage.retention"),
	}
}

// SetMetrics attaches storage metrics so pruned row counts are recorded
// per table. Call before Start.
func (p *Pruner) SetMetrics(sm *metrics.StorageMetrics) {
	p.metrics = sm
}

// Prune deletes records older than the configured retention periods.
// Returns the total number of rows deleted across all tables.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	now := time.Now()
	var total int64

	if p.config.RequestRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -p.config.RequestRetentionDays)
		deleted, err := p.store.DeleteRequestsBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune requests failed: %w", err)
		}
		total += deleted
		if p.metrics != nil {
			p.metrics.RecordPruned("requests", deleted)
		}
		p.logger.Info("pruned request records",
			"deleted_count", deleted,
			"retention_days", p.config.RequestRetentionDays,
		)
	}

	if p.config.SessionRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -p.config.SessionRetentionDays)
		deleted, err := p.store.DeleteSessionsBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune sessions failed: %w", err)
		}
		total += deleted
		if p.metrics != nil {
			p.metrics.RecordPruned("sessions", deleted)
		}
		p.logger.Info("pruned sessions",
			"deleted_count", deleted,
			"retention_days", p.config.SessionRetentionDays,
		)
	}

	if p.config.AlertRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -p.config.AlertRetentionDays)
		deleted, err := p.store.DeleteAlertsBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune alerts failed: %w", err)
		}
		total += deleted
		if p.metrics != nil {
			p.metrics.RecordPruned("alerts", deleted)
		}
		p.logger.Info("pruned resolved alerts",
			"deleted_count", deleted,
			"retention_days", p.config.AlertRetentionDays,
		)
	}

	if total == 0 {
		p.logger.Debug("no records pruned")
	}

	return total, nil
}

// Start begins scheduled pruning based on the cron expression.
// If PruneSchedule is empty, Start does nothing.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.PruneSchedule == "" {
		p.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(p.config.PruneSchedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.config.PruneSchedule, err)
	}

	_, err := p.cron.AddFunc(p.config.PruneSchedule, func() {
		p.runPruning(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true

	p.logger.Info("retention scheduler started",
		"schedule", p.config.PruneSchedule,
		"request_retention_days", p.config.RequestRetentionDays,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

// runPruning executes one pruning cycle.
func (p *Pruner) runPruning(ctx context.Context) {
	p.logger.Info("starting scheduled pruning")

	deleted, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error("scheduled pruning failed", "error", err)
		return
	}

	if deleted > 0 {
		p.logger.Info("scheduled pruning completed", "deleted_count", deleted)
	} else {
		p.logger.Debug("scheduled pruning completed, no records deleted")
	}
}

// Stop stops the scheduler and waits for any running jobs to complete.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil && p.running {
		ctx := p.cron.Stop()
		<-ctx.Done()
		p.running = false
		p.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (p *Pruner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
