package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// Engine evaluates scored events and session state against the snapshot's
// alert rules.
type Engine struct {
	config  *Config
	logger  *slog.Logger
	metrics *metrics.AlertMetrics
	dedup   *dedupRegistry
	history *history

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates an alert engine and starts its background cleanup.
func NewEngine(config *Config, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alerting config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:  config,
		logger:  logger.With("component", "alerting.engine"),
		dedup:   newDedupRegistry(config.Cooldown),
		history: newHistory(config.MaxWindow),
		stopCh:  make(chan struct{}),
	}

	e.wg.Add(1)
	go e.cleanupLoop()

	return e, nil
}

// SetMetrics attaches alert metrics. Call before the first Evaluate; the
// field is not guarded against concurrent evaluation.
func (e *Engine) SetMetrics(am *metrics.AlertMetrics) {
	e.metrics = am
}

// Evaluate runs all active alert rules against one scored event and the
// actor's committed session state. The caller guarantees the session update
// for this event happened before this call. Returned alerts are already
// deduplicated and carry StatusNew.
//
// An alert rule with invalid configuration is skipped for the cycle and
// logged; it never blocks other rules or the scoring path.
func (e *Engine) Evaluate(ctx context.Context, ev *session.ScoredEvent, sess *session.Session, snap *rules.Snapshot) []*Alert {
	if ev == nil || snap == nil {
		return nil
	}

	e.history.record(ev.ActorKey, ev.Timestamp, ev.IsFlagged)
	if e.metrics != nil {
		e.metrics.RecordEvaluation()
	}

	var alerts []*Alert
	for _, rule := range snap.Alerts {
		if err := ctx.Err(); err != nil {
			return alerts
		}
		if rule.Err != nil {
			e.logger.Warn("skipping alert rule with invalid configuration",
				"rule_id", rule.ID,
				"error", rule.Err,
			)
			continue
		}

		fired, detail := e.ruleFires(rule, ev, sess)
		if !fired {
			continue
		}

		alert := e.buildAlert(rule, ev, detail)
		key := dedupKey{ruleID: rule.ID, actorKey: ev.ActorKey}
		if !e.dedup.tryFire(key, alert.ID, ev.Timestamp) {
			if e.metrics != nil {
				e.metrics.RecordSuppressed()
			}
			e.logger.Debug("alert suppressed by cool-down",
				"rule_id", rule.ID,
				"actor", ev.ActorKey,
			)
			continue
		}

		alerts = append(alerts, alert)
	}

	return alerts
}

// ruleFires decides whether one alert rule fires for the event; detail is
// the human-readable firing condition.
func (e *Engine) ruleFires(rule *rules.CompiledAlertRule, ev *session.ScoredEvent, sess *session.Session) (bool, string) {
	switch rule.RuleType {
	case rules.AlertRuleDetection:
		for _, matched := range ev.MatchedRuleIDs {
			for _, want := range rule.DetectionRuleIDs {
				if matched == want {
					return true, fmt.Sprintf("detection rule %s matched", matched)
				}
			}
		}
		return false, ""

	case rules.AlertRuleThreshold:
		value, ok := e.metricValue(rule.Threshold, ev, sess)
		if !ok {
			return false, ""
		}
		if rule.Threshold.Operator.Compare(value, rule.Threshold.Limit) {
			return true, fmt.Sprintf("%s %s %.4g (observed %.4g)",
				rule.Threshold.Metric, rule.Threshold.Operator, rule.Threshold.Limit, value)
		}
		return false, ""
	}

	return false, ""
}

// metricValue resolves the threshold metric from event, session, or actor
// history state.
func (e *Engine) metricValue(tc *rules.ThresholdConfig, ev *session.ScoredEvent, sess *session.Session) (float64, bool) {
	switch tc.Metric {
	case rules.MetricFlaggedCount:
		return float64(e.history.countFlagged(ev.ActorKey, e.clampWindow(tc.Window), ev.Timestamp)), true
	case rules.MetricRequestCount:
		return float64(e.history.countEvents(ev.ActorKey, e.clampWindow(tc.Window), ev.Timestamp)), true
	case rules.MetricAvgRiskScore:
		if sess == nil {
			return 0, false
		}
		return sess.AvgRiskScore, true
	case rules.MetricRiskScore:
		return float64(ev.RiskScore), true
	}
	return 0, false
}

// clampWindow bounds a rule's window by the configured history retention.
func (e *Engine) clampWindow(w time.Duration) time.Duration {
	if w > e.config.MaxWindow {
		return e.config.MaxWindow
	}
	return w
}

// buildAlert constructs the alert for a fired rule.
func (e *Engine) buildAlert(rule *rules.CompiledAlertRule, ev *session.ScoredEvent, detail string) *Alert {
	sourceType := SourceThreshold
	if rule.RuleType == rules.AlertRuleDetection {
		sourceType = SourceDetectionRule
	}

	description := detail
	if rule.Description != "" {
		description = rule.Description + ": " + detail
	}

	now := ev.Timestamp
	return &Alert{
		ID:               uuid.NewString(),
		Title:            rule.Name,
		Description:      description,
		Severity:         rule.Severity,
		AlertType:        string(rule.RuleType),
		Status:           StatusNew,
		SourceType:       sourceType,
		SourceID:         rule.ID,
		RelatedRequestID: ev.RequestID,
		ActorKey:         ev.ActorKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Acknowledge marks an alert acknowledged in the dedup registry so the
// pairing keeps suppressing until resolution or cool-down expiry. The
// caller persists the status change separately.
func (e *Engine) Acknowledge(alertID string) {
	e.dedup.setStatus(alertID, StatusAcknowledged)
}

// Resolve marks an alert resolved, releasing its pairing for immediate
// re-firing.
func (e *Engine) Resolve(alertID string) {
	e.dedup.setStatus(alertID, StatusResolved)
}

// cleanupLoop periodically drops expired dedup entries and idle actor
// history.
func (e *Engine) cleanupLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			dropped := e.dedup.prune(now)
			idle := e.history.sweep(now)
			if dropped > 0 || idle > 0 {
				e.logger.Debug("alert engine cleanup",
					"dedup_dropped", dropped,
					"actors_dropped", idle,
				)
			}
		}
	}
}

// Close stops the background cleanup.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}
