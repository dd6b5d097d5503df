package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/detect"
	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/storage"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// promptPreviewLen is the truncation length for stored prompt previews.
const promptPreviewLen = 200

// Notifier delivers created alerts to an external channel (webhook, queue).
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, alert *alerting.Alert) error
}

// Monitor runs one prompt/response pair through scoring, persistence,
// session aggregation, and alerting.
type Monitor struct {
	loader     *rules.Loader
	engine     *detect.Engine
	aggregator *session.Aggregator
	alerts     *alerting.Engine
	store      storage.Store
	recorder   *Recorder
	notifier   Notifier
	collector  *metrics.Collector
	logger     *slog.Logger
}

// MonitorOptions collects the Monitor's dependencies. Loader, Engine,
// Aggregator, Alerts, and Store are required; Recorder defaults to one with
// DefaultRecorderConfig, Notifier and Collector may be nil.
type MonitorOptions struct {
	Loader     *rules.Loader
	Engine     *detect.Engine
	Aggregator *session.Aggregator
	Alerts     *alerting.Engine
	Store      storage.Store
	Recorder   *Recorder
	Notifier   Notifier
	Collector  *metrics.Collector
}

// NewMonitor creates a monitor from the given options.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("pipeline: loader is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("pipeline: detection engine is required")
	}
	if opts.Aggregator == nil {
		return nil, fmt.Errorf("pipeline: session aggregator is required")
	}
	if opts.Alerts == nil {
		return nil, fmt.Errorf("pipeline: alert engine is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}

	recorder := opts.Recorder
	if recorder == nil {
		var sm *metrics.StorageMetrics
		if opts.Collector != nil {
			sm = opts.Collector.Storage()
		}
		recorder = NewRecorder(opts.Store, nil, sm)
	}

	return &Monitor{
		loader:     opts.Loader,
		engine:     opts.Engine,
		aggregator: opts.Aggregator,
		alerts:     opts.Alerts,
		store:      opts.Store,
		recorder:   recorder,
		notifier:   opts.Notifier,
		collector:  opts.Collector,
		logger:     slog.Default().With("component", "pipeline.monitor"),
	}, nil
}

// Outcome is the result of processing one pair through the full pipeline.
type Outcome struct {
	// RequestID identifies the stored request record.
	RequestID string

	// Result is the detection engine's scoring outcome.
	Result *detect.Result

	// Session is a snapshot of the actor's session after this event.
	Session *session.Session

	// NewPatterns lists anomaly tags first observed on this event.
	NewPatterns []string

	// Alerts lists alerts created for this event after dedup.
	Alerts []*alerting.Alert
}

// Process scores the pair and drives it through persistence, session
// aggregation, and alert evaluation. Scoring failures (invalid pairs)
// return an error; downstream persistence failures are logged, not
// returned, so one slow backend cannot fail the monitoring path.
func (m *Monitor) Process(ctx context.Context, pair *detect.Pair) (*Outcome, error) {
	if pair.RequestID == "" {
		pair.RequestID = uuid.NewString()
	}
	if pair.Timestamp.IsZero() {
		pair.Timestamp = time.Now().UTC()
	}

	snap := m.loader.Snapshot()

	result, err := m.engine.Evaluate(ctx, pair, snap)
	if err != nil {
		return nil, err
	}
	m.recordDetectionMetrics(result, snap)

	m.recorder.Enqueue(buildRequestRecord(pair, result))

	ev := &session.ScoredEvent{
		RequestID:      pair.RequestID,
		ActorKey:       pair.ActorKey(),
		ChatbotID:      pair.ChatbotID,
		Provider:       pair.Provider,
		Model:          pair.Model,
		Timestamp:      pair.Timestamp,
		RiskScore:      result.RiskScore,
		IsFlagged:      result.IsFlagged,
		MatchedRuleIDs: result.MatchedRuleIDs,
	}

	update, err := m.aggregator.Ingest(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("session ingest failed: %w", err)
	}
	m.recordSessionMetrics(update)

	alerts := m.alerts.Evaluate(ctx, ev, update.Session, snap)
	for _, alert := range alerts {
		if err := m.store.SaveAlert(ctx, alert); err != nil {
			m.logger.Error("failed to persist alert",
				"alert_id", alert.ID,
				"error", err,
			)
		}
		if m.collector != nil {
			m.collector.Alerts().RecordFired(string(alert.Severity), string(alert.SourceType))
		}
		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, alert); err != nil {
				m.logger.Warn("alert notification failed",
					"alert_id", alert.ID,
					"error", err,
				)
			}
		}
	}

	return &Outcome{
		RequestID:   pair.RequestID,
		Result:      result,
		Session:     update.Session,
		NewPatterns: update.NewPatterns,
		Alerts:      alerts,
	}, nil
}

// Sweep finalizes idle sessions and flushes them to storage.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) int {
	return m.aggregator.Sweep(ctx, now)
}

// Acknowledge marks an alert acknowledged in storage and in the dedup
// registry, reopening the cooldown check for the actor once resolved.
func (m *Monitor) Acknowledge(ctx context.Context, alertID, by string) error {
	now := time.Now().UTC()
	if err := m.store.UpdateAlertStatus(ctx, alertID, alerting.StatusAcknowledged, by, now); err != nil {
		return err
	}
	m.alerts.Acknowledge(alertID)
	return nil
}

// Resolve marks an alert resolved in storage and in the dedup registry.
func (m *Monitor) Resolve(ctx context.Context, alertID, by string) error {
	now := time.Now().UTC()
	if err := m.store.UpdateAlertStatus(ctx, alertID, alerting.StatusResolved, by, now); err != nil {
		return err
	}
	m.alerts.Resolve(alertID)
	return nil
}

// Close shuts the pipeline down in dependency order: no new ingests, drain
// the recorder, seal and flush open sessions, then stop the alert engine.
func (m *Monitor) Close(ctx context.Context) error {
	var firstErr error

	if err := m.aggregator.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.recorder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.alerts.Close()

	return firstErr
}

func (m *Monitor) recordDetectionMetrics(result *detect.Result, snap *rules.Snapshot) {
	if m.collector == nil {
		return
	}

	dm := m.collector.Detection()
	dm.RecordEvaluation(result.IsFlagged, result.RiskScore, result.EvaluationTime)
	for _, id := range result.MatchedRuleIDs {
		if rule := snap.DetectionRuleByID(id); rule != nil {
			dm.RecordRuleMatch(string(rule.RuleType), string(rule.Severity))
		}
	}
	for _, diag := range result.Diagnostics {
		dm.RecordRuleFailure(diag.Kind)
	}
}

func (m *Monitor) recordSessionMetrics(update *session.Update) {
	if m.collector == nil {
		return
	}

	sm := m.collector.Sessions()
	sm.RecordIngest(update.Created)
	for _, pattern := range update.NewPatterns {
		sm.RecordAnomaly(pattern)
	}
}

// buildRequestRecord converts a scored pair into its storage record.
func buildRequestRecord(pair *detect.Pair, result *detect.Result) *storage.RequestRecord {
	return &storage.RequestRecord{
		ID:             pair.RequestID,
		Timestamp:      pair.Timestamp,
		SrcIP:          pair.SrcIP,
		UserID:         pair.UserID,
		ChatbotID:      pair.ChatbotID,
		ConversationID: pair.ConversationID,
		Provider:       pair.Provider,
		Model:          pair.Model,
		Prompt:         pair.Prompt,
		Response:       pair.Response,
		PromptPreview:  truncate(pair.Prompt, promptPreviewLen),
		RiskScore:      result.RiskScore,
		IsFlagged:      result.IsFlagged,
		FlagReason:     result.FlagReason(),
		MatchedRuleIDs: result.MatchedRuleIDs,
		Metadata:       pair.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
