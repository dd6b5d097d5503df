package alerting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/flagwise/flagwise/pkg/config"
	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

func metricTotal(t *testing.T, c *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
		return total
	}
	return 0
}

func newTestEngine(t *testing.T, config *Config) *Engine {
	t.Helper()
	eng, err := NewEngine(config, nil)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func thresholdRule(id string, metric rules.ThresholdMetric, op rules.ThresholdOperator, window time.Duration, limit float64) *rules.AlertRule {
	return &rules.AlertRule{
		ID:       id,
		Name:     id + " rule",
		RuleType: rules.AlertRuleThreshold,
		Severity: rules.SeverityHigh,
		Threshold: &rules.ThresholdConfig{
			Metric:   metric,
			Operator: op,
			Window:   window,
			Limit:    limit,
		},
		IsActive: true,
	}
}

func detectionAlertRule(id string, detectionIDs ...string) *rules.AlertRule {
	return &rules.AlertRule{
		ID:               id,
		Name:             id + " rule",
		RuleType:         rules.AlertRuleDetection,
		Severity:         rules.SeverityCritical,
		DetectionRuleIDs: detectionIDs,
		IsActive:         true,
	}
}

func scoredEvent(actor string, at time.Time, score int, flagged bool, matched ...string) *session.ScoredEvent {
	return &session.ScoredEvent{
		RequestID:      "req-1",
		ActorKey:       actor,
		Timestamp:      at,
		RiskScore:      score,
		IsFlagged:      flagged,
		MatchedRuleIDs: matched,
	}
}

func TestEngine_DetectionRuleAlert(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		detectionAlertRule("alert-ssn", "det-ssn", "det-ccn"),
	})
	now := time.Now()

	alerts := eng.Evaluate(context.Background(), scoredEvent("1.2.3.4", now, 80, true, "det-ssn"), nil, snap)
	if len(alerts) != 1 {
		t.Fatalf("Evaluate() produced %d alerts, want 1", len(alerts))
	}

	a := alerts[0]
	if a.Status != StatusNew {
		t.Errorf("Status = %q, want new", a.Status)
	}
	if a.SourceType != SourceDetectionRule {
		t.Errorf("SourceType = %q, want detection_rule", a.SourceType)
	}
	if a.SourceID != "alert-ssn" {
		t.Errorf("SourceID = %q, want alert-ssn", a.SourceID)
	}
	if a.Severity != rules.SeverityCritical {
		t.Errorf("Severity = %q, want critical", a.Severity)
	}
	if a.RelatedRequestID != "req-1" {
		t.Errorf("RelatedRequestID = %q, want req-1", a.RelatedRequestID)
	}
	if !strings.Contains(a.Description, "det-ssn") {
		t.Errorf("Description = %q, should name the matched detection rule", a.Description)
	}
}

func TestEngine_DetectionRuleNoIntersection(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		detectionAlertRule("alert-ssn", "det-ssn"),
	})

	alerts := eng.Evaluate(context.Background(), scoredEvent("1.2.3.4", time.Now(), 80, true, "det-other"), nil, snap)
	if len(alerts) != 0 {
		t.Fatalf("Evaluate() produced %d alerts, want 0", len(alerts))
	}
}

func TestEngine_FlaggedCountThreshold(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		thresholdRule("alert-burst", rules.MetricFlaggedCount, rules.OperatorGreaterEqual, 10*time.Minute, 3),
	})
	ctx := context.Background()
	now := time.Now()

	// Two flagged events stay under the limit.
	for i := 0; i < 2; i++ {
		alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(time.Duration(i)*time.Minute), 80, true), nil, snap)
		if len(alerts) != 0 {
			t.Fatalf("Event %d produced %d alerts, want 0", i, len(alerts))
		}
	}

	// An unflagged event does not count toward flagged_count.
	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(2*time.Minute), 10, false), nil, snap); len(alerts) != 0 {
		t.Fatalf("Unflagged event produced %d alerts, want 0", len(alerts))
	}

	// The third flagged event crosses gte 3.
	alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(3*time.Minute), 80, true), nil, snap)
	if len(alerts) != 1 {
		t.Fatalf("Third flagged event produced %d alerts, want 1", len(alerts))
	}
	if alerts[0].SourceType != SourceThreshold {
		t.Errorf("SourceType = %q, want threshold", alerts[0].SourceType)
	}
}

func TestEngine_FlaggedCountWindowExpiry(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		thresholdRule("alert-burst", rules.MetricFlaggedCount, rules.OperatorGreaterEqual, 10*time.Minute, 3),
	})
	ctx := context.Background()
	now := time.Now()

	// Two flagged events, then a long gap: they fall out of the window
	// before the third arrives.
	eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 80, true), nil, snap)
	eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(time.Minute), 80, true), nil, snap)

	alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(20*time.Minute), 80, true), nil, snap)
	if len(alerts) != 0 {
		t.Fatalf("Flagged event after window expiry produced %d alerts, want 0", len(alerts))
	}
}

func TestEngine_RiskScoreThreshold(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		thresholdRule("alert-high-risk", rules.MetricRiskScore, rules.OperatorGreaterEqual, 0, 90),
	})
	ctx := context.Background()
	now := time.Now()

	if alerts := eng.Evaluate(ctx, scoredEvent("a", now, 89, true), nil, snap); len(alerts) != 0 {
		t.Fatalf("Score 89 produced %d alerts, want 0", len(alerts))
	}
	if alerts := eng.Evaluate(ctx, scoredEvent("b", now, 90, true), nil, snap); len(alerts) != 1 {
		t.Fatalf("Score 90 produced %d alerts, want 1", len(alerts))
	}
}

func TestEngine_AvgRiskScoreThreshold(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		thresholdRule("alert-avg", rules.MetricAvgRiskScore, rules.OperatorGreaterThan, 0, 50),
	})
	ctx := context.Background()
	now := time.Now()

	sess := &session.Session{ActorKey: "1.2.3.4", AvgRiskScore: 61.5}
	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 40, false), sess, snap); len(alerts) != 1 {
		t.Fatalf("Avg 61.5 produced %d alerts, want 1", len(alerts))
	}

	// Without session state the metric cannot be resolved and the rule
	// stays silent.
	if alerts := eng.Evaluate(ctx, scoredEvent("5.6.7.8", now, 40, false), nil, snap); len(alerts) != 0 {
		t.Fatalf("Missing session produced %d alerts, want 0", len(alerts))
	}
}

func TestEngine_CooldownDeduplication(t *testing.T) {
	config := DefaultConfig().WithCooldown(15 * time.Minute)
	eng := newTestEngine(t, config)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		detectionAlertRule("alert-ssn", "det-ssn"),
	})
	ctx := context.Background()
	now := time.Now()

	first := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 80, true, "det-ssn"), nil, snap)
	if len(first) != 1 {
		t.Fatalf("First firing produced %d alerts, want 1", len(first))
	}

	// Repeated firings within the cool-down are suppressed while the alert
	// is new.
	for i := 1; i <= 3; i++ {
		alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(time.Duration(i)*time.Minute), 80, true, "det-ssn"), nil, snap)
		if len(alerts) != 0 {
			t.Fatalf("Firing %d within cool-down produced %d alerts, want 0", i, len(alerts))
		}
	}

	// Acknowledging keeps suppressing.
	eng.Acknowledge(first[0].ID)
	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(5*time.Minute), 80, true, "det-ssn"), nil, snap); len(alerts) != 0 {
		t.Fatalf("Firing after acknowledge produced %d alerts, want 0", len(alerts))
	}

	// A different actor is a separate pairing.
	if alerts := eng.Evaluate(ctx, scoredEvent("5.6.7.8", now.Add(5*time.Minute), 80, true, "det-ssn"), nil, snap); len(alerts) != 1 {
		t.Fatalf("Different actor produced %d alerts, want 1", len(alerts))
	}
}

func TestEngine_ResolveReleasesPairing(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		detectionAlertRule("alert-ssn", "det-ssn"),
	})
	ctx := context.Background()
	now := time.Now()

	first := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 80, true, "det-ssn"), nil, snap)
	if len(first) != 1 {
		t.Fatalf("First firing produced %d alerts, want 1", len(first))
	}

	eng.Resolve(first[0].ID)

	second := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(time.Minute), 80, true, "det-ssn"), nil, snap)
	if len(second) != 1 {
		t.Fatalf("Firing after resolve produced %d alerts, want 1", len(second))
	}
	if second[0].ID == first[0].ID {
		t.Error("Re-fired alert must be a new alert")
	}
}

func TestEngine_CooldownExpiryRefires(t *testing.T) {
	config := DefaultConfig().WithCooldown(10 * time.Minute)
	eng := newTestEngine(t, config)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		detectionAlertRule("alert-ssn", "det-ssn"),
	})
	ctx := context.Background()
	now := time.Now()

	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 80, true, "det-ssn"), nil, snap); len(alerts) != 1 {
		t.Fatalf("First firing produced %d alerts, want 1", len(alerts))
	}
	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(10*time.Minute), 80, true, "det-ssn"), nil, snap); len(alerts) != 1 {
		t.Fatalf("Firing after cool-down expiry produced %d alerts, want 1", len(alerts))
	}
}

func TestEngine_BrokenRuleSkipped(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		// Windowed metric without a window: compiled with Err set.
		{
			ID:       "alert-broken",
			Name:     "broken",
			RuleType: rules.AlertRuleThreshold,
			Severity: rules.SeverityHigh,
			Threshold: &rules.ThresholdConfig{
				Metric:   rules.MetricFlaggedCount,
				Operator: rules.OperatorGreaterEqual,
				Limit:    1,
			},
			IsActive: true,
		},
		detectionAlertRule("alert-ssn", "det-ssn"),
	})
	ctx := context.Background()

	alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", time.Now(), 80, true, "det-ssn"), nil, snap)
	if len(alerts) != 1 {
		t.Fatalf("Evaluate() produced %d alerts, want 1 (broken rule skipped)", len(alerts))
	}
	if alerts[0].SourceID != "alert-ssn" {
		t.Errorf("SourceID = %q, want alert-ssn", alerts[0].SourceID)
	}
}

func TestEngine_WindowClampedToMaxWindow(t *testing.T) {
	config := DefaultConfig()
	config.MaxWindow = 5 * time.Minute
	eng := newTestEngine(t, config)
	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		thresholdRule("alert-wide", rules.MetricRequestCount, rules.OperatorGreaterEqual, time.Hour, 2),
	})
	ctx := context.Background()
	now := time.Now()

	// First event, then a second 10 minutes later: with the rule's one
	// hour window both would count, but history only retains MaxWindow.
	eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 10, false), nil, snap)
	alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(10*time.Minute), 10, false), nil, snap)
	if len(alerts) != 0 {
		t.Fatalf("Clamped window produced %d alerts, want 0", len(alerts))
	}
}

func TestEngine_NilInputs(t *testing.T) {
	eng := newTestEngine(t, nil)
	snap := rules.NewSnapshot(1, nil, nil)

	if alerts := eng.Evaluate(context.Background(), nil, nil, snap); alerts != nil {
		t.Errorf("Nil event produced %v, want nil", alerts)
	}
	if alerts := eng.Evaluate(context.Background(), scoredEvent("a", time.Now(), 0, false), nil, nil); alerts != nil {
		t.Errorf("Nil snapshot produced %v, want nil", alerts)
	}
}

// Evaluation passes and cooldown suppressions land in the alert counters.
func TestEngine_MetricsCountSuppression(t *testing.T) {
	collector := metrics.NewCollector(&config.MetricsConfig{}, nil)
	eng := newTestEngine(t, nil)
	eng.SetMetrics(collector.Alerts())

	snap := rules.NewSnapshot(1, nil, []*rules.AlertRule{
		detectionAlertRule("alert-ssn", "det-ssn"),
	})
	now := time.Now()
	ctx := context.Background()

	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now, 80, true, "det-ssn"), nil, snap); len(alerts) != 1 {
		t.Fatalf("first Evaluate() produced %d alerts, want 1", len(alerts))
	}
	if alerts := eng.Evaluate(ctx, scoredEvent("1.2.3.4", now.Add(time.Minute), 80, true, "det-ssn"), nil, snap); len(alerts) != 0 {
		t.Fatalf("second Evaluate() produced %d alerts, want 0 (cool-down)", len(alerts))
	}

	if got := metricTotal(t, collector, "flagwise_monitor_alert_evaluations_total"); got != 2 {
		t.Errorf("alert_evaluations_total = %v, want 2", got)
	}
	if got := metricTotal(t, collector, "flagwise_monitor_alerts_suppressed_total"); got != 1 {
		t.Errorf("alerts_suppressed_total = %v, want 1", got)
	}
}
