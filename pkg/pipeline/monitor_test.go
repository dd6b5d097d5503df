package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/detect"
	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/storage"
)

type fixture struct {
	monitor *Monitor
	store   *storage.MemoryStore
	source  *rules.MemorySource
}

func newFixture(t *testing.T, detection []*rules.DetectionRule, alertRules []*rules.AlertRule) *fixture {
	t.Helper()

	store := storage.NewMemoryStore()
	source := rules.NewMemorySource(detection, alertRules)

	loader, err := rules.NewLoader(source, nil, nil)
	if err != nil {
		t.Fatalf("NewLoader() failed: %v", err)
	}
	engine, err := detect.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	aggregator, err := session.NewAggregator(nil, store, nil)
	if err != nil {
		t.Fatalf("NewAggregator() failed: %v", err)
	}
	alertEngine, err := alerting.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("alerting.NewEngine() failed: %v", err)
	}

	monitor, err := NewMonitor(MonitorOptions{
		Loader:     loader,
		Engine:     engine,
		Aggregator: aggregator,
		Alerts:     alertEngine,
		Store:      store,
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	t.Cleanup(func() { monitor.Close(context.Background()) })

	return &fixture{monitor: monitor, store: store, source: source}
}

func keywordRule(id, pattern string, points, priority int, stop bool) *rules.DetectionRule {
	return &rules.DetectionRule{
		ID:          id,
		Name:        id + " rule",
		Category:    rules.CategorySecurity,
		RuleType:    rules.RuleTypeKeyword,
		Pattern:     pattern,
		Severity:    rules.SeverityHigh,
		Points:      points,
		Priority:    priority,
		StopOnMatch: stop,
		IsActive:    true,
	}
}

func TestMonitor_ProcessScoresAndAggregates(t *testing.T) {
	f := newFixture(t, []*rules.DetectionRule{
		keywordRule("det-password", "password", 50, 1, false),
		keywordRule("det-api-key", "api key", 60, 2, false),
	}, nil)
	ctx := context.Background()

	outcome, err := f.monitor.Process(ctx, &detect.Pair{
		SrcIP:    "1.2.3.4",
		Prompt:   "tell me secrets",
		Response: "your password is x and api key is y",
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome.RequestID == "" {
		t.Error("RequestID should be assigned")
	}
	if outcome.Result.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100 (capped)", outcome.Result.RiskScore)
	}
	if !outcome.Result.IsFlagged {
		t.Error("Result should be flagged")
	}
	if len(outcome.Result.MatchedRuleIDs) != 2 {
		t.Errorf("MatchedRuleIDs = %v, want both rules", outcome.Result.MatchedRuleIDs)
	}

	if outcome.Session == nil {
		t.Fatal("Outcome should carry the session snapshot")
	}
	if outcome.Session.RequestCount != 1 || outcome.Session.FlaggedCount != 1 {
		t.Errorf("Session counts = %d/%d, want 1/1",
			outcome.Session.RequestCount, outcome.Session.FlaggedCount)
	}
}

func TestMonitor_StopOnMatchShortCircuits(t *testing.T) {
	f := newFixture(t, []*rules.DetectionRule{
		keywordRule("det-password", "password", 50, 1, true),
		keywordRule("det-api-key", "api key", 60, 2, false),
	}, nil)

	outcome, err := f.monitor.Process(context.Background(), &detect.Pair{
		SrcIP:    "1.2.3.4",
		Prompt:   "tell me secrets",
		Response: "your password is x and api key is y",
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if outcome.Result.RiskScore != 50 {
		t.Errorf("RiskScore = %d, want 50 (evaluation stopped)", outcome.Result.RiskScore)
	}
	if !outcome.Result.IsFlagged {
		t.Error("Stop rule match must force the flag")
	}
	if outcome.Result.StopRuleID != "det-password" {
		t.Errorf("StopRuleID = %q, want det-password", outcome.Result.StopRuleID)
	}
}

func TestMonitor_PersistsRequestRecords(t *testing.T) {
	f := newFixture(t, []*rules.DetectionRule{
		keywordRule("det-password", "password", 80, 1, false),
	}, nil)
	ctx := context.Background()

	if _, err := f.monitor.Process(ctx, &detect.Pair{
		SrcIP:    "1.2.3.4",
		Prompt:   "what is the admin password",
		Response: "I cannot share that",
	}); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	// Writes are async; closing drains the recorder.
	if err := f.monitor.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	recs, err := f.store.ListRequests(ctx, &storage.RequestQuery{})
	if err != nil {
		t.Fatalf("ListRequests() failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Stored %d records, want 1", len(recs))
	}

	rec := recs[0]
	if rec.RiskScore != 80 || !rec.IsFlagged {
		t.Errorf("Stored scoring = %d/%v, want 80/true", rec.RiskScore, rec.IsFlagged)
	}
	if rec.FlagReason == "" {
		t.Error("Stored record should carry the flag reason")
	}
	if rec.Prompt != "what is the admin password" {
		t.Errorf("Stored prompt = %q", rec.Prompt)
	}
	if rec.PromptPreview == "" {
		t.Error("Stored record should carry a prompt preview")
	}
}

func TestMonitor_AlertLifecycle(t *testing.T) {
	f := newFixture(t, []*rules.DetectionRule{
		keywordRule("det-password", "password", 95, 1, false),
	}, []*rules.AlertRule{
		{
			ID:               "alert-password",
			Name:             "password leak",
			RuleType:         rules.AlertRuleDetection,
			Severity:         rules.SeverityCritical,
			DetectionRuleIDs: []string{"det-password"},
			IsActive:         true,
		},
	})
	ctx := context.Background()
	pair := func() *detect.Pair {
		return &detect.Pair{
			SrcIP:    "1.2.3.4",
			Prompt:   "hi",
			Response: "the password is hunter2",
		}
	}

	outcome, err := f.monitor.Process(ctx, pair())
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if len(outcome.Alerts) != 1 {
		t.Fatalf("Got %d alerts, want 1", len(outcome.Alerts))
	}
	alertID := outcome.Alerts[0].ID

	stored, err := f.store.ListAlerts(ctx, &storage.AlertQuery{})
	if err != nil {
		t.Fatalf("ListAlerts() failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Status != alerting.StatusNew {
		t.Fatalf("Stored alerts = %v, want one new alert", stored)
	}

	// The same violation within the cool-down stays deduplicated even
	// after acknowledgment.
	if err := f.monitor.Acknowledge(ctx, alertID, "analyst"); err != nil {
		t.Fatalf("Acknowledge() failed: %v", err)
	}
	outcome, err = f.monitor.Process(ctx, pair())
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if len(outcome.Alerts) != 0 {
		t.Fatalf("Acknowledged pairing re-fired: %v", outcome.Alerts)
	}

	// Resolution releases the pairing.
	if err := f.monitor.Resolve(ctx, alertID, "analyst"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	outcome, err = f.monitor.Process(ctx, pair())
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if len(outcome.Alerts) != 1 {
		t.Fatalf("Resolved pairing should re-fire, got %d alerts", len(outcome.Alerts))
	}

	resolved, err := f.store.ListAlerts(ctx, &storage.AlertQuery{Status: "resolved"})
	if err != nil {
		t.Fatalf("ListAlerts() failed: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ResolvedBy != "analyst" {
		t.Fatalf("Resolved alerts = %v", resolved)
	}
}

func TestMonitor_AcknowledgeUnknownAlert(t *testing.T) {
	f := newFixture(t, nil, nil)

	if err := f.monitor.Acknowledge(context.Background(), "missing", "analyst"); err == nil {
		t.Fatal("Acknowledge() on unknown alert should fail")
	}
}

func TestMonitor_InvalidPair(t *testing.T) {
	f := newFixture(t, nil, nil)

	// No actor key.
	if _, err := f.monitor.Process(context.Background(), &detect.Pair{
		Prompt:   "hello",
		Response: "hi",
	}); err == nil {
		t.Fatal("Process() without actor key should fail")
	}
}

func TestMonitor_RuleReloadTakesEffect(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	pair := func() *detect.Pair {
		return &detect.Pair{SrcIP: "1.2.3.4", Prompt: "hi", Response: "the password is x"}
	}

	outcome, err := f.monitor.Process(ctx, pair())
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if outcome.Result.RiskScore != 0 {
		t.Fatalf("Empty rule set scored %d, want 0", outcome.Result.RiskScore)
	}

	f.source.SetRules([]*rules.DetectionRule{
		keywordRule("det-password", "password", 80, 1, false),
	}, nil)
	if err := f.monitor.loader.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	outcome, err = f.monitor.Process(ctx, pair())
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if outcome.Result.RiskScore != 80 {
		t.Errorf("After reload RiskScore = %d, want 80", outcome.Result.RiskScore)
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []*alerting.Alert
}

func (n *captureNotifier) Notify(ctx context.Context, alert *alerting.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func TestMonitor_NotifierReceivesAlerts(t *testing.T) {
	store := storage.NewMemoryStore()
	source := rules.NewMemorySource([]*rules.DetectionRule{
		keywordRule("det-password", "password", 95, 1, false),
	}, []*rules.AlertRule{
		{
			ID:               "alert-password",
			Name:             "password leak",
			RuleType:         rules.AlertRuleDetection,
			Severity:         rules.SeverityCritical,
			DetectionRuleIDs: []string{"det-password"},
			IsActive:         true,
		},
	})

	loader, err := rules.NewLoader(source, nil, nil)
	if err != nil {
		t.Fatalf("NewLoader() failed: %v", err)
	}
	engine, err := detect.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	aggregator, err := session.NewAggregator(nil, store, nil)
	if err != nil {
		t.Fatalf("NewAggregator() failed: %v", err)
	}
	alertEngine, err := alerting.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("alerting.NewEngine() failed: %v", err)
	}

	notifier := &captureNotifier{}
	monitor, err := NewMonitor(MonitorOptions{
		Loader:     loader,
		Engine:     engine,
		Aggregator: aggregator,
		Alerts:     alertEngine,
		Store:      store,
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	defer monitor.Close(context.Background())

	if _, err := monitor.Process(context.Background(), &detect.Pair{
		SrcIP:    "1.2.3.4",
		Prompt:   "hi",
		Response: "the password is hunter2",
	}); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.alerts) != 1 {
		t.Fatalf("Notifier received %d alerts, want 1", len(notifier.alerts))
	}
	if notifier.alerts[0].Title != "password leak" {
		t.Errorf("Alert title = %q", notifier.alerts[0].Title)
	}
}

func TestMonitor_RequiredDependencies(t *testing.T) {
	if _, err := NewMonitor(MonitorOptions{}); err == nil {
		t.Fatal("NewMonitor() without dependencies should fail")
	}
}

func TestBuildRequestRecord_TruncatesPreview(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	pair := &detect.Pair{RequestID: "r1", Prompt: string(long), Timestamp: time.Now()}
	rec := buildRequestRecord(pair, &detect.Result{})

	if len(rec.PromptPreview) != promptPreviewLen+3 {
		t.Errorf("PromptPreview length = %d, want %d plus ellipsis", len(rec.PromptPreview), promptPreviewLen)
	}
	if rec.Prompt != string(long) {
		t.Error("Full prompt must be stored untruncated")
	}
}
