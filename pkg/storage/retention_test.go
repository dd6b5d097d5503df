package storage

import (
	"context"
	"testing"
	"time"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/config"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

func TestPruner_Prune(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	old := now.AddDate(0, 0, -120)

	seed := []error{
		store.SaveRequest(ctx, record("old-req", old, 0, false)),
		store.SaveRequest(ctx, record("fresh-req", now, 0, false)),
		store.SaveSession(ctx, &session.Session{ID: "old-sess", EndTime: old}),
		store.SaveSession(ctx, &session.Session{ID: "fresh-sess", EndTime: now}),
		store.SaveAlert(ctx, &alerting.Alert{ID: "old-alert", Status: alerting.StatusResolved, CreatedAt: old}),
		store.SaveAlert(ctx, &alerting.Alert{ID: "open-alert", Status: alerting.StatusNew, CreatedAt: old}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("Seeding store failed: %v", err)
		}
	}

	pruner := NewPruner(store, &RetentionConfig{
		RequestRetentionDays: 90,
		SessionRetentionDays: 90,
		AlertRetentionDays:   30,
	})

	total, err := pruner.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Prune() deleted %d rows, want 3 (old request, old session, resolved alert)", total)
	}

	reqs, _ := store.ListRequests(ctx, &RequestQuery{})
	if len(reqs) != 1 || reqs[0].ID != "fresh-req" {
		t.Errorf("Remaining requests = %v, want [fresh-req]", reqs)
	}
	sessions, _ := store.ListSessions(ctx, &SessionQuery{})
	if len(sessions) != 1 || sessions[0].ID != "fresh-sess" {
		t.Errorf("Remaining sessions = %v, want [fresh-sess]", sessions)
	}
	alerts, _ := store.ListAlerts(ctx, &AlertQuery{})
	if len(alerts) != 1 || alerts[0].ID != "open-alert" {
		t.Errorf("Remaining alerts = %v, want [open-alert] (unresolved kept)", alerts)
	}
}

func TestPruner_ZeroRetentionKeepsForever(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().AddDate(-1, 0, 0)

	if err := store.SaveRequest(ctx, record("ancient", old, 0, false)); err != nil {
		t.Fatalf("SaveRequest() failed: %v", err)
	}

	pruner := NewPruner(store, &RetentionConfig{})
	total, err := pruner.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Prune() deleted %d rows, want 0 with retention disabled", total)
	}
}

func TestPruner_StartRejectsInvalidSchedule(t *testing.T) {
	pruner := NewPruner(NewMemoryStore(), &RetentionConfig{PruneSchedule: "not a schedule"})

	if err := pruner.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid cron schedule should fail")
	}
	if pruner.IsRunning() {
		t.Error("Pruner should not be running after a failed start")
	}
}

func TestPruner_StartStop(t *testing.T) {
	pruner := NewPruner(NewMemoryStore(), &RetentionConfig{PruneSchedule: "0 3 * * *"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pruner.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !pruner.IsRunning() {
		t.Error("Pruner should be running after start")
	}

	pruner.Stop()
	if pruner.IsRunning() {
		t.Error("Pruner should not be running after stop")
	}
}

func TestPruner_EmptyScheduleIsNoop(t *testing.T) {
	pruner := NewPruner(NewMemoryStore(), &RetentionConfig{})

	if err := pruner.Start(context.Background()); err != nil {
		t.Fatalf("Start() with empty schedule failed: %v", err)
	}
	if pruner.IsRunning() {
		t.Error("Pruner should stay idle with no schedule")
	}
}

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

// Pruned row counts land in the storage counters.
func TestPruner_MetricsCountPrunedRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -120)

	seed := []error{
		store.SaveRequest(ctx, record("old-req", old, 0, false)),
		store.SaveSession(ctx, &session.Session{ID: "old-sess", EndTime: old}),
		store.SaveAlert(ctx, &alerting.Alert{ID: "old-alert", Status: alerting.StatusResolved, CreatedAt: old}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("Seeding store failed: %v", err)
		}
	}

	collector := metrics.NewCollector(&config.MetricsConfig{}, nil)
	pruner := NewPruner(store, &RetentionConfig{
		RequestRetentionDays: 90,
		SessionRetentionDays: 90,
		AlertRetentionDays:   30,
	})
	pruner.SetMetrics(collector.Storage())

	total, err := pruner.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("Prune() deleted %d rows, want 3", total)
	}

	if got := metricTotal(t, collector, "flagwise_monitor_storage_pruned_total"); got != 3 {
		t.Errorf("storage_pruned_total = %v, want 3 across tables", got)
	}
}
