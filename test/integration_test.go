//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/config"
	"github.com/flagwise/flagwise/pkg/detect"
	"github.com/flagwise/flagwise/pkg/pipeline"
	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/server"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/storage"
)

const integrationRules = `
detection_rules:
  - id: "det-ssn"
    name: "SSN leak"
    category: "data_privacy"
    rule_type: "regex"
    pattern: '\b\d{3}-\d{2}-\d{4}\b'
    severity: "critical"
    points: 80
    priority: 10
    stop_on_match: true
    is_active: true

  - id: "det-jailbreak"
    name: "Jailbreak attempt"
    category: "security"
    rule_type: "keyword"
    pattern: "ignore previous instructions,DAN mode"
    severity: "high"
    points: 50
    priority: 20
    is_active: true

alert_rules:
  - id: "alert-ssn"
    name: "SSN detection"
    rule_type: "detection_rule"
    severity: "critical"
    detection_rule_ids: ["det-ssn"]
    is_active: true

  - id: "alert-flag-burst"
    name: "Repeated flagged requests"
    rule_type: "threshold"
    severity: "high"
    threshold_config:
      metric: "flagged_count"
      operator: "gte"
      window: 10m
      limit: 3
    is_active: true
`

// TestMonitoringIntegration exercises the end-to-end flow: rules loaded
// from a file on disk, prompt/response pairs posted over HTTP, scoring,
// session tracking, alerting, and the read API.
func TestMonitoringIntegration(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte(integrationRules), 0o644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	store := storage.NewMemoryStore()

	loader, err := rules.NewLoader(rules.NewFileSource(rulesPath, nil), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	engine, err := detect.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create detection engine: %v", err)
	}
	aggregator, err := session.NewAggregator(nil, store, nil)
	if err != nil {
		t.Fatalf("Failed to create aggregator: %v", err)
	}
	alertEngine, err := alerting.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create alert engine: %v", err)
	}
	monitor, err := pipeline.NewMonitor(pipeline.MonitorOptions{
		Loader:     loader,
		Engine:     engine,
		Aggregator: aggregator,
		Alerts:     alertEngine,
		Store:      store,
	})
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}
	defer monitor.Close(context.Background())

	serverCfg := config.DefaultConfig().Server
	srv := server.NewServer(&serverCfg, nil, monitor, store, nil)

	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	postPair := func(t *testing.T, pair map[string]any) *http.Response {
		t.Helper()
		body, err := json.Marshal(pair)
		if err != nil {
			t.Fatalf("Failed to marshal pair: %v", err)
		}
		resp, err := http.Post(testServer.URL+"/chatbots/monitor", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("Failed to send monitor request: %v", err)
		}
		return resp
	}

	type monitorResult struct {
		RequestID      string            `json:"request_id"`
		RiskScore      int               `json:"risk_score"`
		IsFlagged      bool              `json:"is_flagged"`
		FlagReason     string            `json:"flag_reason"`
		MatchedRuleIDs []string          `json:"matched_rule_ids"`
		Session        *session.Session  `json:"session"`
		Alerts         []*alerting.Alert `json:"alerts"`
	}

	var ssnAlertID string

	t.Run("clean request passes", func(t *testing.T) {
		resp := postPair(t, map[string]any{
			"src_ip":   "10.0.0.1",
			"provider": "openai",
			"model":    "gpt-4",
			"prompt":   "What is the capital of France?",
			"response": "The capital of France is Paris.",
		})
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Status code = %v, want %v", resp.StatusCode, http.StatusOK)
		}

		var result monitorResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.RiskScore != 0 || result.IsFlagged {
			t.Errorf("Clean request scored %d flagged=%v, want 0/false", result.RiskScore, result.IsFlagged)
		}
		if result.Session == nil || result.Session.RequestCount != 1 {
			t.Errorf("Session = %+v, want one tracked request", result.Session)
		}
	})

	t.Run("ssn leak is flagged and alerts", func(t *testing.T) {
		resp := postPair(t, map[string]any{
			"src_ip":   "10.0.0.1",
			"provider": "openai",
			"model":    "gpt-4",
			"prompt":   "What is my record?",
			"response": "Your SSN on file is 123-45-6789.",
		})
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Status code = %v, want %v", resp.StatusCode, http.StatusOK)
		}

		var result monitorResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.RiskScore != 80 || !result.IsFlagged {
			t.Errorf("Scored %d flagged=%v, want 80/true", result.RiskScore, result.IsFlagged)
		}
		if !strings.Contains(result.FlagReason, "SSN leak") {
			t.Errorf("Flag reason = %q, want the matched rule named", result.FlagReason)
		}
		if result.Session == nil || result.Session.FlaggedCount != 1 {
			t.Errorf("Session = %+v, want one flagged request", result.Session)
		}

		if len(result.Alerts) != 1 {
			t.Fatalf("Got %d alerts, want 1", len(result.Alerts))
		}
		alert := result.Alerts[0]
		if alert.Status != alerting.StatusNew || alert.SourceID != "alert-ssn" {
			t.Errorf("Alert = %+v, want new alert from alert-ssn", alert)
		}
		ssnAlertID = alert.ID
	})

	t.Run("duplicate alert is suppressed", func(t *testing.T) {
		resp := postPair(t, map[string]any{
			"src_ip":   "10.0.0.1",
			"prompt":   "Again please",
			"response": "SSN: 987-65-4321",
		})
		defer resp.Body.Close()

		var result monitorResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if !result.IsFlagged {
			t.Error("Repeat leak should still be flagged")
		}
		if len(result.Alerts) != 0 {
			t.Errorf("Got %d alerts, want 0 while the first is open", len(result.Alerts))
		}
	})

	t.Run("request records become queryable", func(t *testing.T) {
		// Persistence is asynchronous; give the recorder a moment.
		var total int64
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := http.Get(testServer.URL + "/requests?flagged=true")
			if err != nil {
				t.Fatalf("Failed to list requests: %v", err)
			}
			var listResp struct {
				Requests []*storage.RequestRecord `json:"requests"`
				Total    int64                    `json:"total"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
				resp.Body.Close()
				t.Fatalf("Failed to decode list response: %v", err)
			}
			resp.Body.Close()
			total = listResp.Total
			if total == 2 {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		t.Fatalf("Flagged request count = %d, want 2", total)
	})

	t.Run("stats reflect traffic", func(t *testing.T) {
		resp, err := http.Get(testServer.URL + "/requests/stats")
		if err != nil {
			t.Fatalf("Failed to fetch stats: %v", err)
		}
		defer resp.Body.Close()

		var stats storage.Stats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			t.Fatalf("Failed to decode stats: %v", err)
		}
		if stats.TotalRequests != 3 || stats.FlaggedRequests != 2 {
			t.Errorf("Stats = %d total / %d flagged, want 3/2", stats.TotalRequests, stats.FlaggedRequests)
		}
	})

	t.Run("csv export", func(t *testing.T) {
		resp, err := http.Get(testServer.URL + "/requests/export?format=csv")
		if err != nil {
			t.Fatalf("Failed to export: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Status code = %v, want %v", resp.StatusCode, http.StatusOK)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
			t.Errorf("Content-Type = %q, want text/csv", ct)
		}
	})

	t.Run("alert lifecycle over http", func(t *testing.T) {
		if ssnAlertID == "" {
			t.Fatal("No alert ID captured by earlier subtest")
		}

		ackBody := bytes.NewReader([]byte(`{"by":"analyst"}`))
		resp, err := http.Post(testServer.URL+"/alerts/"+ssnAlertID+"/acknowledge", "application/json", ackBody)
		if err != nil {
			t.Fatalf("Failed to acknowledge: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Acknowledge status = %v, want %v", resp.StatusCode, http.StatusOK)
		}

		resolveBody := bytes.NewReader([]byte(`{"by":"analyst"}`))
		resp, err = http.Post(testServer.URL+"/alerts/"+ssnAlertID+"/resolve", "application/json", resolveBody)
		if err != nil {
			t.Fatalf("Failed to resolve: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Resolve status = %v, want %v", resp.StatusCode, http.StatusOK)
		}

		listResp, err := http.Get(testServer.URL + "/alerts?status=resolved")
		if err != nil {
			t.Fatalf("Failed to list alerts: %v", err)
		}
		defer listResp.Body.Close()

		var alerts struct {
			Alerts []*alerting.Alert `json:"alerts"`
		}
		if err := json.NewDecoder(listResp.Body).Decode(&alerts); err != nil {
			t.Fatalf("Failed to decode alerts: %v", err)
		}
		if len(alerts.Alerts) != 1 || alerts.Alerts[0].ResolvedBy != "analyst" {
			t.Errorf("Resolved alerts = %+v, want one resolved by analyst", alerts.Alerts)
		}
	})

	t.Run("resolving releases alert suppression", func(t *testing.T) {
		resp := postPair(t, map[string]any{
			"src_ip":   "10.0.0.1",
			"prompt":   "One more",
			"response": "SSN 222-33-4444",
		})
		defer resp.Body.Close()

		var result monitorResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		// The SSN rule refires now that its alert is resolved, and this
		// actor's third flagged request trips the burst threshold.
		fired := make(map[string]bool)
		for _, alert := range result.Alerts {
			fired[alert.SourceID] = true
		}
		if !fired["alert-ssn"] || !fired["alert-flag-burst"] {
			t.Errorf("Fired alerts = %v, want alert-ssn and alert-flag-burst", fired)
		}
	})

	t.Run("per-actor sessions stay separate", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := postPair(t, map[string]any{
				"src_ip":   fmt.Sprintf("10.0.1.%d", i),
				"prompt":   "hello",
				"response": "hi there",
			})
			resp.Body.Close()
		}

		resp, err := http.Get(testServer.URL + "/sessions?actor_key=10.0.1.0")
		if err != nil {
			t.Fatalf("Failed to list sessions: %v", err)
		}
		defer resp.Body.Close()

		// Sessions persist on finalization only; live ones are not listed.
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Status code = %v, want %v", resp.StatusCode, http.StatusOK)
		}
	})
}

// TestRuleReloadIntegration verifies that editing the rules file changes
// scoring without a restart.
func TestRuleReloadIntegration(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte("detection_rules: []\nalert_rules: []\n"), 0o644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	store := storage.NewMemoryStore()
	loader, err := rules.NewLoader(rules.NewFileSource(rulesPath, nil), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	engine, err := detect.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create detection engine: %v", err)
	}
	aggregator, err := session.NewAggregator(nil, store, nil)
	if err != nil {
		t.Fatalf("Failed to create aggregator: %v", err)
	}
	alertEngine, err := alerting.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create alert engine: %v", err)
	}
	monitor, err := pipeline.NewMonitor(pipeline.MonitorOptions{
		Loader:     loader,
		Engine:     engine,
		Aggregator: aggregator,
		Alerts:     alertEngine,
		Store:      store,
	})
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}
	defer monitor.Close(context.Background())

	ctx := context.Background()

	outcome, err := monitor.Process(ctx, &detect.Pair{
		SrcIP:    "10.0.0.9",
		Prompt:   "the password is hunter2",
		Response: "noted",
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if outcome.Result.RiskScore != 0 {
		t.Fatalf("Score before reload = %d, want 0", outcome.Result.RiskScore)
	}

	updated := `
detection_rules:
  - id: "det-password"
    name: "Password leak"
    category: "security"
    rule_type: "keyword"
    pattern: "password"
    severity: "high"
    points: 70
    priority: 1
    is_active: true
`
	if err := os.WriteFile(rulesPath, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to rewrite rules file: %v", err)
	}
	if err := loader.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	outcome, err = monitor.Process(ctx, &detect.Pair{
		SrcIP:    "10.0.0.9",
		Prompt:   "the password is hunter2",
		Response: "noted",
	})
	if err != nil {
		t.Fatalf("Process() after reload failed: %v", err)
	}
	if outcome.Result.RiskScore != 70 || !outcome.Result.IsFlagged {
		t.Errorf("Score after reload = %d flagged=%v, want 70/true", outcome.Result.RiskScore, outcome.Result.IsFlagged)
	}
}
