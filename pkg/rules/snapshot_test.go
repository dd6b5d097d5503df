package rules

import (
	"testing"
	"time"
)

func activeRule(id string, priority int) *DetectionRule {
	return &DetectionRule{
		ID:       id,
		Name:     "rule " + id,
		Category: CategorySecurity,
		RuleType: RuleTypeKeyword,
		Pattern:  "secret",
		Severity: SeverityMedium,
		Points:   10,
		Priority: priority,
		IsActive: true,
	}
}

func TestNewSnapshot_EvaluationOrder(t *testing.T) {
	detection := []*DetectionRule{
		activeRule("rule-c", 20),
		activeRule("rule-b", 10),
		activeRule("rule-a", 10),
	}

	snap := NewSnapshot(1, detection, nil)

	got := make([]string, 0, len(snap.Detection))
	for _, r := range snap.Detection {
		got = append(got, r.ID)
	}

	// Ascending priority, equal priorities ordered by ID.
	want := []string{"rule-a", "rule-b", "rule-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Evaluation order = %v, want %v", got, want)
		}
	}
}

func TestNewSnapshot_DropsInactive(t *testing.T) {
	inactive := activeRule("rule-off", 10)
	inactive.IsActive = false

	snap := NewSnapshot(1, []*DetectionRule{activeRule("rule-on", 10), inactive}, nil)

	if len(snap.Detection) != 1 {
		t.Fatalf("Expected 1 compiled rule, got %d", len(snap.Detection))
	}
	if snap.Detection[0].ID != "rule-on" {
		t.Errorf("Kept rule = %q, want rule-on", snap.Detection[0].ID)
	}
}

func TestNewSnapshot_KeepsBrokenRulesWithErr(t *testing.T) {
	broken := activeRule("rule-broken", 10)
	broken.RuleType = RuleTypeRegex
	broken.Pattern = `([`

	snap := NewSnapshot(1, []*DetectionRule{broken, activeRule("rule-ok", 20)}, nil)

	if len(snap.Detection) != 2 {
		t.Fatalf("Expected 2 compiled rules, got %d", len(snap.Detection))
	}

	byID := map[string]*CompiledRule{}
	for _, r := range snap.Detection {
		byID[r.ID] = r
	}
	if byID["rule-broken"].Err == nil {
		t.Error("Broken rule should carry Err")
	}
	if byID["rule-ok"].Err != nil {
		t.Errorf("Valid rule should not carry Err: %v", byID["rule-ok"].Err)
	}

	active := snap.ActiveDetectionRules()
	if len(active) != 1 || active[0].ID != "rule-ok" {
		t.Errorf("ActiveDetectionRules should exclude broken rules, got %d", len(active))
	}
}

func TestNewSnapshot_FieldValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DetectionRule)
	}{
		{"missing name", func(r *DetectionRule) { r.Name = "" }},
		{"bad category", func(r *DetectionRule) { r.Category = "networking" }},
		{"bad severity", func(r *DetectionRule) { r.Severity = "fatal" }},
		{"points too high", func(r *DetectionRule) { r.Points = 101 }},
		{"negative points", func(r *DetectionRule) { r.Points = -1 }},
		{"priority too high", func(r *DetectionRule) { r.Priority = 1001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := activeRule("rule-1", 10)
			tt.mutate(rule)

			snap := NewSnapshot(1, []*DetectionRule{rule}, nil)
			if len(snap.Detection) != 1 {
				t.Fatalf("Rule should be kept, got %d entries", len(snap.Detection))
			}
			if snap.Detection[0].Err == nil {
				t.Error("Invalid rule should carry Err")
			}
		})
	}
}

func TestNewSnapshot_AlertRuleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rule    *AlertRule
		wantErr bool
	}{
		{
			name: "valid threshold",
			rule: &AlertRule{
				ID: "a1", Name: "n", RuleType: AlertRuleThreshold, Severity: SeverityHigh,
				Threshold: &ThresholdConfig{
					Metric: MetricFlaggedCount, Operator: OperatorGreaterEqual,
					Window: 10 * time.Minute, Limit: 3,
				},
				IsActive: true,
			},
		},
		{
			name: "threshold missing config",
			rule: &AlertRule{
				ID: "a2", RuleType: AlertRuleThreshold, Severity: SeverityHigh, IsActive: true,
			},
			wantErr: true,
		},
		{
			name: "windowed metric without window",
			rule: &AlertRule{
				ID: "a3", RuleType: AlertRuleThreshold, Severity: SeverityHigh,
				Threshold: &ThresholdConfig{
					Metric: MetricRequestCount, Operator: OperatorGreaterThan, Limit: 50,
				},
				IsActive: true,
			},
			wantErr: true,
		},
		{
			name: "session metric without window is fine",
			rule: &AlertRule{
				ID: "a4", RuleType: AlertRuleThreshold, Severity: SeverityCritical,
				Threshold: &ThresholdConfig{
					Metric: MetricRiskScore, Operator: OperatorGreaterEqual, Limit: 90,
				},
				IsActive: true,
			},
		},
		{
			name: "detection rule without IDs",
			rule: &AlertRule{
				ID: "a5", RuleType: AlertRuleDetection, Severity: SeverityHigh, IsActive: true,
			},
			wantErr: true,
		},
		{
			name: "valid detection rule",
			rule: &AlertRule{
				ID: "a6", RuleType: AlertRuleDetection, Severity: SeverityHigh,
				DetectionRuleIDs: []string{"det-1"}, IsActive: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := NewSnapshot(1, nil, []*AlertRule{tt.rule})
			if len(snap.Alerts) != 1 {
				t.Fatalf("Expected 1 alert rule, got %d", len(snap.Alerts))
			}
			if (snap.Alerts[0].Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", snap.Alerts[0].Err, tt.wantErr)
			}
		})
	}
}

func TestSnapshot_DetectionRuleByID(t *testing.T) {
	snap := NewSnapshot(1, []*DetectionRule{activeRule("rule-a", 10)}, nil)

	if snap.DetectionRuleByID("rule-a") == nil {
		t.Error("Expected to find rule-a")
	}
	if snap.DetectionRuleByID("rule-z") != nil {
		t.Error("Expected nil for unknown rule ID")
	}
}
