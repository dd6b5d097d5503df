package rules

import (
	"fmt"
	"sort"
	"time"
)

// Snapshot is an immutable view of the active rule configuration.
// Detection rules are sorted ascending by (Priority, ID) so evaluation order
// is deterministic. Once built, a snapshot is never mutated; the Loader
// publishes new snapshots with an atomic pointer swap.
type Snapshot struct {
	// Version increases monotonically with each rebuild.
	Version uint64

	// BuiltAt is when the snapshot was constructed.
	BuiltAt time.Time

	// Detection holds compiled active detection rules in evaluation order.
	Detection []*CompiledRule

	// Alerts holds active alert rules. Rules with invalid configuration
	// carry a non-nil Err and are skipped by the alert engine.
	Alerts []*CompiledAlertRule
}

// CompiledAlertRule pairs an AlertRule with its validation state.
type CompiledAlertRule struct {
	AlertRule

	// Err is set when the rule's configuration is unusable (for threshold
	// rules, a malformed threshold config). Such rules are skipped per
	// evaluation cycle and logged as configuration errors.
	Err error
}

// NewSnapshot builds a snapshot from raw rule lists. Inactive rules are
// dropped. Detection rules with invalid fields or uncompilable patterns are
// kept with Err set so the engine can report them as diagnostics instead of
// silently losing configuration.
func NewSnapshot(version uint64, detection []*DetectionRule, alerts []*AlertRule) *Snapshot {
	snap := &Snapshot{
		Version: version,
		BuiltAt: time.Now(),
	}

	for _, r := range detection {
		if r == nil || !r.IsActive {
			continue
		}
		compiled := &CompiledRule{DetectionRule: *r}
		if err := validateDetectionRule(r); err != nil {
			compiled.Err = err
		} else if expr, err := Compile(r); err != nil {
			compiled.Err = err
		} else {
			compiled.Expr = expr
		}
		snap.Detection = append(snap.Detection, compiled)
	}

	// Ascending priority, ties broken by rule ID for determinism.
	sort.SliceStable(snap.Detection, func(i, j int) bool {
		if snap.Detection[i].Priority != snap.Detection[j].Priority {
			return snap.Detection[i].Priority < snap.Detection[j].Priority
		}
		return snap.Detection[i].ID < snap.Detection[j].ID
	})

	for _, a := range alerts {
		if a == nil || !a.IsActive {
			continue
		}
		compiled := &CompiledAlertRule{AlertRule: *a}
		compiled.Err = validateAlertRule(a)
		snap.Alerts = append(snap.Alerts, compiled)
	}

	return snap
}

// validateDetectionRule checks rule fields against their allowed domains.
func validateDetectionRule(r *DetectionRule) error {
	if r.ID == "" {
		return fmt.Errorf("detection rule missing id")
	}
	if r.Name == "" {
		return fmt.Errorf("detection rule %s: missing name", r.ID)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("detection rule %s: invalid category %q", r.ID, r.Category)
	}
	if !r.RuleType.Valid() {
		return fmt.Errorf("detection rule %s: invalid rule type %q", r.ID, r.RuleType)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("detection rule %s: invalid severity %q", r.ID, r.Severity)
	}
	if r.Points < 0 || r.Points > 100 {
		return fmt.Errorf("detection rule %s: points %d out of range [0,100]", r.ID, r.Points)
	}
	if r.Priority < 0 || r.Priority > 1000 {
		return fmt.Errorf("detection rule %s: priority %d out of range [0,1000]", r.ID, r.Priority)
	}
	return nil
}

// validateAlertRule checks alert rule configuration.
func validateAlertRule(a *AlertRule) error {
	if a.ID == "" {
		return fmt.Errorf("alert rule missing id")
	}
	if !a.RuleType.Valid() {
		return fmt.Errorf("alert rule %s: invalid rule type %q", a.ID, a.RuleType)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("alert rule %s: invalid severity %q", a.ID, a.Severity)
	}

	switch a.RuleType {
	case AlertRuleThreshold:
		if a.Threshold == nil {
			return fmt.Errorf("alert rule %s: threshold rule missing threshold_config", a.ID)
		}
		if !a.Threshold.Metric.Valid() {
			return fmt.Errorf("alert rule %s: invalid threshold metric %q", a.ID, a.Threshold.Metric)
		}
		if !a.Threshold.Operator.Valid() {
			return fmt.Errorf("alert rule %s: invalid threshold operator %q", a.ID, a.Threshold.Operator)
		}
		if a.Threshold.Limit < 0 {
			return fmt.Errorf("alert rule %s: negative threshold limit", a.ID)
		}
		if windowedMetric(a.Threshold.Metric) && a.Threshold.Window <= 0 {
			return fmt.Errorf("alert rule %s: threshold metric %q requires a positive window", a.ID, a.Threshold.Metric)
		}

	case AlertRuleDetection:
		if len(a.DetectionRuleIDs) == 0 {
			return fmt.Errorf("alert rule %s: detection_rule rule has no detection_rule_ids", a.ID)
		}
	}

	return nil
}

// windowedMetric reports whether the metric is counted over a sliding window
// rather than read from session state.
func windowedMetric(m ThresholdMetric) bool {
	return m == MetricFlaggedCount || m == MetricRequestCount
}

// ActiveDetectionRules returns the rules that compiled successfully, in
// evaluation order.
func (s *Snapshot) ActiveDetectionRules() []*CompiledRule {
	out := make([]*CompiledRule, 0, len(s.Detection))
	for _, r := range s.Detection {
		if r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

// DetectionRuleByID returns the compiled rule with the given ID, or nil.
func (s *Snapshot) DetectionRuleByID(id string) *CompiledRule {
	for _, r := range s.Detection {
		if r.ID == id {
			return r
		}
	}
	return nil
}
