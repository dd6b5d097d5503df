package rules

import (
	"errors"
	"testing"
)

func TestCompile_Keyword(t *testing.T) {
	rule := &DetectionRule{
		ID:       "kw-1",
		RuleType: RuleTypeKeyword,
		Pattern:  "Ignore Previous Instructions, DAN mode ,,",
	}

	expr, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}

	want := []string{"ignore previous instructions", "dan mode"}
	if len(expr.Terms) != len(want) {
		t.Fatalf("Expected %d terms, got %d", len(want), len(expr.Terms))
	}
	for i, term := range want {
		if expr.Terms[i] != term {
			t.Errorf("Term %d = %q, want %q", i, expr.Terms[i], term)
		}
	}
	if expr.Logic != LogicOR {
		t.Errorf("Keyword logic = %q, want OR", expr.Logic)
	}
}

func TestCompile_KeywordEmpty(t *testing.T) {
	rule := &DetectionRule{ID: "kw-2", RuleType: RuleTypeKeyword, Pattern: " , ,"}

	_, err := Compile(rule)
	if err == nil {
		t.Fatal("Expected error for empty keyword pattern")
	}

	var patternErr *PatternError
	if !errors.As(err, &patternErr) {
		t.Fatalf("Expected *PatternError, got %T", err)
	}
	if patternErr.RuleID != "kw-2" {
		t.Errorf("PatternError.RuleID = %q, want kw-2", patternErr.RuleID)
	}
}

func TestCompile_Regex(t *testing.T) {
	rule := &DetectionRule{
		ID:       "re-1",
		RuleType: RuleTypeRegex,
		Pattern:  `\b\d{3}-\d{2}-\d{4}\b`,
	}

	expr, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	if expr.Regex == nil {
		t.Fatal("Expected compiled regex")
	}
	if !expr.Regex.MatchString("ssn is 123-45-6789") {
		t.Error("Compiled regex should match an SSN")
	}
}

func TestCompile_RegexInvalid(t *testing.T) {
	rule := &DetectionRule{ID: "re-2", RuleType: RuleTypeRegex, Pattern: `([`}

	_, err := Compile(rule)
	if err == nil {
		t.Fatal("Expected error for invalid regex")
	}
	var patternErr *PatternError
	if !errors.As(err, &patternErr) {
		t.Fatalf("Expected *PatternError, got %T", err)
	}
	if patternErr.Unwrap() == nil {
		t.Error("Expected wrapped regexp error")
	}
}

func TestCompile_ModelRestriction(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		wantAllow bool
		wantLen   int
	}{
		{"allow list", "allow:gpt-4,claude-3-5-sonnet", true, 2},
		{"deny list", "deny:gpt-3.5-turbo", false, 1},
		{"bare list is deny", "GPT-4, llama-2", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &DetectionRule{ID: "mr", RuleType: RuleTypeModelRestriction, Pattern: tt.pattern}
			expr, err := Compile(rule)
			if err != nil {
				t.Fatalf("Compile() failed: %v", err)
			}
			if expr.ModelAllow != tt.wantAllow {
				t.Errorf("ModelAllow = %v, want %v", expr.ModelAllow, tt.wantAllow)
			}
			if len(expr.Models) != tt.wantLen {
				t.Errorf("len(Models) = %d, want %d", len(expr.Models), tt.wantLen)
			}
			for _, m := range expr.Models {
				if m != toLowerTrimmed(m) {
					t.Errorf("Model %q not lowercased", m)
				}
			}
		})
	}
}

func toLowerTrimmed(s string) string {
	terms := splitTerms(s)
	if len(terms) == 0 {
		return ""
	}
	return terms[0]
}

func TestCompile_ModelRestrictionEmpty(t *testing.T) {
	rule := &DetectionRule{ID: "mr-2", RuleType: RuleTypeModelRestriction, Pattern: "allow:"}
	if _, err := Compile(rule); err == nil {
		t.Fatal("Expected error for empty model list")
	}
}

func TestCompile_CustomScoring(t *testing.T) {
	rule := &DetectionRule{
		ID:               "cs-1",
		RuleType:         RuleTypeCustomScoring,
		Pattern:          "export all,customer",
		CombinationLogic: LogicAND,
	}

	expr, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	if expr.Logic != LogicAND {
		t.Errorf("Logic = %q, want AND", expr.Logic)
	}
	if len(expr.Terms) != 2 {
		t.Errorf("len(Terms) = %d, want 2", len(expr.Terms))
	}
}

func TestCompile_CustomScoringDefaultsToAND(t *testing.T) {
	rule := &DetectionRule{ID: "cs-2", RuleType: RuleTypeCustomScoring, Pattern: "a,b"}

	expr, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	if expr.Logic != LogicAND {
		t.Errorf("Missing combination logic should default to AND, got %q", expr.Logic)
	}
}

func TestCompile_UnknownRuleType(t *testing.T) {
	rule := &DetectionRule{ID: "x", RuleType: "sentiment", Pattern: "p"}
	if _, err := Compile(rule); err == nil {
		t.Fatal("Expected error for unknown rule type")
	}
}

func TestSeverityRankAndMax(t *testing.T) {
	if MaxSeverity(SeverityLow, SeverityCritical) != SeverityCritical {
		t.Error("MaxSeverity(low, critical) should be critical")
	}
	if MaxSeverity(SeverityHigh, SeverityMedium) != SeverityHigh {
		t.Error("MaxSeverity(high, medium) should be high")
	}
	if MaxSeverity("", SeverityLow) != SeverityLow {
		t.Error("MaxSeverity of empty and low should be low")
	}
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score int
		want  Severity
	}{
		{95, SeverityCritical},
		{90, SeverityCritical},
		{89, SeverityHigh},
		{70, SeverityHigh},
		{69, SeverityMedium},
		{40, SeverityMedium},
		{39, SeverityLow},
		{0, SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityForScore(tt.score); got != tt.want {
			t.Errorf("SeverityForScore(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestThresholdOperatorCompare(t *testing.T) {
	tests := []struct {
		op    ThresholdOperator
		value float64
		limit float64
		want  bool
	}{
		{OperatorGreaterThan, 5, 3, true},
		{OperatorGreaterThan, 3, 3, false},
		{OperatorGreaterEqual, 3, 3, true},
		{OperatorLessThan, 2, 3, true},
		{OperatorLessEqual, 3, 3, true},
		{"bogus", 5, 3, false},
	}
	for _, tt := range tests {
		if got := tt.op.Compare(tt.value, tt.limit); got != tt.want {
			t.Errorf("%q.Compare(%v, %v) = %v, want %v", tt.op, tt.value, tt.limit, got, tt.want)
		}
	}
}
