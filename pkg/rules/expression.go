package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Expression is a detection rule's pattern compiled into a typed form.
// Exactly one of the type-specific fields is populated, matching the rule's
// RuleType. Compilation happens once at snapshot build; evaluation never
// parses the raw pattern string.
type Expression struct {
	// Terms holds lowercased literal terms for keyword and custom_scoring
	// rules.
	Terms []string

	// Logic combines Terms for custom_scoring rules. Keyword rules are
	// always OR.
	Logic Logic

	// Regex is the compiled pattern for regex rules.
	Regex *regexp.Regexp

	// ModelAllow, when true, means Models is an allow list and any model
	// outside it violates the rule. When false, Models is a deny list.
	ModelAllow bool

	// Models holds lowercased model identifiers for model_restriction rules.
	Models []string
}

// CompiledRule pairs a DetectionRule with its compiled expression.
// If pattern compilation failed, Err is set and the rule is skipped at
// evaluation time, surfaced as a per-evaluation diagnostic.
type CompiledRule struct {
	DetectionRule
	Expr *Expression
	Err  error
}

// Compile parses a detection rule's pattern into an Expression.
func Compile(rule *DetectionRule) (*Expression, error) {
	switch rule.RuleType {
	case RuleTypeKeyword:
		terms := splitTerms(rule.Pattern)
		if len(terms) == 0 {
			return nil, &PatternError{RuleID: rule.ID, RuleType: rule.RuleType, Message: "no keyword terms"}
		}
		return &Expression{Terms: terms, Logic: LogicOR}, nil

	case RuleTypeRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, &PatternError{RuleID: rule.ID, RuleType: rule.RuleType, Message: "invalid regex", Cause: err}
		}
		return &Expression{Regex: re}, nil

	case RuleTypeModelRestriction:
		return compileModelList(rule)

	case RuleTypeCustomScoring:
		terms := splitTerms(rule.Pattern)
		if len(terms) == 0 {
			return nil, &PatternError{RuleID: rule.ID, RuleType: rule.RuleType, Message: "no scoring terms"}
		}
		logic := rule.CombinationLogic
		if !logic.Valid() {
			logic = LogicAND
		}
		return &Expression{Terms: terms, Logic: logic}, nil

	default:
		return nil, &PatternError{RuleID: rule.ID, RuleType: rule.RuleType, Message: "unknown rule type"}
	}
}

// compileModelList parses a model_restriction pattern of the form
// "deny:model-a,model-b" or "allow:model-a,model-b". A bare list without a
// prefix is treated as a deny list.
func compileModelList(rule *DetectionRule) (*Expression, error) {
	pattern := strings.TrimSpace(rule.Pattern)
	allow := false

	switch {
	case strings.HasPrefix(pattern, "allow:"):
		allow = true
		pattern = strings.TrimPrefix(pattern, "allow:")
	case strings.HasPrefix(pattern, "deny:"):
		pattern = strings.TrimPrefix(pattern, "deny:")
	}

	models := splitTerms(pattern)
	if len(models) == 0 {
		return nil, &PatternError{RuleID: rule.ID, RuleType: rule.RuleType, Message: "no model identifiers"}
	}

	return &Expression{ModelAllow: allow, Models: models}, nil
}

// splitTerms splits a comma-delimited pattern into trimmed, lowercased,
// non-empty terms.
func splitTerms(pattern string) []string {
	parts := strings.Split(pattern, ",")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// PatternError indicates a rule pattern that could not be compiled.
// It isolates the failure to the offending rule; evaluation of other rules
// continues.
type PatternError struct {
	RuleID   string
	RuleType RuleType
	Message  string
	Cause    error
}

// Error returns the error message.
func (e *PatternError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rule %s (%s): %s: %v", e.RuleID, e.RuleType, e.Message, e.Cause)
	}
	return fmt.Sprintf("rule %s (%s): %s", e.RuleID, e.RuleType, e.Message)
}

// Unwrap returns the underlying cause.
func (e *PatternError) Unwrap() error {
	return e.Cause
}
