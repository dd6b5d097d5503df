package detect

import (
	"fmt"
	"strings"

	"github.com/flagwise/flagwise/pkg/rules"
)

// matchOutcome is the result of running one rule's matcher against a pair.
type matchOutcome struct {
	matched bool

	// fragment is the text that satisfied the rule, included in the flag
	// reason.
	fragment string
}

// matchRule dispatches to the type-specific matcher. The rule's expression
// is assumed to have compiled; callers skip rules carrying a compile error.
func matchRule(rule *rules.CompiledRule, pair *Pair) matchOutcome {
	switch rule.RuleType {
	case rules.RuleTypeKeyword:
		return matchKeyword(rule.Expr, pair)
	case rules.RuleTypeRegex:
		return matchRegex(rule.Expr, pair)
	case rules.RuleTypeModelRestriction:
		return matchModelRestriction(rule.Expr, pair)
	case rules.RuleTypeCustomScoring:
		return matchCustomScoring(rule.Expr, pair)
	}
	return matchOutcome{}
}

// matchKeyword matches when any term is a case-insensitive substring of the
// prompt or the response.
func matchKeyword(expr *rules.Expression, pair *Pair) matchOutcome {
	prompt := strings.ToLower(pair.Prompt)
	response := strings.ToLower(pair.Response)

	for _, term := range expr.Terms {
		if strings.Contains(prompt, term) || strings.Contains(response, term) {
			return matchOutcome{matched: true, fragment: term}
		}
	}
	return matchOutcome{}
}

// matchRegex matches when the compiled expression finds a match in the
// prompt or the response. The first matched text becomes the fragment.
func matchRegex(expr *rules.Expression, pair *Pair) matchOutcome {
	if m := expr.Regex.FindString(pair.Prompt); m != "" {
		return matchOutcome{matched: true, fragment: m}
	}
	if m := expr.Regex.FindString(pair.Response); m != "" {
		return matchOutcome{matched: true, fragment: m}
	}
	return matchOutcome{}
}

// matchModelRestriction matches when the event's declared model violates the
// rule's allow or deny list. Events without a model never violate.
func matchModelRestriction(expr *rules.Expression, pair *Pair) matchOutcome {
	if pair.Model == "" {
		return matchOutcome{}
	}
	model := strings.ToLower(pair.Model)

	listed := false
	for _, m := range expr.Models {
		if m == model {
			listed = true
			break
		}
	}

	// Allow list: violation is a model outside the list.
	// Deny list: violation is a model on the list.
	if expr.ModelAllow != listed {
		return matchOutcome{matched: true, fragment: pair.Model}
	}
	return matchOutcome{}
}

// matchCustomScoring evaluates the rule's term expression against prompt and
// response text under the rule's combination logic: AND requires every term
// present, OR requires at least one.
func matchCustomScoring(expr *rules.Expression, pair *Pair) matchOutcome {
	prompt := strings.ToLower(pair.Prompt)
	response := strings.ToLower(pair.Response)

	var found []string
	for _, term := range expr.Terms {
		if strings.Contains(prompt, term) || strings.Contains(response, term) {
			found = append(found, term)
		}
	}

	switch expr.Logic {
	case rules.LogicAND:
		if len(found) == len(expr.Terms) {
			return matchOutcome{matched: true, fragment: strings.Join(found, "+")}
		}
	case rules.LogicOR:
		if len(found) > 0 {
			return matchOutcome{matched: true, fragment: found[0]}
		}
	}
	return matchOutcome{}
}

// reasonFor builds the flag reason entry for a matched rule.
func reasonFor(rule *rules.CompiledRule, outcome matchOutcome) string {
	if outcome.fragment == "" {
		return rule.Name
	}
	return fmt.Sprintf("%s (matched %q)", rule.Name, outcome.fragment)
}
