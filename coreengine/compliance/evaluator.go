// Package compliance evaluates jurisdiction rules against an applicant
// profile.
package compliance

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/storage"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

// Kind classifies what a compliance rule checks. The kind is assigned once
// when rules are loaded, so evaluation dispatches over a closed enum rather
// than re-parsing rule names.
type Kind string

const (
	KindIncome        Kind = "income"
	KindIdentity      Kind = "identity"
	KindReference     Kind = "reference"
	KindRentalHistory Kind = "rental_history"
	KindUnknown       Kind = "unknown"
)

// ClassifyRule maps a rule name to its kind. Names that fit no known
// category classify as KindUnknown.
func ClassifyRule(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "rental") || strings.Contains(lower, "history"):
		return KindRentalHistory
	case strings.Contains(lower, "reference"):
		return KindReference
	case strings.Contains(lower, "income") || strings.Contains(lower, "employment"):
		return KindIncome
	case strings.Contains(lower, "identity") || strings.Contains(lower, "id"):
		return KindIdentity
	default:
		return KindUnknown
	}
}

// Result is the outcome of evaluating every rule for a jurisdiction. Passed
// and Failed preserve the order rules were loaded in. Unknown lists rules
// that classified as no known kind; they are counted as passed.
type Result struct {
	Passed     []string `json:"passed"`
	Failed     []string `json:"failed"`
	Unknown    []string `json:"unknown,omitempty"`
	TotalRules int      `json:"total_rules"`
}

type predicate func(profile map[string]any) bool

var predicates = map[Kind]predicate{
	KindIncome: func(profile map[string]any) bool {
		value := profile["income"]
		if !typeutil.Truthy(value) {
			return false
		}
		if amount, ok := typeutil.CoerceFloat(value); ok {
			return amount > 0
		}
		return true
	},
	KindIdentity: func(profile map[string]any) bool {
		return typeutil.Truthy(profile["identity_document"]) || typeutil.Truthy(profile["drivers_license"])
	},
	KindReference: func(profile map[string]any) bool {
		return typeutil.Truthy(profile["references"])
	},
	KindRentalHistory: func(profile map[string]any) bool {
		return typeutil.Truthy(profile["rental_history"])
	},
}

// RuleSource supplies per-jurisdiction rules, typically the SQLite store.
type RuleSource interface {
	ComplianceRulesFor(ctx context.Context, state string) ([]storage.Rule, error)
}

// Evaluator loads jurisdiction rules and checks profiles against them.
type Evaluator struct {
	source RuleSource
	bus    commbus.CommBus
}

// NewEvaluator creates an evaluator backed by source. A nil source uses the
// built-in fallback rules.
func NewEvaluator(source RuleSource, bus commbus.CommBus) *Evaluator {
	return &Evaluator{source: source, bus: bus}
}

func (e *Evaluator) rulesFor(ctx context.Context, state string) []storage.Rule {
	if e.source != nil {
		rules, err := e.source.ComplianceRulesFor(ctx, state)
		if err != nil {
			log.Warn().Str("state", state).Err(err).Msg("compliance_rules_load_failed")
		} else if len(rules) > 0 {
			return rules
		}
	}
	fallback := config.FallbackComplianceRules[state]
	rules := make([]storage.Rule, 0, len(fallback))
	for _, r := range fallback {
		rules = append(rules, storage.Rule{State: state, Name: r.Name, Description: r.Description})
	}
	return rules
}

// Rules returns the effective rules for a jurisdiction: stored rules when
// available, otherwise the built-in fallback.
func (e *Evaluator) Rules(ctx context.Context, state string) []storage.Rule {
	return e.rulesFor(ctx, state)
}

// Evaluate checks every rule for the jurisdiction against the profile. A
// jurisdiction with no rules yields an empty result with zero totals. Rules
// of unknown kind pass and are surfaced in Result.Unknown.
func (e *Evaluator) Evaluate(ctx context.Context, requestID, state string, profile map[string]any) Result {
	rules := e.rulesFor(ctx, state)

	result := Result{
		Passed:     make([]string, 0, len(rules)),
		Failed:     make([]string, 0),
		TotalRules: len(rules),
	}
	for _, rule := range rules {
		kind := ClassifyRule(rule.Name)
		check, ok := predicates[kind]
		if !ok {
			log.Warn().Str("rule", rule.Name).Str("state", state).Msg("compliance_rule_kind_unknown")
			result.Unknown = append(result.Unknown, rule.Name)
			result.Passed = append(result.Passed, rule.Name)
			continue
		}
		if check(profile) {
			result.Passed = append(result.Passed, rule.Name)
		} else {
			result.Failed = append(result.Failed, rule.Name)
		}
	}

	if e.bus != nil {
		_ = e.bus.Publish(ctx, &commbus.AuditRecorded{
			RequestID:    requestID,
			Action:       "compliance_check",
			Jurisdiction: state,
			Details: map[string]any{
				"passed":      len(result.Passed),
				"failed":      len(result.Failed),
				"total_rules": result.TotalRules,
			},
		})
	}
	return result
}
