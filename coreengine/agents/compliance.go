package agents

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/compliance"
	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
	"github.com/leaseflow/coreengine/coreengine/validation"
)

// MergeExtracted folds document extraction results into the profile without
// overwriting fields the applicant supplied directly.
func MergeExtracted(profile, extracted map[string]any) map[string]any {
	if len(extracted) == 0 {
		return profile
	}
	payslip := typeutil.SafeMapStringAnyDefault(extracted["payslip"], extracted)

	if !typeutil.Truthy(profile["income"]) {
		for _, key := range []string{"salary", "gross_income"} {
			if amount, ok := typeutil.CoerceFloat(payslip[key]); ok && amount > 0 {
				profile["income"] = amount
				break
			}
			if typeutil.Truthy(payslip[key]) {
				log.Warn().Interface("value", payslip[key]).Msg("invalid_income_value")
			}
		}
	}
	if !typeutil.Truthy(profile["employer"]) {
		for _, key := range []string{"employer", "employer_name"} {
			if typeutil.Truthy(payslip[key]) {
				profile["employer"] = payslip[key]
				break
			}
		}
	}
	return profile
}

// ComplianceHandler merges extracted document data into the profile, checks
// the jurisdiction's required fields, and evaluates its compliance rules.
func ComplianceHandler(evaluator *compliance.Evaluator) HandleFunc {
	return func(ctx context.Context, env *envelope.Envelope) error {
		state := typeutil.SafeStringDefault(env.Payload["state"], "")
		profile := typeutil.SafeMapStringAnyDefault(env.Payload["profile"], map[string]any{})
		extracted := typeutil.SafeMapStringAnyDefault(env.Payload["extracted"], nil)

		profile = MergeExtracted(profile, extracted)
		missing := validation.Validate(state, profile)
		result := evaluator.Evaluate(ctx, env.RequestID(), state, profile)

		ruleList := make([]map[string]any, 0)
		for _, rule := range evaluator.Rules(ctx, state) {
			ruleList = append(ruleList, map[string]any{
				"rule_name": rule.Name,
				"rule_text": rule.Description,
			})
		}

		env.Set("profile", profile)
		env.Set("missing", missing)
		env.Set("compliance", map[string]any{
			"passed":      result.Passed,
			"failed":      result.Failed,
			"unknown":     result.Unknown,
			"total_rules": result.TotalRules,
		})
		env.Set("compliance_rules", ruleList)

		log.Info().Str("state", state).
			Int("missing", len(missing)).
			Int("failed", len(result.Failed)).
			Msg("compliance_checked")
		return nil
	}
}
