package agents

import (
	"context"

	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/guardrails"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

// GuardrailsHandler redacts sensitive values in the profile and records the
// findings on the payload.
func GuardrailsHandler(scanner *guardrails.Scanner) HandleFunc {
	return func(ctx context.Context, env *envelope.Envelope) error {
		profile := typeutil.SafeMapStringAnyDefault(env.Payload["profile"], map[string]any{})

		findings := scanner.ScanProfile(ctx, env.RequestID(), profile)

		asMaps := make([]map[string]any, 0, len(findings))
		for _, f := range findings {
			asMaps = append(asMaps, map[string]any{
				"field":    f.Field,
				"severity": f.Severity,
				"reason":   f.Reason,
			})
		}

		env.Set("profile", profile)
		env.Set("guardrails_findings", asMaps)
		return nil
	}
}
