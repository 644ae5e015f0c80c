package agents

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

// IntentHandler infers the applicant's goal and request slots from the
// submitted form payload.
func IntentHandler() HandleFunc {
	return func(ctx context.Context, env *envelope.Envelope) error {
		state := strings.ToUpper(typeutil.SafeStringDefault(env.Payload["state"], ""))
		docs := typeutil.SafeStringSliceDefault(env.Payload["documents"], nil)

		hasPayslip := false
		for _, d := range docs {
			if strings.HasSuffix(strings.ToLower(d), ".pdf") {
				hasPayslip = true
				break
			}
		}

		env.Set("intent", "apply_rental")
		env.Set("slots", map[string]any{
			"state":       state,
			"has_payslip": hasPayslip,
			"doc_count":   len(docs),
		})

		log.Info().Str("state", state).Int("doc_count", len(docs)).Msg("intent_resolved")
		return nil
	}
}
