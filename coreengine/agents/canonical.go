package agents

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

var stateAliases = map[string]string{
	"NEW SOUTH WALES": "NSW",
	"VICTORIA":        "VIC",
	"QUEENSLAND":      "QLD",
}

// CanonicalState normalizes a jurisdiction name to its short code. Unknown
// names pass through uppercased; validation rejects them later.
func CanonicalState(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if short, ok := stateAliases[s]; ok {
		return short
	}
	return s
}

// CanonicalHandler normalizes the jurisdiction and common profile fields so
// downstream stages see one spelling of everything.
func CanonicalHandler() HandleFunc {
	return func(ctx context.Context, env *envelope.Envelope) error {
		profile := typeutil.SafeMapStringAnyDefault(env.Payload["profile"], map[string]any{})
		if email, ok := profile["email"].(string); ok {
			profile["email"] = strings.ToLower(strings.TrimSpace(email))
		}

		state := CanonicalState(typeutil.SafeStringDefault(env.Payload["state"], ""))
		env.Set("state", state)
		env.Set("profile", profile)

		log.Info().Str("state", state).Msg("canonicalized")
		return nil
	}
}
