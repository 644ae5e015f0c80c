package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/llm"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

const defaultQuery = "User submitted a rental application without a question."

const systemPrompt = "You are an AI assistant helping Australian renters complete applications.\n" +
	"Follow these rules:\n" +
	"- Use only the provided context; do not invent details.\n" +
	"- Do not reveal or guess personal identifiers (emails, IDs, DOBs).\n" +
	"- Offer clear, concise, and polite guidance.\n"

func safeProfileSummary(profile map[string]any, state string) string {
	if len(profile) == 0 {
		return "No profile information provided."
	}
	parts := make([]string, 0, 4)
	if state != "" {
		parts = append(parts, fmt.Sprintf("State: %s", state))
	}
	if typeutil.Truthy(profile["employment_status"]) {
		parts = append(parts, fmt.Sprintf("Employment: %v", profile["employment_status"]))
	}
	if typeutil.Truthy(profile["income"]) {
		parts = append(parts, fmt.Sprintf("Declared income: %v", profile["income"]))
	}
	if history, _ := typeutil.SafeSlice(profile["rental_history"]); len(history) > 0 {
		parts = append(parts, fmt.Sprintf("Rental history entries: %d", len(history)))
	}
	if len(parts) == 0 {
		return "Basic renter profile provided."
	}
	return strings.Join(parts, " | ")
}

func summarizeRules(rules []map[string]any) string {
	if len(rules) == 0 {
		return "No compliance rules recorded."
	}
	lines := []string{"Compliance rules:"}
	for _, r := range rules {
		name := typeutil.SafeStringDefault(r["rule_name"], "Unnamed rule")
		lines = append(lines, fmt.Sprintf("- %s: %s", name, typeutil.SafeStringDefault(r["rule_text"], "")))
	}
	return strings.Join(lines, "\n")
}

func summarizeGuardrails(findings []map[string]any) string {
	if len(findings) == 0 {
		return "No guardrails violations detected."
	}
	lines := []string{"Guardrails findings:"}
	for _, f := range findings {
		field := typeutil.SafeStringDefault(f["field"], "unknown_field")
		severity := typeutil.SafeStringDefault(f["severity"], "info")
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s", severity, field, typeutil.SafeStringDefault(f["reason"], "")))
	}
	return strings.Join(lines, "\n")
}

func summarizeMemory(snippet []map[string]any) string {
	if len(snippet) == 0 {
		return "No prior memory entries found."
	}
	lines := []string{"Recent related context:"}
	for _, m := range snippet {
		lines = append(lines, fmt.Sprintf("* Query: %s", typeutil.SafeStringDefault(m["query"], "<no query>")))
		if docs := typeutil.SafeStringSliceDefault(m["retrieved_docs"], nil); len(docs) > 0 {
			doc := docs[0]
			if len(doc) > 100 {
				doc = doc[:100]
			}
			lines = append(lines, fmt.Sprintf("  - Example doc: %s...", doc))
		}
	}
	return strings.Join(lines, "\n")
}

func mapSlice(value any) []map[string]any {
	if maps, ok := value.([]map[string]any); ok {
		return maps
	}
	items, _ := typeutil.SafeSlice(value)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := typeutil.SafeMapStringAny(item); ok {
			out = append(out, m)
		}
	}
	return out
}

// ResponseHandler composes the structured final response from the
// compliance, guardrails, and retrieval outputs. With a provider configured
// the message is generated; otherwise a static guidance template is used. A
// provider failure degrades to the canned fallback, never an error.
func ResponseHandler(provider llm.Provider) HandleFunc {
	return func(ctx context.Context, env *envelope.Envelope) error {
		p := env.Payload

		state := typeutil.SafeStringDefault(p["state"], "")
		profile := typeutil.SafeMapStringAnyDefault(p["profile"], map[string]any{})
		email := typeutil.SafeStringDefault(profile["email"], "")
		if email == "" {
			email = typeutil.SafeStringDefault(p["email"], "")
		}
		missing := typeutil.SafeStringSliceDefault(p["missing"], nil)
		query := typeutil.SafeStringDefault(p["query"], defaultQuery)

		kb := typeutil.SafeMapStringAnyDefault(p["kb"], nil)
		retrievedDocs := typeutil.SafeStringSliceDefault(kb["retrieved_docs"], nil)
		complianceRules := mapSlice(p["compliance_rules"])
		findings := mapSlice(p["guardrails_findings"])
		snippet := mapSlice(p["memory_snippet"])

		missingText := "None"
		if len(missing) > 0 {
			missingText = strings.Join(missing, ", ")
		}
		docsText := "None."
		if len(retrievedDocs) > 0 {
			docLines := make([]string, len(retrievedDocs))
			for i, d := range retrievedDocs {
				docLines[i] = "- " + d
			}
			docsText = strings.Join(docLines, "\n")
		}

		contextBlock := strings.Join([]string{
			fmt.Sprintf("Profile summary: %s", safeProfileSummary(profile, state)),
			fmt.Sprintf("Missing fields: %s", missingText),
			summarizeRules(complianceRules),
			summarizeGuardrails(findings),
			"Retrieved guidance documents:",
			docsText,
			summarizeMemory(snippet),
		}, "\n\n")

		var message string
		fallbackUsed := false
		if provider != nil {
			userPrompt := fmt.Sprintf(
				"Renter query:\n%s\n\nContext:\n%s\n\nWrite a short, friendly, and informative response.",
				query, contextBlock)
			result := llm.GenerateWithFallback(ctx, provider, systemPrompt, userPrompt)
			message = result.Text
			fallbackUsed = result.FallbackUsed
		} else {
			stateText := state
			if stateText == "" {
				stateText = "your state"
			}
			message = fmt.Sprintf(
				"Please ensure all required ID, income, and rental history documents are provided for %s’s rental application.",
				stateText)
		}

		ruleNames := make([]string, 0, len(complianceRules))
		for _, r := range complianceRules {
			ruleNames = append(ruleNames, typeutil.SafeStringDefault(r["rule_name"], ""))
		}

		timestamp := time.Now().UTC().Format(time.RFC3339)
		if email != "" && !typeutil.Truthy(profile["email"]) {
			profile["email"] = email
		}

		final := map[string]any{
			"state":         state,
			"email":         email,
			"query":         query,
			"message":       message,
			"missing":       missing,
			"timestamp":     timestamp,
			"fallback_used": fallbackUsed,
			"profile":       profile,
			"context_used": map[string]any{
				"retrieved_docs":      retrievedDocs,
				"compliance_rules":    ruleNames,
				"guardrails_findings": findings,
			},
		}

		if email == "" {
			log.Warn().Str("request_id", env.RequestID()).Msg("response_missing_email")
		}

		env.Set("final_response", final)
		env.Set("profile", profile)
		env.Set("email", email)
		if !env.Has("timestamp") {
			env.Set("timestamp", timestamp)
		}

		log.Info().Str("state", state).Int("missing", len(missing)).Msg("response_composed")
		return nil
	}
}
