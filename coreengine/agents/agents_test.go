package agents

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseflow/coreengine/coreengine/compliance"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/guardrails"
	"github.com/leaseflow/coreengine/coreengine/memory"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

func intakeEnvelope(payload map[string]any) *envelope.Envelope {
	base := map[string]any{
		"state":     "NSW",
		"profile":   map[string]any{},
		"documents": []string{},
		"extracted": map[string]any{},
		"query":     "",
		"email":     "",
	}
	for k, v := range payload {
		base[k] = v
	}
	return envelope.NewIntake(base, "req-test")
}

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.text, s.err
}

// ===== STAGE AGENT =====

func TestStageAgentForwardsOnSuccess(t *testing.T) {
	cfg := &config.StageConfig{Name: envelope.StageIntent, StageOrder: 1}
	agent, err := NewStageAgent(cfg, IntentHandler(), nil)
	require.NoError(t, err)

	env := intakeEnvelope(nil)
	out, err := agent.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, envelope.StageIntent, out.Sender)
	assert.Equal(t, envelope.StageCanonical, out.Receiver)
	assert.True(t, out.Has("intent"))
}

func TestStageAgentRequiredKeyMissing(t *testing.T) {
	cfg := &config.StageConfig{
		Name:                envelope.StageCompliance,
		RequiredPayloadKeys: []string{"profile"},
	}
	agent, err := NewStageAgent(cfg, func(ctx context.Context, env *envelope.Envelope) error { return nil }, nil)
	require.NoError(t, err)

	env := envelope.NewIntake(map[string]any{"state": "NSW"}, "req-test")
	_, err = agent.Process(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required payload key missing: profile")
}

func TestStageAgentGuaranteedKeyMissing(t *testing.T) {
	cfg := &config.StageConfig{
		Name:                  envelope.StageIntent,
		GuaranteedPayloadKeys: []string{"intent"},
	}
	agent, err := NewStageAgent(cfg, func(ctx context.Context, env *envelope.Envelope) error { return nil }, nil)
	require.NoError(t, err)

	_, err = agent.Process(context.Background(), intakeEnvelope(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guaranteed payload key missing: intent")
}

func TestStageAgentRequiresHandler(t *testing.T) {
	cfg := &config.StageConfig{Name: envelope.StageIntent}
	_, err := NewStageAgent(cfg, nil, nil)
	assert.Error(t, err)
}

// ===== INTENT =====

func TestIntentHandlerDetectsPayslip(t *testing.T) {
	env := intakeEnvelope(map[string]any{
		"documents": []string{"uploads/july-payslip.PDF", "uploads/photo.png"},
	})
	require.NoError(t, IntentHandler()(context.Background(), env))

	assert.Equal(t, "apply_rental", env.Payload["intent"])
	slots := env.Payload["slots"].(map[string]any)
	assert.Equal(t, true, slots["has_payslip"])
	assert.Equal(t, 2, slots["doc_count"])
}

// ===== CANONICAL =====

func TestCanonicalState(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"new south wales", "NSW"},
		{"NSW", "NSW"},
		{"Victoria", "VIC"},
		{"queensland", "QLD"},
		{"  vic ", "VIC"},
		{"ACT", "ACT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalState(tt.in))
	}
}

func TestCanonicalHandlerNormalizesEmail(t *testing.T) {
	env := intakeEnvelope(map[string]any{
		"state":   "victoria",
		"profile": map[string]any{"email": "  Alice@Example.COM "},
	})
	require.NoError(t, CanonicalHandler()(context.Background(), env))

	assert.Equal(t, "VIC", env.Payload["state"])
	profile := env.Payload["profile"].(map[string]any)
	assert.Equal(t, "alice@example.com", profile["email"])
}

// ===== COMPLIANCE =====

func TestMergeExtractedFillsIncomeAndEmployer(t *testing.T) {
	profile := map[string]any{}
	merged := MergeExtracted(profile, map[string]any{
		"payslip": map[string]any{"salary": "85,000", "employer": "Acme Pty Ltd"},
	})

	assert.Equal(t, 85000.0, merged["income"])
	assert.Equal(t, "Acme Pty Ltd", merged["employer"])
}

func TestMergeExtractedDoesNotOverwrite(t *testing.T) {
	profile := map[string]any{"income": "90000", "employer": "Existing Corp"}
	merged := MergeExtracted(profile, map[string]any{
		"payslip": map[string]any{"gross_income": 50000.0, "employer_name": "Other"},
	})

	assert.Equal(t, "90000", merged["income"])
	assert.Equal(t, "Existing Corp", merged["employer"])
}

func TestComplianceHandlerEndToEnd(t *testing.T) {
	evaluator := compliance.NewEvaluator(nil, nil)
	env := intakeEnvelope(map[string]any{
		"profile": map[string]any{
			"email":             "alice@example.com",
			"identity_document": "passport.pdf",
			"rental_history":    "3 years",
			"drivers_license":   "12345678",
		},
		"extracted": map[string]any{
			"payslip": map[string]any{"salary": "85000"},
		},
	})
	require.NoError(t, ComplianceHandler(evaluator)(context.Background(), env))

	assert.Empty(t, env.Payload["missing"])
	summary := env.Payload["compliance"].(map[string]any)
	assert.Equal(t, 3, summary["total_rules"])
	assert.Empty(t, summary["failed"])
	rules := env.Payload["compliance_rules"].([]map[string]any)
	assert.Len(t, rules, 3)
}

func TestComplianceHandlerReportsMissing(t *testing.T) {
	evaluator := compliance.NewEvaluator(nil, nil)
	env := intakeEnvelope(map[string]any{
		"state":   "QLD",
		"profile": map[string]any{"email": "bob@example.com"},
	})
	require.NoError(t, ComplianceHandler(evaluator)(context.Background(), env))

	missing := env.Payload["missing"].([]string)
	assert.Contains(t, missing, "income")
	assert.Contains(t, missing, "identity_document")
}

// ===== GUARDRAILS =====

func TestGuardrailsHandlerRedactsProfile(t *testing.T) {
	scanner := guardrails.NewScanner(nil, nil)
	env := intakeEnvelope(map[string]any{
		"profile": map[string]any{"contact": "alice@example.com", "income": "85000"},
	})
	require.NoError(t, GuardrailsHandler(scanner)(context.Background(), env))

	profile := env.Payload["profile"].(map[string]any)
	assert.Equal(t, guardrails.RedactedMarker, profile["contact"])
	findings := env.Payload["guardrails_findings"].([]map[string]any)
	require.Len(t, findings, 1)
	assert.Equal(t, "contact", findings[0]["field"])
}

// ===== RAG =====

func newRAGEngine(t *testing.T) *rag.Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mem := memory.NewStore(filepath.Join(dir, "agent_memory.json"), 50, nil)
	return rag.NewEngine(store, mem, rag.NewHashedEmbedder(64))
}

func TestRAGHandlerAttachesKnowledge(t *testing.T) {
	engine := newRAGEngine(t)
	_, err := engine.AddDocuments(context.Background(), []string{"NSW bond rules guidance"}, nil, nil)
	require.NoError(t, err)

	env := intakeEnvelope(map[string]any{"query": "bond rules"})
	require.NoError(t, RAGHandler(engine)(context.Background(), env))

	kb := env.Payload["kb"].(map[string]any)
	assert.Equal(t, "NSW", kb["state"])
	assert.NotEmpty(t, kb["retrieved_docs"])
	assert.True(t, env.Has("memory_snippet"))
	assert.True(t, env.Has("context_used"))
}

// ===== RESPONSE =====

func responseEnvelope() *envelope.Envelope {
	return intakeEnvelope(map[string]any{
		"profile": map[string]any{
			"email":             "alice@example.com",
			"income":            "85000",
			"employment_status": "full_time",
		},
		"missing": []string{"rental_history"},
		"compliance": map[string]any{
			"passed": []string{"proof_of_income"}, "failed": []string{}, "total_rules": 1,
		},
		"compliance_rules": []map[string]any{
			{"rule_name": "proof_of_income", "rule_text": "Income shown"},
		},
		"guardrails_findings": []map[string]any{},
		"kb": map[string]any{
			"retrieved_docs": []string{"Provide recent payslips."},
		},
		"memory_snippet": []map[string]any{},
		"query":          "what do I still need?",
	})
}

func TestResponseHandlerWithoutProviderUsesTemplate(t *testing.T) {
	env := responseEnvelope()
	require.NoError(t, ResponseHandler(nil)(context.Background(), env))

	final := env.Payload["final_response"].(map[string]any)
	assert.Contains(t, final["message"], "NSW")
	assert.Contains(t, final["message"], "rental application")
	assert.Equal(t, "alice@example.com", final["email"])
	assert.Equal(t, []string{"rental_history"}, final["missing"])
	assert.Equal(t, false, final["fallback_used"])
	assert.NotEmpty(t, final["timestamp"])

	contextUsed := final["context_used"].(map[string]any)
	assert.Equal(t, []string{"proof_of_income"}, contextUsed["compliance_rules"])
}

func TestResponseHandlerWithProvider(t *testing.T) {
	env := responseEnvelope()
	provider := &stubProvider{text: "You still need rental history records."}
	require.NoError(t, ResponseHandler(provider)(context.Background(), env))

	final := env.Payload["final_response"].(map[string]any)
	assert.Equal(t, "You still need rental history records.", final["message"])
	assert.Equal(t, false, final["fallback_used"])
}

func TestResponseHandlerProviderFailureUsesFallback(t *testing.T) {
	env := responseEnvelope()
	require.NoError(t, ResponseHandler(&stubProvider{err: assert.AnError})(context.Background(), env))

	final := env.Payload["final_response"].(map[string]any)
	assert.True(t, strings.HasPrefix(final["message"].(string), "Unable to generate a full answer now."))
	assert.Equal(t, true, final["fallback_used"])
}

func TestResponseHandlerEmailFromPayload(t *testing.T) {
	env := intakeEnvelope(map[string]any{
		"profile":             map[string]any{},
		"email":               "form@example.com",
		"missing":             []string{},
		"compliance":          map[string]any{},
		"compliance_rules":    []map[string]any{},
		"guardrails_findings": []map[string]any{},
		"kb":                  map[string]any{},
	})
	require.NoError(t, ResponseHandler(nil)(context.Background(), env))

	final := env.Payload["final_response"].(map[string]any)
	assert.Equal(t, "form@example.com", final["email"])
	profile := final["profile"].(map[string]any)
	assert.Equal(t, "form@example.com", profile["email"])
}
