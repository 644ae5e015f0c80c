package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/agents"
	"github.com/leaseflow/coreengine/coreengine/compliance"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/guardrails"
	"github.com/leaseflow/coreengine/coreengine/memory"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

func newPipeline(t *testing.T) (*Runner, *storage.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SeedIfEmpty(context.Background()))

	bus := commbus.NewInMemoryCommBus(time.Second)
	bus.Subscribe("AuditRecorded", store.AuditSubscriber())

	mem := memory.NewStore(filepath.Join(dir, "agent_memory.json"), 50, bus)
	engine := rag.NewEngine(store, mem, rag.NewHashedEmbedder(64))
	require.NoError(t, engine.SeedDefaultCorpus(context.Background()))

	cfg := config.DefaultPipelineConfig()
	require.NoError(t, cfg.Validate())
	runner := NewRunner(cfg, bus)

	handlers := map[string]agents.HandleFunc{
		envelope.StageIntent:     agents.IntentHandler(),
		envelope.StageCanonical:  agents.CanonicalHandler(),
		envelope.StageCompliance: agents.ComplianceHandler(compliance.NewEvaluator(store, bus)),
		envelope.StageGuardrails: agents.GuardrailsHandler(guardrails.NewScanner(store, bus)),
		envelope.StageRAG:        agents.RAGHandler(engine),
		envelope.StageResponse:   agents.ResponseHandler(nil),
	}
	for name, handle := range handlers {
		agent, err := agents.NewStageAgent(cfg.GetStage(name), handle, bus)
		require.NoError(t, err)
		require.NoError(t, runner.Register(agent))
	}
	require.NoError(t, runner.Validate())
	return runner, store
}

func submit(t *testing.T, runner *Runner, payload map[string]any) map[string]any {
	t.Helper()
	env := envelope.NewIntake(payload, "")
	out, err := runner.Run(context.Background(), env)
	require.NoError(t, err)
	result, err := Unwrap(out)
	require.NoError(t, err)
	return result
}

func basePayload(overrides map[string]any) map[string]any {
	payload := map[string]any{
		"state": "NSW",
		"profile": map[string]any{
			"email": "alice@example.com",
		},
		"documents": []string{},
		"extracted": map[string]any{},
		"query":     "what documents do I need?",
		"email":     "alice@example.com",
	}
	for k, v := range overrides {
		payload[k] = v
	}
	return payload
}

// ===== FULL PIPELINE =====

func TestPipelineIncomePassIdentityFail(t *testing.T) {
	runner, _ := newPipeline(t)

	result := submit(t, runner, basePayload(map[string]any{
		"profile": map[string]any{
			"email":          "alice@example.com",
			"income":         "85000",
			"rental_history": "3 years at previous address",
		},
	}))

	summary := result["compliance"].(map[string]any)
	assert.Contains(t, summary["passed"], "proof_of_income")
	assert.Contains(t, summary["failed"], "identity_check")

	final := FinalResponse(result)
	assert.Equal(t, "NSW", final["state"])
	assert.Contains(t, final["missing"], "identity_document")
}

func TestPipelineRedactsSensitiveProfileValues(t *testing.T) {
	runner, _ := newPipeline(t)

	result := submit(t, runner, basePayload(map[string]any{
		"profile": map[string]any{
			"email":          "alice@example.com",
			"contact_note":   "reach me at alice@example.com",
			"phone":          "0412345678",
			"income":         "85000",
			"rental_history": "3 years",
		},
	}))

	profile := result["profile"].(map[string]any)
	assert.Equal(t, "[REDACTED]", profile["contact_note"])
	assert.Equal(t, "[REDACTED]", profile["phone"])
	assert.Equal(t, "85000", profile["income"])

	findings := result["guardrails_findings"].([]map[string]any)
	fields := make([]string, 0, len(findings))
	for _, f := range findings {
		fields = append(fields, f["field"].(string))
	}
	assert.Contains(t, fields, "contact_note")
	assert.Contains(t, fields, "phone")
}

func TestPipelineUnsupportedStateStillCompletes(t *testing.T) {
	runner, _ := newPipeline(t)

	result := submit(t, runner, basePayload(map[string]any{"state": "ACT"}))

	missing := result["missing"].([]string)
	require.Len(t, missing, 1)
	assert.Equal(t, "Unsupported state: ACT", missing[0])

	summary := result["compliance"].(map[string]any)
	assert.Equal(t, 0, summary["total_rules"])
}

func TestPipelineCanonicalizesLongStateNames(t *testing.T) {
	runner, _ := newPipeline(t)

	result := submit(t, runner, basePayload(map[string]any{"state": "new south wales"}))

	final := FinalResponse(result)
	assert.Equal(t, "NSW", final["state"])
}

func TestPipelinePersistsAuditTrail(t *testing.T) {
	runner, store := newPipeline(t)

	submit(t, runner, basePayload(nil))

	events, err := store.RecentAudit(context.Background(), 20)
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "compliance_check")
}

func TestPipelineStopsOnStageError(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	bus := commbus.NewInMemoryCommBus(time.Second)
	runner := NewRunner(cfg, bus)

	agent, err := agents.NewStageAgent(cfg.GetStage(envelope.StageIntent), func(ctx context.Context, env *envelope.Envelope) error {
		return assert.AnError
	}, nil)
	require.NoError(t, err)
	require.NoError(t, runner.Register(agent))

	env := envelope.NewIntake(basePayload(nil), "")
	_, err = runner.Run(context.Background(), env)
	assert.Error(t, err)
}

func TestRunnerValidateRequiresAllProcessors(t *testing.T) {
	runner := NewRunner(config.DefaultPipelineConfig(), nil)
	assert.Error(t, runner.Validate())
}

func TestRunnerRegisterUnknownStage(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	runner := NewRunner(cfg, nil)

	agent, err := agents.NewStageAgent(&config.StageConfig{Name: "nonexistent"},
		func(ctx context.Context, env *envelope.Envelope) error { return nil }, nil)
	require.NoError(t, err)
	assert.Error(t, runner.Register(agent))
}

// ===== UNWRAP =====

func TestUnwrap(t *testing.T) {
	env := envelope.NewIntake(map[string]any{"state": "NSW"}, "")
	payload, err := Unwrap(env)
	require.NoError(t, err)
	assert.Equal(t, "NSW", payload["state"])

	payload, err = Unwrap(map[string]any{"payload": map[string]any{"state": "VIC"}})
	require.NoError(t, err)
	assert.Equal(t, "VIC", payload["state"])

	payload, err = Unwrap(map[string]any{"state": "QLD"})
	require.NoError(t, err)
	assert.Equal(t, "QLD", payload["state"])

	_, err = Unwrap(nil)
	assert.ErrorIs(t, err, ErrNoFinalMessage)

	_, err = Unwrap("not an envelope")
	assert.ErrorIs(t, err, ErrNoFinalMessage)
}
