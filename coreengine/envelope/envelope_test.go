package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIntake(t *testing.T) {
	payload := map[string]any{"state": "NSW", "profile": map[string]any{"email": "a@b.com"}}
	env := NewIntake(payload, "req_123")

	assert.Equal(t, SenderIntake, env.Sender)
	assert.Equal(t, StageIntent, env.Receiver)
	assert.Equal(t, StageIntent, env.Type)
	assert.Equal(t, "req_123", env.RequestID())
	assert.NotEmpty(t, env.EnvelopeID)
	assert.False(t, env.CreatedAt.IsZero())
}

func TestNew_NilPayload(t *testing.T) {
	env := New("a", "b", "b", nil, nil)
	require.NotNil(t, env.Payload)
	env.Set("k", "v")
	v, ok := env.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestForward_SharesPayload(t *testing.T) {
	env := NewIntake(map[string]any{"state": "NSW"}, "req_1")
	next := env.Forward(StageIntent, StageCanonical)

	assert.Equal(t, StageIntent, next.Sender)
	assert.Equal(t, StageCanonical, next.Receiver)
	assert.Equal(t, StageCanonical, next.Type)
	assert.Equal(t, env.EnvelopeID, next.EnvelopeID)

	// Payload is shared: enrichment on the forwarded envelope is visible
	// through the original.
	next.Set("intent", "apply_rental")
	assert.True(t, env.Has("intent"))
	assert.True(t, env.Has("state"))
}

func TestNextStage(t *testing.T) {
	assert.Equal(t, StageCanonical, NextStage(StageIntent))
	assert.Equal(t, StageCompliance, NextStage(StageCanonical))
	assert.Equal(t, StageGuardrails, NextStage(StageCompliance))
	assert.Equal(t, StageRAG, NextStage(StageGuardrails))
	assert.Equal(t, StageResponse, NextStage(StageRAG))
	assert.Equal(t, StageTerminal, NextStage(StageResponse))
	assert.Equal(t, StageTerminal, NextStage("unknown"))
}

func TestRequestID_FallsBackToEnvelopeID(t *testing.T) {
	env := New("a", "b", "b", nil, nil)
	assert.Equal(t, env.EnvelopeID, env.RequestID())
}

func TestClone_DeepCopiesPayload(t *testing.T) {
	env := NewIntake(map[string]any{
		"profile":   map[string]any{"email": "a@b.com"},
		"documents": []any{"payslip.pdf"},
	}, "req_1")

	clone := env.Clone()
	profile := clone.Payload["profile"].(map[string]any)
	profile["email"] = "changed@b.com"

	original := env.Payload["profile"].(map[string]any)
	assert.Equal(t, "a@b.com", original["email"])
}

func TestStateDict_RoundTrip(t *testing.T) {
	env := NewIntake(map[string]any{"state": "VIC"}, "req_9")
	state := env.ToStateDict()

	restored := FromStateDict(state)
	assert.Equal(t, env.EnvelopeID, restored.EnvelopeID)
	assert.Equal(t, env.Sender, restored.Sender)
	assert.Equal(t, env.Receiver, restored.Receiver)
	assert.Equal(t, "VIC", restored.Payload["state"])
	assert.Equal(t, "req_9", restored.RequestID())
}

func TestFromStateDict_Empty(t *testing.T) {
	restored := FromStateDict(map[string]any{})
	require.NotNil(t, restored.Payload)
	assert.Empty(t, restored.Sender)
}
