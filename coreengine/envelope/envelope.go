// Package envelope provides the message wrapper threaded through the
// rental-application pipeline.
//
// Design:
//   - Payload: single open map[string]any shared by all stages
//   - Stage addressing is string-based (Sender/Receiver/Type)
//   - Payload keys grow monotonically; only redaction rewrites values in place
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifiers in fixed pipeline order.
const (
	StageIntent     = "intent"
	StageCanonical  = "canonical"
	StageCompliance = "compliance"
	StageGuardrails = "guardrails"
	StageRAG        = "rag"
	StageResponse   = "response"
	StageTerminal   = "end"

	// SenderIntake is the pseudo-stage that builds the initial envelope.
	SenderIntake = "intake"
)

// StageOrder is the fixed linear pipeline. No branching, no cycles.
var StageOrder = []string{
	StageIntent,
	StageCanonical,
	StageCompliance,
	StageGuardrails,
	StageRAG,
	StageResponse,
}

// NextStage returns the stage following the given one, or StageTerminal.
func NextStage(stage string) string {
	for i, s := range StageOrder {
		if s == stage && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return StageTerminal
}

// Envelope is the message passed between pipeline stages.
//
// Sender and Receiver identify stages for logging and tracing only; routing
// is fixed by the orchestrator. Type names the next expected stage. Payload
// is the single source of truth threaded through the pipeline. Context is
// side-channel metadata (request id, trace id) that stages propagate but
// never interpret.
type Envelope struct {
	EnvelopeID string         `json:"envelope_id"`
	Sender     string         `json:"sender"`
	Receiver   string         `json:"receiver"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Context    map[string]any `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// New creates an Envelope addressed from sender to receiver.
func New(sender, receiver, typ string, payload map[string]any, context map[string]any) *Envelope {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Envelope{
		EnvelopeID: "env_" + uuid.New().String()[:16],
		Sender:     sender,
		Receiver:   receiver,
		Type:       typ,
		Payload:    payload,
		Context:    context,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewIntake builds the initial envelope for an intake request.
func NewIntake(payload map[string]any, requestID string) *Envelope {
	ctx := map[string]any{"request_id": requestID}
	return New(SenderIntake, StageIntent, StageIntent, payload, ctx)
}

// Forward returns a new Envelope re-addressed to the next stage. The payload
// map is shared, not copied: stages enrich it in place and the envelope
// identity tracks the hop.
func (e *Envelope) Forward(sender, receiver string) *Envelope {
	return &Envelope{
		EnvelopeID: e.EnvelopeID,
		Sender:     sender,
		Receiver:   receiver,
		Type:       receiver,
		Payload:    e.Payload,
		Context:    e.Context,
		CreatedAt:  e.CreatedAt,
	}
}

// Get returns a payload value by key.
func (e *Envelope) Get(key string) (any, bool) {
	v, ok := e.Payload[key]
	return v, ok
}

// Set writes a payload value by key.
func (e *Envelope) Set(key string, value any) {
	e.Payload[key] = value
}

// Has reports whether the payload carries the key.
func (e *Envelope) Has(key string) bool {
	_, ok := e.Payload[key]
	return ok
}

// RequestID returns the request id from context, or the envelope id when the
// context carries none.
func (e *Envelope) RequestID() string {
	if e.Context != nil {
		if v, ok := e.Context["request_id"].(string); ok && v != "" {
			return v
		}
	}
	return e.EnvelopeID
}

// Clone creates a deep copy of the envelope for checkpointing and tests.
func (e *Envelope) Clone() *Envelope {
	return &Envelope{
		EnvelopeID: e.EnvelopeID,
		Sender:     e.Sender,
		Receiver:   e.Receiver,
		Type:       e.Type,
		Payload:    deepCopyAnyMap(e.Payload),
		Context:    deepCopyAnyMap(e.Context),
		CreatedAt:  e.CreatedAt,
	}
}

// ToStateDict converts to a plain map for persistence and API responses.
func (e *Envelope) ToStateDict() map[string]any {
	return map[string]any{
		"envelope_id": e.EnvelopeID,
		"sender":      e.Sender,
		"receiver":    e.Receiver,
		"type":        e.Type,
		"payload":     e.Payload,
		"context":     e.Context,
		"created_at":  e.CreatedAt.Format(time.RFC3339),
	}
}

// FromStateDict rebuilds an envelope from a state map. Unknown or missing
// keys fall back to zero values; a missing payload becomes an empty map.
func FromStateDict(state map[string]any) *Envelope {
	e := &Envelope{Payload: make(map[string]any)}
	if v, ok := state["envelope_id"].(string); ok {
		e.EnvelopeID = v
	}
	if v, ok := state["sender"].(string); ok {
		e.Sender = v
	}
	if v, ok := state["receiver"].(string); ok {
		e.Receiver = v
	}
	if v, ok := state["type"].(string); ok {
		e.Type = v
	}
	if v, ok := state["payload"].(map[string]any); ok {
		e.Payload = v
	}
	if v, ok := state["context"].(map[string]any); ok {
		e.Context = v
	}
	if v, ok := state["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.CreatedAt = t
		}
	}
	return e
}

func deepCopyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyAnyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	case []string:
		result := make([]string, len(val))
		copy(result, val)
		return result
	default:
		return v
	}
}
