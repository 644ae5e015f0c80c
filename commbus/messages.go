// Package commbus provides CommBus message definitions.
//
// Categories:
//   - EVENT: fire-and-forget, fan-out to subscribers
//   - QUERY: request-response, single handler
//   - COMMAND: fire-and-forget, single handler
package commbus

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	MessageCategoryEvent   MessageCategory = "event"
	MessageCategoryQuery   MessageCategory = "query"
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// PIPELINE LIFECYCLE EVENTS
// =============================================================================

// PipelineStarted is emitted when a new pipeline run starts.
type PipelineStarted struct {
	RequestID    string `json:"request_id"`
	EnvelopeID   string `json:"envelope_id"`
	Jurisdiction string `json:"jurisdiction"`
	Query        string `json:"query"`
}

// Category implements the Message interface.
func (m *PipelineStarted) Category() string { return string(MessageCategoryEvent) }

// PipelineCompleted is emitted when a pipeline run completes (success or failure).
type PipelineCompleted struct {
	Pipeline        string  `json:"pipeline"`
	RequestID       string  `json:"request_id"`
	EnvelopeID      string  `json:"envelope_id"`
	Status          string  `json:"status"` // "success", "error"
	DurationMS      int     `json:"duration_ms"`
	StagesCompleted int     `json:"stages_completed"`
	Error           *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *PipelineCompleted) Category() string { return string(MessageCategoryEvent) }

// StageTransition is emitted when the pipeline moves to a new stage.
type StageTransition struct {
	RequestID  string `json:"request_id"`
	EnvelopeID string `json:"envelope_id"`
	FromStage  string `json:"from_stage"`
	ToStage    string `json:"to_stage"`
}

// Category implements the Message interface.
func (m *StageTransition) Category() string { return string(MessageCategoryEvent) }

// StageStarted is emitted when a stage handler begins processing.
// Subscribers: telemetry, trace logging.
type StageStarted struct {
	Stage      string `json:"stage"`
	RequestID  string `json:"request_id"`
	EnvelopeID string `json:"envelope_id"`
}

// Category implements the Message interface.
func (m *StageStarted) Category() string { return string(MessageCategoryEvent) }

// StageCompleted is emitted when a stage handler finishes processing.
type StageCompleted struct {
	Stage      string  `json:"stage"`
	RequestID  string  `json:"request_id"`
	EnvelopeID string  `json:"envelope_id"`
	Status     string  `json:"status"` // "success", "error"
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *StageCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// AUDIT EVENTS
// =============================================================================

// AuditRecorded is emitted whenever a component produces an audit trail entry.
// Subscribers: the persistent store appender, structured logging.
type AuditRecorded struct {
	RequestID    string         `json:"request_id"`
	Action       string         `json:"action"` // e.g. "compliance_check", "guardrails_scan"
	Jurisdiction string         `json:"jurisdiction,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Category implements the Message interface.
func (m *AuditRecorded) Category() string { return string(MessageCategoryEvent) }

// GuardrailsFlagged is emitted when the redaction scanner produces findings.
type GuardrailsFlagged struct {
	RequestID    string   `json:"request_id"`
	FindingCount int      `json:"finding_count"`
	Fields       []string `json:"fields"`
}

// Category implements the Message interface.
func (m *GuardrailsFlagged) Category() string { return string(MessageCategoryEvent) }

// MemoryPersisted is emitted after the memory store writes its durable file.
type MemoryPersisted struct {
	Entries int    `json:"entries"`
	Path    string `json:"path"`
}

// Category implements the Message interface.
func (m *MemoryPersisted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// HEALTH QUERIES
// =============================================================================

// HealthCheckRequest requests a health check from a component.
type HealthCheckRequest struct {
	Component string `json:"component"` // "database", "memory", "vector_index", "llm"
}

// Category implements the Message interface.
func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string         `json:"component"`
	Status    string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Details   map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CACHE COMMANDS
// =============================================================================

// InvalidateCache is a command to invalidate profile cache entries.
type InvalidateCache struct {
	Key *string `json:"key,omitempty"` // nil = invalidate all
}

// Category implements the Message interface.
func (m *InvalidateCache) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that provide their own
// type name.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *PipelineStarted:
		return "PipelineStarted"
	case *PipelineCompleted:
		return "PipelineCompleted"
	case *StageTransition:
		return "StageTransition"
	case *StageStarted:
		return "StageStarted"
	case *StageCompleted:
		return "StageCompleted"
	case *AuditRecorded:
		return "AuditRecorded"
	case *GuardrailsFlagged:
		return "GuardrailsFlagged"
	case *MemoryPersisted:
		return "MemoryPersisted"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	case *InvalidateCache:
		return "InvalidateCache"
	default:
		return "Unknown"
	}
}
