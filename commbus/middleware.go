// Package commbus provides CommBus middleware implementations.
//
// Available middleware:
//   - LoggingMiddleware: structured logging of all messages
//   - CircuitBreakerMiddleware: failure protection per message type
package commbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic.
type LoggingMiddleware struct{}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	log.Debug().
		Str("type", GetMessageType(message)).
		Str("category", message.Category()).
		Msg("commbus_message")
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		log.Warn().Str("type", GetMessageType(message)).Err(err).Msg("commbus_message_failed")
	}
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// CircuitBreakerState is the per-message-type breaker state.
type CircuitBreakerState struct {
	Failures    int
	LastFailure time.Time
	State       string // "closed", "open", "half-open"
}

// CircuitBreakerMiddleware implements the circuit breaker pattern.
//
// Protects against cascading subscriber failures by:
//   - Opening the circuit after N failures
//   - Blocking messages while open
//   - Testing with a single message in half-open state
//   - Closing the circuit after success
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*CircuitBreakerState
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{})
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}

	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*CircuitBreakerState),
	}
}

func (m *CircuitBreakerMiddleware) getState(msgType string) *CircuitBreakerState {
	if _, exists := m.states[msgType]; !exists {
		m.states[msgType] = &CircuitBreakerState{State: "closed"}
	}
	return m.states[msgType]
}

// Before checks circuit breaker state.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	now := time.Now()

	if state.State == "open" {
		if now.Sub(state.LastFailure) >= m.resetTimeout {
			state.State = "half-open"
			log.Info().Str("type", msgType).Msg("circuit_half_open")
		} else {
			log.Warn().Str("type", msgType).Msg("circuit_open_blocking")
			return nil, nil // Block the message
		}
	}

	return message, nil
}

// After updates circuit breaker state based on the result.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)

	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)

	if err != nil {
		state.Failures++
		state.LastFailure = time.Now()

		if state.State == "half-open" {
			state.State = "open"
			log.Warn().Str("type", msgType).Msg("circuit_reopened")
		} else if m.failureThreshold > 0 && state.Failures >= m.failureThreshold {
			state.State = "open"
			log.Warn().Str("type", msgType).Int("failures", state.Failures).Msg("circuit_opened")
		}
	} else if state.State == "half-open" {
		state.State = "closed"
		state.Failures = 0
		log.Info().Str("type", msgType).Msg("circuit_closed")
	}

	return result, nil
}

// GetStates returns current circuit states.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string)
	for k, v := range m.states {
		result[k] = v.State
	}
	return result
}

// Reset resets circuit breaker state for one type, or all when nil.
func (m *CircuitBreakerMiddleware) Reset(msgType *string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType != nil {
		delete(m.states, *msgType)
	} else {
		m.states = make(map[string]*CircuitBreakerState)
	}
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
