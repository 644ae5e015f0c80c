// Package commbus provides the in-process communication bus for pipeline
// lifecycle and audit events.
//
// Components depend on these protocols, not implementations. The bus decouples
// stage handlers from the subscribers that persist audit events, update
// metrics, and log lifecycle transitions.
package commbus

import (
	"context"
)

// Message is the protocol for all commbus messages.
type Message interface {
	// Category returns the message category: "event", "query", or "command".
	Category() string
}

// Query is the protocol for query messages that expect a response.
type Query interface {
	Message
	// IsQuery is a marker method to distinguish queries from other messages.
	IsQuery()
}

// Handler is the protocol for message handlers.
type Handler interface {
	Handle(ctx context.Context, message Message) (any, error)
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, message Message) (any, error) {
	return f(ctx, message)
}

// Middleware intercepts messages before/after handling for cross-cutting
// concerns such as logging and circuit breaking.
type Middleware interface {
	// Before is called before the message is handled.
	// Returns the (possibly modified) message, or nil to abort processing.
	Before(ctx context.Context, message Message) (Message, error)

	// After is called after the message is handled.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus provides three messaging patterns:
//   - Publish(event): fire-and-forget, fan-out to all subscribers
//   - Send(command): fire-and-forget, single handler
//   - QuerySync(query): request-response, returns result
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	Send(ctx context.Context, command Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	Subscribe(eventType string, handler HandlerFunc) func()
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)

	HasHandler(messageType string) bool
	GetSubscribers(eventType string) []HandlerFunc
	Clear()
}
