// Package engine defines the reasoning-engine collaborator: an opaque
// computation that takes conversation history and a query, calls tools, and
// emits lifecycle events synchronously while it runs.
package engine

import (
	"context"
	"encoding/json"

	"github.com/rigmate/rigmate/pkg/models"
)

// EventType identifies a lifecycle event raised during one invocation.
type EventType string

const (
	// EventStart fires once when the engine begins working on a query.
	EventStart EventType = "start"

	// EventToken fires once per generated answer token, in production order.
	EventToken EventType = "token"

	// EventToolStart fires when the engine invokes a tool.
	EventToolStart EventType = "tool_start"

	// EventToolEnd fires when a tool invocation completes.
	EventToolEnd EventType = "tool_end"

	// EventToolError fires when a tool invocation fails.
	EventToolError EventType = "tool_error"

	// EventError fires when the engine itself fails mid-run.
	EventError EventType = "error"

	// EventFinish fires once with the terminal answer. Always the last
	// event of a successful invocation.
	EventFinish EventType = "finish"
)

// Event is one lifecycle event. Events from a single invocation are raised
// synchronously and in execution order.
type Event struct {
	Type EventType
	// Text carries the token for EventToken, the tool input for
	// EventToolStart, the error text for error events, and the final
	// answer for EventFinish.
	Text string
	// Tool names the tool for tool lifecycle events.
	Tool string
}

// EventSink receives events inline as the engine raises them. Emit returning
// an error aborts the invocation; engines must propagate it unwrapped so the
// caller can classify the transport failure.
type EventSink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ctx context.Context, e Event) error

// Emit calls the wrapped function.
func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, Event) error { return nil }

// Tool is an executable capability the engine may call during a run.
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON schema of the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with schema-conforming parameters.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// Result is the terminal outcome of one invocation.
type Result struct {
	// Output is the answer text.
	Output string
}

// Engine runs one tool-augmented query to completion, emitting events to the
// sink as it goes. History is the prior conversation in order; query is the
// new user turn. Implementations must honor context cancellation.
type Engine interface {
	Invoke(ctx context.Context, history []models.Turn, query string, sink EventSink) (*Result, error)
}
