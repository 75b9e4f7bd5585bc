// Package emitter translates one query's engine events into the ordered
// outbound message stream for a single session.
package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/rigmate/rigmate/internal/engine"
	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/pkg/models"
)

// SendFunc delivers one outbound message to the session this emitter serves.
// It is the registry's Send bound to a session id.
type SendFunc func(ctx context.Context, msg *models.Message) error

// Emitter is an engine.EventSink for exactly one query. Events arrive
// synchronously and in order; each maps to at most one outbound message,
// delivered at most once. A send failure is terminal: it propagates up as a
// Connection fault and aborts the invocation.
//
// Not safe for concurrent use; the engine contract guarantees serial emission.
type Emitter struct {
	send    SendFunc
	started time.Time
	sent    int
}

// New creates an emitter for one query.
func New(send SendFunc) *Emitter {
	return &Emitter{send: send, started: time.Now()}
}

// MessagesSent reports how many outbound messages this emitter delivered.
func (e *Emitter) MessagesSent() int { return e.sent }

// Emit implements engine.EventSink.
func (e *Emitter) Emit(ctx context.Context, ev engine.Event) error {
	msg := e.translate(ev)
	if msg == nil {
		return nil
	}
	if err := e.send(ctx, msg); err != nil {
		return faults.Wrap(faults.KindConnection, "send progress message", err)
	}
	e.sent++
	return nil
}

// translate maps one engine event onto the wire protocol. Unknown event types
// map to nothing.
func (e *Emitter) translate(ev engine.Event) *models.Message {
	switch ev.Type {
	case engine.EventStart:
		return models.NewMessage(models.MessageLog, "Thinking about your question...", nil)

	case engine.EventToken:
		return models.NewMessage(models.MessageToken, ev.Text, nil)

	case engine.EventToolStart:
		content := fmt.Sprintf("Searching for: %s", ev.Text)
		if ev.Text == "" {
			content = fmt.Sprintf("Running %s...", ev.Tool)
		}
		return models.NewMessage(models.MessageLog, content, map[string]any{
			"tool": ev.Tool,
		})

	case engine.EventToolEnd:
		return models.NewMessage(models.MessageLog, "Search completed, analyzing results...", map[string]any{
			"tool": ev.Tool,
		})

	case engine.EventToolError:
		return models.NewMessage(models.MessageError, fmt.Sprintf("Search error: %s", ev.Text), map[string]any{
			"tool": ev.Tool,
		})

	case engine.EventError:
		return models.NewMessage(models.MessageError, fmt.Sprintf("Error: %s", ev.Text), nil)

	case engine.EventFinish:
		// sent has not been incremented for this message yet; count it in.
		return models.NewMessage(models.MessageFinalOutput, ev.Text, map[string]any{
			"processing_time": time.Since(e.started).Seconds(),
			"messages_sent":   e.sent + 1,
		})
	}
	return nil
}
