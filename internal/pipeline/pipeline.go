// Package pipeline executes user queries end to end: validation, the
// per-session busy gate, conversation memory, the bounded worker pool, the
// wall-clock timeout, and total error classification.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/rigmate/rigmate/internal/emitter"
	"github.com/rigmate/rigmate/internal/engine"
	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/internal/observability"
	"github.com/rigmate/rigmate/internal/registry"
	"github.com/rigmate/rigmate/internal/search"
	"github.com/rigmate/rigmate/internal/sessions"
	"github.com/rigmate/rigmate/pkg/models"
)

// Config tunes query execution.
type Config struct {
	// QueryTimeout is the hard wall-clock budget per query. Default: 5m.
	QueryTimeout time.Duration
	// MaxConcurrent bounds simultaneously executing queries across all
	// sessions. Default: 25.
	MaxConcurrent int64
	// MinQueryLen and MaxQueryLen bound the trimmed query length.
	// Defaults: 3 and 1000.
	MinQueryLen int
	MaxQueryLen int
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		QueryTimeout:  5 * time.Minute,
		MaxConcurrent: 25,
		MinQueryLen:   3,
		MaxQueryLen:   1000,
	}
}

// deniedTerms rejects queries about activities the assistant must not help
// with. Matched case-insensitively against the whole query.
var deniedTerms = []string{"hack", "crack", "piracy", "illegal"}

// Pipeline drives one query per call through validation, execution, and
// memory bookkeeping. Safe for concurrent use across sessions; per-session
// serialization comes from the registry's execution gate.
type Pipeline struct {
	config   Config
	registry *registry.Registry
	memory   *sessions.MemoryStore
	engine   engine.Engine
	searches *search.Gateway
	workers  *semaphore.Weighted
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a pipeline. Searches and metrics may be nil; a nil logger
// discards logs.
func New(config Config, reg *registry.Registry, memory *sessions.MemoryStore, eng engine.Engine, searches *search.Gateway, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 5 * time.Minute
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 25
	}
	if config.MinQueryLen <= 0 {
		config.MinQueryLen = 3
	}
	if config.MaxQueryLen <= 0 {
		config.MaxQueryLen = 1000
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		config:   config,
		registry: reg,
		memory:   memory,
		engine:   eng,
		searches: searches,
		workers:  semaphore.NewWeighted(config.MaxConcurrent),
		logger:   logger.With("component", "pipeline"),
		metrics:  metrics,
	}
}

// ProcessQuery runs one query for the session to completion, streaming
// progress messages as it goes. The returned error is always a classified
// fault; the execution gate is released on every path.
func (p *Pipeline) ProcessQuery(ctx context.Context, sessionID, rawQuery string) (*models.QueryResponse, error) {
	query, err := p.validate(rawQuery)
	if err != nil {
		p.metrics.RecordError(string(faults.KindOf(err)))
		return nil, err
	}

	if err := p.registry.BeginExecuting(sessionID); err != nil {
		p.metrics.RecordError(string(faults.KindOf(err)))
		return nil, err
	}
	defer p.registry.EndExecuting(sessionID)

	if err := p.workers.Acquire(ctx, 1); err != nil {
		return nil, faults.Wrap(faults.KindTimeout, "waiting for worker slot", err)
	}
	defer p.workers.Release(1)

	p.logger.Info("query started", "session_id", sessionID, "query_len", len(query))
	start := time.Now()
	var searchesBefore models.CallStats
	if p.searches != nil {
		searchesBefore = p.searches.Stats()
	}

	history := p.memory.History(sessionID)
	sink := emitter.New(func(ctx context.Context, msg *models.Message) error {
		if err := p.registry.Send(ctx, sessionID, msg); err != nil {
			return err
		}
		p.metrics.MessageSent(string(msg.Type))
		return nil
	})

	result, err := p.invoke(ctx, history, query, sink)
	elapsed := time.Since(start)

	output := ""
	if err != nil {
		kind := faults.KindOf(err)
		if kind == faults.KindAgent && isOutputShapeFailure(err) {
			// The engine produced something unusable rather than failing
			// outright; give the user a recoverable answer instead.
			p.logger.Warn("downgrading malformed engine output", "session_id", sessionID, "error", err)
			output = engine.FallbackAnswer
			msg := models.NewMessage(models.MessageFinalOutput, output, map[string]any{
				"processing_time": elapsed.Seconds(),
				"fallback":        true,
			})
			if serr := p.registry.Send(ctx, sessionID, msg); serr != nil {
				p.metrics.RecordError(string(faults.KindOf(serr)))
				return nil, serr
			}
			p.metrics.MessageSent(string(models.MessageFinalOutput))
			err = nil
		} else {
			p.metrics.RecordError(string(kind))
			p.metrics.RecordQuery("error", elapsed.Seconds())
			p.logger.Warn("query failed", "session_id", sessionID, "kind", string(kind), "elapsed_ms", elapsed.Milliseconds(), "error", err)
			return nil, err
		}
	} else {
		output = result.Output
	}

	p.memory.Append(sessionID, models.RoleUser, query)
	p.memory.Append(sessionID, models.RoleAssistant, output)

	var searchCount int
	if p.searches != nil {
		searchCount = int(p.searches.Stats().Successes - searchesBefore.Successes)
	}

	p.metrics.RecordQuery("success", elapsed.Seconds())
	p.logger.Info("query complete",
		"session_id", sessionID,
		"elapsed_ms", elapsed.Milliseconds(),
		"messages_sent", sink.MessagesSent(),
		"searches", searchCount)

	return &models.QueryResponse{
		Output:         output,
		ProcessingTime: elapsed,
		SearchCount:    searchCount,
	}, nil
}

// invoke runs the engine under the wall-clock budget. The engine goroutine
// gets a context cancelled at the deadline; if it overruns anyway its result
// is discarded and the query reports a timeout.
func (p *Pipeline) invoke(ctx context.Context, history []models.Turn, query string, sink engine.EventSink) (*engine.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	type outcome struct {
		result *engine.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.engine.Invoke(runCtx, history, query, sink)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, faults.Wrap(faults.KindConnection, "query abandoned", ctx.Err())
		}
		return nil, faults.Newf(faults.KindTimeout, "query exceeded %s", p.config.QueryTimeout)
	case out := <-done:
		if out.err != nil {
			if kind := faults.KindOf(out.err); kind != faults.KindInternal {
				return nil, out.err
			}
			return nil, faults.Wrap(faults.Classify(out.err), "engine invocation", out.err)
		}
		return out.result, nil
	}
}

// validate normalizes and checks one inbound query.
func (p *Pipeline) validate(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if utf8.RuneCountInString(query) < p.config.MinQueryLen {
		return "", faults.Newf(faults.KindValidation, "query must be at least %d characters", p.config.MinQueryLen)
	}
	if utf8.RuneCountInString(query) > p.config.MaxQueryLen {
		return "", faults.Newf(faults.KindValidation, "query must be at most %d characters", p.config.MaxQueryLen)
	}
	lower := strings.ToLower(query)
	for _, term := range deniedTerms {
		if strings.Contains(lower, term) {
			return "", faults.New(faults.KindValidation, "query contains prohibited content")
		}
	}
	return query, nil
}

// isOutputShapeFailure reports whether an agent failure stems from unusable
// model output rather than a hard API error.
func isOutputShapeFailure(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "malformed") ||
		strings.Contains(s, "parse") ||
		strings.Contains(s, "unmarshal") ||
		strings.Contains(s, "invalid character") ||
		strings.Contains(s, "no final answer")
}

// ClearMemory drops the session's conversation history.
func (p *Pipeline) ClearMemory(sessionID string) {
	p.memory.Clear(sessionID)
	p.logger.Info("memory cleared", "session_id", sessionID)
}

// EvictIdleMemory trims the memory store down to maxSessions, oldest first,
// and reports how many sessions were evicted.
func (p *Pipeline) EvictIdleMemory(maxSessions int) int {
	evicted := p.memory.EvictOldest(maxSessions)
	if evicted > 0 {
		p.logger.Info("evicted idle session memory", "evicted", evicted)
	}
	return evicted
}
