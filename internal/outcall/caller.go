// Package outcall wraps outbound calls to external providers with pacing,
// hard timeouts, transient-error retry, and cumulative statistics.
package outcall

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rigmate/rigmate/internal/backoff"
	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/internal/ratelimit"
	"github.com/rigmate/rigmate/pkg/models"
)

// Config configures a Caller.
type Config struct {
	// MinInterval is the minimum spacing between top-level calls issued by
	// this caller instance.
	MinInterval time.Duration
	// Timeout is the hard per-attempt deadline.
	Timeout time.Duration
	// MaxAttempts is the attempt ceiling, including the first attempt.
	MaxAttempts int
	// Backoff controls the delay between retry attempts.
	Backoff backoff.Policy
}

// DefaultConfig returns the caller configuration used by the search gateway.
func DefaultConfig() Config {
	return Config{
		MinInterval: time.Second,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		Backoff:     backoff.DefaultPolicy(),
	}
}

// Caller executes operations against an external provider. Each top-level
// call is paced to the configured minimum interval, runs under a hard
// timeout, and is retried with exponential backoff while the failure is
// classified transient. Timeouts and validation failures are never retried.
//
// Callers are safe for concurrent use; the attempt, success, and failure
// counters are updated atomically regardless of outcome.
type Caller[T any] struct {
	config Config
	pacer  *ratelimit.Pacer

	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

// New creates a caller with the given configuration.
func New[T any](config Config) *Caller[T] {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Caller[T]{
		config: config,
		pacer:  ratelimit.NewPacer(config.MinInterval),
	}
}

// Call runs fn with pacing, timeout, and retry. The returned error is always
// a classified fault.
func (c *Caller[T]) Call(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			c.failures.Add(1)
			return zero, faults.Wrap(faults.KindTimeout, "cancelled while pacing", err)
		}

		c.attempts.Add(1)
		value, err := c.run(ctx, fn)
		if err == nil {
			c.successes.Add(1)
			return value, nil
		}

		c.failures.Add(1)
		lastErr = err

		// Timeouts mean the underlying work was abandoned; retrying would
		// stack abandoned calls behind a dead deadline.
		if !faults.Retryable(err) {
			return zero, err
		}
		if attempt < c.config.MaxAttempts {
			if serr := backoff.SleepBackoff(ctx, c.config.Backoff, attempt); serr != nil {
				return zero, faults.Wrap(faults.KindTimeout, "cancelled during backoff", serr)
			}
		}
	}

	return zero, lastErr
}

// run executes one attempt off the calling path, bounded by the hard timeout.
// On timeout the attempt goroutine is handed a cancelled context and left to
// drain; its eventual result is discarded.
func (c *Caller[T]) run(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if c.config.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
	}
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return zero, faults.Newf(faults.KindTimeout, "call timed out after %s", c.config.Timeout)
		}
		return zero, faults.Wrap(faults.KindTimeout, "call cancelled", ctx.Err())
	case out := <-done:
		if out.err != nil {
			if kind := faults.Classify(out.err); kind != faults.KindInternal {
				return zero, faults.Wrap(kind, "call failed", out.err)
			}
			// Generic operation failures are treated as transient search
			// failures for retry purposes.
			return zero, faults.Wrap(faults.KindSearch, "call failed", out.err)
		}
		return out.value, nil
	}
}

// Stats returns a snapshot of the cumulative call counters.
func (c *Caller[T]) Stats() models.CallStats {
	return models.CallStats{
		Attempts:  c.attempts.Load(),
		Successes: c.successes.Load(),
		Failures:  c.failures.Load(),
	}
}
