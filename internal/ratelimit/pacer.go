// Package ratelimit provides outbound call pacing.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum interval between consecutive calls issued through
// one instance. Pacing is global per instance, not per caller goroutine: if
// two goroutines race, the second waits out the remainder of the interval
// started by the first.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer with the given minimum inter-call interval.
// A zero or negative interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until the minimum interval since the previous call has elapsed,
// then records the current call. Returns early with the context error if the
// context is cancelled while waiting.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}

	p.mu.Lock()
	now := p.now()
	var wait time.Duration
	if !p.last.IsZero() {
		if elapsed := now.Sub(p.last); elapsed < p.interval {
			wait = p.interval - elapsed
		}
	}
	// Claim the slot before sleeping so concurrent callers queue up behind
	// this call instead of racing for the same interval.
	p.last = now.Add(wait)
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return p.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
