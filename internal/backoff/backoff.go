// Package backoff provides exponential backoff with jitter for retrying
// outbound calls.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added to the delay.
	Jitter float64
}

// DefaultPolicy returns the policy used for search-provider retries:
// 4s initial, 10s cap, factor 2, no jitter. Matches the provider's documented
// throttling behavior.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 4 * time.Second,
		Max:     10 * time.Second,
		Factor:  2,
	}
}

// Delay computes the backoff duration for a 1-indexed attempt number.
// The formula is initial * factor^(attempt-1) plus jitter, clamped to Max.
func Delay(p Policy, attempt int) time.Duration {
	return delayWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand computes the delay with a caller-supplied random value in
// [0.0, 1.0), which keeps the math testable.
func delayWithRand(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := base + jitter
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits for the specified duration, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepBackoff computes the delay for the given attempt and sleeps for it.
func SleepBackoff(ctx context.Context, p Policy, attempt int) error {
	return Sleep(ctx, Delay(p, attempt))
}
