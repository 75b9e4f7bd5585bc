package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowth(t *testing.T) {
	p := Policy{Initial: 4 * time.Second, Max: 10 * time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 10 * time.Second}, // 16s clamped to cap
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := delayWithRand(p, tt.attempt, 0); got != tt.want {
			t.Errorf("delay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitter(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.5}

	low := delayWithRand(p, 1, 0)
	high := delayWithRand(p, 1, 0.999)
	if low != time.Second {
		t.Errorf("zero jitter roll = %v, want 1s", low)
	}
	if high <= low || high > 1500*time.Millisecond {
		t.Errorf("max jitter roll = %v, want in (1s, 1.5s]", high)
	}
}

func TestDelayNoCap(t *testing.T) {
	p := Policy{Initial: time.Second, Factor: 2}
	if got := delayWithRand(p, 5, 0); got != 16*time.Second {
		t.Errorf("uncapped delay = %v, want 16s", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if err == nil {
		t.Fatal("Sleep should return the context error when cancelled")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should return promptly on cancellation")
	}
}

func TestSleepZero(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
}
