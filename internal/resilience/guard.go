package resilience

import (
	"context"
	"time"
)

// Guard combines a breaker with a retry policy for one named service.
// The breaker sees one outcome per Do call, after retries.
type Guard struct {
	Name    string
	Backoff Backoff
	Breaker *Breaker
}

// NewGuard builds a guard from config values. Zero values keep defaults.
func NewGuard(name string, attempts, initialBackoffMs, failureThreshold, resetSecs int) *Guard {
	b := DefaultBackoff()
	if attempts > 0 {
		b.Attempts = attempts
	}
	if initialBackoffMs > 0 {
		b.Initial = time.Duration(initialBackoffMs) * time.Millisecond
	}
	b.OnRetry = LogRetry(name)
	return &Guard{
		Name:    name,
		Backoff: b,
		Breaker: NewBreaker(failureThreshold, time.Duration(resetSecs)*time.Second),
	}
}

// Healthy reports whether the breaker would currently admit a call.
func (g *Guard) Healthy() bool {
	return g.Breaker.State() != Open
}

// Do runs fn under the guard's breaker and retry policy.
func Do[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	return Call(ctx, g.Breaker, func(ctx context.Context) (T, error) {
		return Retry(ctx, g.Backoff, fn)
	})
}
