package llm

import (
	"context"
	"iter"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pharma-research/internal/resilience"
)

// Defaults fill zero-valued request fields.
type Defaults struct {
	Temperature float64
	MaxTokens   int
}

// Guarded wraps a Completer with a call timeout, a rate limit, and the
// retry and circuit-breaker policy of a resilience.Guard. It reports
// unavailable while the breaker is open so callers route to fallbacks
// without waiting.
type Guarded struct {
	inner    Completer
	timeout  time.Duration
	limiter  *rate.Limiter
	guard    *resilience.Guard
	defaults Defaults
}

// NewGuarded builds a Guarded completer. A nil limiter disables rate
// limiting and a zero timeout disables the per-call deadline.
func NewGuarded(inner Completer, timeout time.Duration, limiter *rate.Limiter, guard *resilience.Guard, defaults Defaults) *Guarded {
	if guard == nil {
		guard = resilience.NewGuard("llm", 0, 0, 0, 0)
	}
	return &Guarded{inner: inner, timeout: timeout, limiter: limiter, guard: guard, defaults: defaults}
}

func (g *Guarded) Available() bool {
	return g.inner != nil && g.inner.Available() && g.guard.Healthy()
}

func (g *Guarded) prepare(req Request) Request {
	if req.Temperature == 0 {
		req.Temperature = g.defaults.Temperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.defaults.MaxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2000
	}
	return req
}

func (g *Guarded) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Guarded) Complete(ctx context.Context, req Request) (string, error) {
	if !g.Available() {
		return "", ErrUnavailable
	}
	req = g.prepare(req)

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "llm: rate limit wait")
		}
	}

	start := time.Now()
	text, err := resilience.Do(ctx, g.guard, func(ctx context.Context) (string, error) {
		text, err := g.inner.Complete(ctx, req)
		if err == nil && text == "" {
			return "", errEmpty
		}
		return text, err
	})
	if err != nil {
		zap.L().Warn("llm: completion failed",
			zap.String("step", req.Step),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return "", eris.Wrap(err, "llm: complete")
	}
	return text, nil
}

// Stream is not retried since chunks may already have been delivered.
// The breaker still records the outcome.
func (g *Guarded) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !g.Available() {
			yield("", ErrUnavailable)
			return
		}
		req = g.prepare(req)

		ctx, cancel := g.withTimeout(ctx)
		defer cancel()

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				yield("", eris.Wrap(err, "llm: rate limit wait"))
				return
			}
		}
		if err := g.guard.Breaker.Allow(); err != nil {
			yield("", err)
			return
		}

		var streamErr error
		defer func() { g.guard.Breaker.Record(streamErr) }()
		for chunk, err := range g.inner.Stream(ctx, req) {
			if err != nil {
				streamErr = err
				yield("", eris.Wrap(err, "llm: stream"))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
