package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pharma-research/internal/config"
	"github.com/sells-group/pharma-research/internal/resilience"
	"github.com/sells-group/pharma-research/pkg/anthropic"
	"github.com/sells-group/pharma-research/pkg/gemini"
)

// FromConfig builds the configured completer wrapped in a Guarded. A
// provider without credentials yields a Disabled completer so the
// pipeline runs on fallbacks.
func FromConfig(ctx context.Context, cfg *config.Config) (Completer, error) {
	var inner Completer
	switch cfg.LLM.Provider {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			zap.L().Info("llm: anthropic key not set, generative extraction disabled")
			return Disabled{}, nil
		}
		inner = NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	case "gemini":
		if cfg.Gemini.Key == "" {
			zap.L().Info("llm: gemini key not set, generative extraction disabled")
			return Disabled{}, nil
		}
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, err
		}
		inner = NewGemini(client, cfg.Gemini.Model)
	default:
		return Disabled{}, nil
	}

	var limiter *rate.Limiter
	if cfg.LLM.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RatePerSec), max(1, cfg.LLM.Burst))
	}
	r := cfg.Resilience
	guard := resilience.NewGuard("llm."+cfg.LLM.Provider, r.MaxAttempts, r.InitialBackoffMs, r.FailureThreshold, r.ResetTimeoutSecs)

	return NewGuarded(inner, time.Duration(cfg.LLM.TimeoutSecs)*time.Second, limiter, guard, Defaults{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}), nil
}
