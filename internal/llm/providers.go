package llm

import (
	"context"
	"errors"
	"iter"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/sells-group/pharma-research/internal/resilience"
	"github.com/sells-group/pharma-research/pkg/anthropic"
	"github.com/sells-group/pharma-research/pkg/gemini"
)

// AnthropicCompleter serves completions from the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropic returns a completer for the given client and model.
func NewAnthropic(client anthropic.Client, model string) *AnthropicCompleter {
	return &AnthropicCompleter{client: client, model: model}
}

func (a *AnthropicCompleter) Available() bool { return a.client != nil }

func (a *AnthropicCompleter) request(req Request) anthropic.MessageRequest {
	mr := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: int64(req.MaxTokens),
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
	}
	if req.System != "" {
		mr.System = anthropic.CachedSystem(req.System)
	}
	temp := req.Temperature
	mr.Temperature = &temp
	return mr
}

func (a *AnthropicCompleter) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := a.client.CreateMessage(ctx, a.request(req))
	if err != nil {
		return "", classifyAnthropic(err)
	}
	resp.Usage.LogCost(a.model, req.Step)
	return strings.TrimSpace(resp.Text()), nil
}

func (a *AnthropicCompleter) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for chunk, err := range a.client.StreamMessage(ctx, a.request(req)) {
			if err != nil {
				yield("", classifyAnthropic(err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func classifyAnthropic(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientStatus(apiErr.StatusCode) {
		return resilience.Transient(err, apiErr.StatusCode)
	}
	return err
}

// GeminiCompleter serves completions from the Gemini API.
type GeminiCompleter struct {
	client gemini.Client
	model  string
}

// NewGemini returns a completer for the given client and model.
func NewGemini(client gemini.Client, model string) *GeminiCompleter {
	return &GeminiCompleter{client: client, model: model}
}

func (g *GeminiCompleter) Available() bool { return g.client != nil }

func (g *GeminiCompleter) request(req Request) gemini.GenerateRequest {
	return gemini.GenerateRequest{
		Model:       g.model,
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: float32(req.Temperature),
		MaxTokens:   int32(req.MaxTokens),
		JSON:        req.JSON,
	}
}

func (g *GeminiCompleter) Complete(ctx context.Context, req Request) (string, error) {
	text, err := g.client.Generate(ctx, g.request(req))
	if err != nil {
		return "", classifyGemini(err)
	}
	return strings.TrimSpace(text), nil
}

func (g *GeminiCompleter) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for chunk, err := range g.client.Stream(ctx, g.request(req)) {
			if err != nil {
				yield("", classifyGemini(err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func classifyGemini(err error) error {
	if code := gemini.StatusCode(err); resilience.IsTransientStatus(code) {
		return resilience.Transient(err, code)
	}
	return err
}
