// Package extract turns evidence into typed records through a strict
// fallback chain: generative completion, then pattern rules, then a static
// default. Each level runs only when the previous one failed or produced
// nothing valid.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/llm"
	"github.com/sells-group/pharma-research/internal/model"
)

// Schema describes one record type and its fallback levels.
type Schema[T any] struct {
	// Name labels prompts and logs, e.g. "subject".
	Name string
	// Shape is the JSON template shown to the model.
	Shape string
	// Instructions precede the shape in the prompt.
	Instructions string
	// Rules is the pattern level. It reports false when nothing matched.
	Rules func(subject, text string) (T, bool)
	// Default is the static level. It must not fail.
	Default func(subject string) (T, model.Origin)
	// Valid rejects generative records that parsed but are unusable.
	Valid func(T) bool
}

// Result is an extracted record and the level that produced it.
type Result[T any] struct {
	Record T
	Origin model.Origin
}

// Extractor holds the generative capability shared by all schemas.
type Extractor struct {
	llm     llm.Completer
	timeout time.Duration
}

// New returns an Extractor. A nil completer disables the generative level.
func New(c llm.Completer, timeout time.Duration) *Extractor {
	if c == nil {
		c = llm.Disabled{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{llm: c, timeout: timeout}
}

// Generative reports whether the generative level can currently run.
func (x *Extractor) Generative() bool { return x.llm.Available() }

// Extract runs the fallback chain over evidence, which should already be
// filtered to usable items.
func Extract[T any](ctx context.Context, x *Extractor, subject string, evidence []model.Evidence, s Schema[T]) Result[T] {
	text := joinEvidence(evidence)

	if text != "" && x.llm.Available() {
		rec, err := generate(ctx, x, subject, text, s)
		if err == nil {
			return Result[T]{Record: rec, Origin: model.OriginGenerative}
		}
		zap.L().Warn("extract: generative level failed, falling back",
			zap.String("schema", s.Name),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}

	if text != "" && s.Rules != nil {
		if rec, ok := s.Rules(subject, text); ok {
			return Result[T]{Record: rec, Origin: model.OriginRegex}
		}
	}

	rec, origin := s.Default(subject)
	return Result[T]{Record: rec, Origin: origin}
}

func generate[T any](ctx context.Context, x *Extractor, subject, text string, s Schema[T]) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	raw, err := x.llm.Complete(ctx, llm.Request{
		System: "You are a pharmaceutical research analyst. You answer only with a single JSON object.",
		Prompt: Prompt(subject, text, s.Instructions, s.Shape),
		JSON:   true,
		Step:   s.Name,
	})
	if err != nil {
		return zero, err
	}

	cleaned := CleanJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return zero, eris.Errorf("extract: %s: completion is not a JSON object", s.Name)
	}
	var rec T
	if err := json.Unmarshal([]byte(cleaned), &rec); err != nil {
		return zero, eris.Wrapf(err, "extract: %s: parse completion", s.Name)
	}
	if s.Valid != nil && !s.Valid(rec) {
		return zero, eris.Errorf("extract: %s: completion failed validation", s.Name)
	}
	return rec, nil
}

// Prompt renders the extraction prompt.
func Prompt(subject, context, instructions, shape string) string {
	return fmt.Sprintf(`Based on the following pharmaceutical knowledge about %s, %s

CONTEXT:
%s

Respond in this exact JSON format (use null or "Unknown" for anything not found):
%s

Only output the JSON, nothing else.`, subject, instructions, context, shape)
}

// CleanJSON strips Markdown code fences and surrounding prose, returning
// the outermost JSON object.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func joinEvidence(evidence []model.Evidence) string {
	parts := make([]string, 0, len(evidence))
	for _, e := range evidence {
		if e.Synthetic || strings.TrimSpace(e.Content) == "" {
			continue
		}
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, "\n\n")
}
