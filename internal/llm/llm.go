// Package llm is the generative completion capability. Callers check
// Available before every call; an unavailable completer never blocks and
// returns ErrUnavailable.
package llm

import (
	"context"
	"iter"

	"github.com/rotisserie/eris"
)

// ErrUnavailable is returned by completers that cannot serve requests.
var ErrUnavailable = eris.New("llm: completion capability unavailable")

var errEmpty = eris.New("llm: empty completion")

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks providers that support it for a JSON response body.
	JSON bool
	// Step labels usage logs.
	Step string
}

// Completer produces text completions.
type Completer interface {
	Available() bool
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Disabled is a Completer that is never available.
type Disabled struct{}

func (Disabled) Available() bool { return false }

func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

func (Disabled) Stream(context.Context, Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", ErrUnavailable)
	}
}
