// Package synth turns retrieved passages into an answer, trying the
// configured generation backend first and falling back to the rule-based
// formatter, and exposes the result as a uniform token stream.
package synth

import (
	"context"
	"errors"
)

// Tier is a generation backend tier, in priority order.
type Tier int

const (
	TierHosted Tier = iota
	TierLocal
	TierRuleBased
)

func (t Tier) String() string {
	switch t {
	case TierHosted:
		return "hosted"
	case TierLocal:
		return "local"
	default:
		return "rule-based"
	}
}

// RuleBasedModel is reported as the model for formatter-served answers.
const RuleBasedModel = "rule-based"

// NoContextMessage is streamed when retrieval found nothing to answer from.
const NoContextMessage = "I couldn't find specific information about that."

var (
	// ErrNoBackend is returned by Synthesize when no generation backend is configured.
	ErrNoBackend = errors.New("no generation backend configured")

	// ErrStreamUnavailable marks a stream that failed its liveness check
	// before producing output. The caller may substitute another answer.
	ErrStreamUnavailable = errors.New("generation stream unavailable")

	// ErrEmptyStream is reported when a stream ends without usable text.
	ErrEmptyStream = errors.New("generation stream produced no text")
)

// Prompt is the input to a generation backend.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

// Combined renders the prompt as one text block for completion-style backends.
func (p Prompt) Combined() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// Token is the parse result for one raw stream item: text, or a skip.
type Token struct {
	Text string
	Skip bool
}

// TokenStream iterates a backend's raw output. Token parses the current
// item; a parse error applies to that item only.
type TokenStream interface {
	Next() bool
	Token() (Token, error)
	Err() error
	Close() error
}

// Generator is one generation backend.
type Generator interface {
	// Name identifies the model serving answers, as recorded in analytics.
	Name() string
	Tier() Tier
	Generate(ctx context.Context, p Prompt, maxTokens int) (string, error)
	Stream(ctx context.Context, p Prompt, maxTokens int) (TokenStream, error)
}
