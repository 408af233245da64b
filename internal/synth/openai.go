package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/sony/gobreaker"

	"github.com/ashureev/shopilots-chat/internal/metrics"
)

// chunkStream is the subset of the SDK's streaming response used here.
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// OpenAIGenerator is the hosted tier. Calls run through a circuit breaker
// so a failing API is skipped quickly instead of on every request.
type OpenAIGenerator struct {
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	open     func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream
	complete func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// NewOpenAIGenerator returns a hosted generator for model. baseURL may be
// empty to use the public API.
func NewOpenAIGenerator(apiKey, baseURL, model string, httpClient *http.Client, logger *slog.Logger) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)

	g := newOpenAIGenerator(model, logger)
	g.open = func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
		return client.Chat.Completions.NewStreaming(ctx, params)
	}
	g.complete = func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return client.Chat.Completions.New(ctx, params)
	}
	return g
}

func newOpenAIGenerator(model string, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &OpenAIGenerator{model: model, logger: logger}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return g
}

func (g *OpenAIGenerator) Name() string { return g.model }

func (g *OpenAIGenerator) Tier() Tier { return TierHosted }

func (g *OpenAIGenerator) params(p Prompt, maxTokens int) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(p.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
}

// Generate returns a single completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt, maxTokens int) (string, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.complete(ctx, g.params(p, maxTokens))
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("completion has no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	return out.(string), nil
}

// Stream opens a streaming completion and reads the first chunk before
// returning. A stream that fails that read, or an open breaker, is
// reported as ErrStreamUnavailable.
func (g *OpenAIGenerator) Stream(ctx context.Context, p Prompt, maxTokens int) (TokenStream, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		s := g.open(ctx, g.params(p, maxTokens))
		if !s.Next() {
			err := s.Err()
			_ = s.Close()
			if err == nil {
				err = ErrEmptyStream
			}
			return nil, err
		}
		return &openAIStream{stream: s, primed: true}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	return out.(*openAIStream), nil
}

type openAIStream struct {
	stream chunkStream
	primed bool
}

func (s *openAIStream) Next() bool {
	if s.primed {
		s.primed = false
		return true
	}
	return s.stream.Next()
}

func (s *openAIStream) Token() (Token, error) {
	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return Token{Skip: true}, nil
	}
	text := chunk.Choices[0].Delta.Content
	return Token{Text: text, Skip: text == ""}, nil
}

func (s *openAIStream) Err() error { return s.stream.Err() }

func (s *openAIStream) Close() error { return s.stream.Close() }
