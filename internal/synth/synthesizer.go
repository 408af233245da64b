package synth

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/formatter"
	"github.com/ashureev/shopilots-chat/internal/metrics"
)

// Generation budgets.
const (
	HostedStreamTokens = 500
	LocalStreamTokens  = 400
	AnswerTokens       = 350

	retryTokenCeiling = 250
	retryCharCeiling  = 700
	minAnswerLen      = 30

	// ChunkSize is the rune length of formatter output slices.
	ChunkSize = 5
)

// Request is one question with its retrieved context.
type Request struct {
	Question string
	Passages []domain.Passage
	History  []domain.Turn
}

// Frame is one unit of a synthesized stream. A stream carries any number
// of token or error frames followed by exactly one Done frame.
type Frame struct {
	Token string
	Error string
	Done  bool
}

// Report describes how a stream was served. It is complete once the
// stream's iterator has returned.
type Report struct {
	Model    string
	Fallback bool
	Reason   string
	Err      error
	Tokens   int

	answer strings.Builder
}

// Answer returns the text delivered to the client as tokens.
func (r *Report) Answer() string {
	return r.answer.String()
}

func (r *Report) fallBack(reason string) {
	r.Fallback = true
	if r.Reason == "" {
		r.Reason = reason
	}
}

// Synthesizer answers questions from passages using one generation
// backend, selected at construction, with the formatter as last resort.
type Synthesizer struct {
	gen         Generator
	format      *formatter.Formatter
	temperature float64
	logger      *slog.Logger
}

// New returns a Synthesizer. A nil gen serves every answer from the formatter.
func New(gen Generator, f *formatter.Formatter, temperature float64, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if f == nil {
		f = formatter.New()
	}
	return &Synthesizer{gen: gen, format: f, temperature: temperature, logger: logger}
}

// Tier reports the active backend tier.
func (s *Synthesizer) Tier() Tier {
	if s.gen == nil {
		return TierRuleBased
	}
	return s.gen.Tier()
}

// Model names the model that serves generated answers.
func (s *Synthesizer) Model() string {
	if s.gen == nil {
		return RuleBasedModel
	}
	return s.gen.Name()
}

// Format answers from the rule-based formatter.
func (s *Synthesizer) Format(passages []domain.Passage, question string) string {
	return s.format.Format(passages, question)
}

// Categories lists the product categories the formatter finds for question.
func (s *Synthesizer) Categories(passages []domain.Passage, question string) []domain.Category {
	return s.format.Categories(passages, question)
}

// Stream returns the frames answering req. The Report is filled in while
// the sequence is consumed. Stopping iteration early closes the backend
// stream.
func (s *Synthesizer) Stream(ctx context.Context, req Request) (iter.Seq[Frame], *Report) {
	rep := &Report{}
	seq := func(yield func(Frame) bool) {
		if !s.body(ctx, req, rep, yield) {
			return
		}
		yield(Frame{Done: true})
	}
	return seq, rep
}

// body emits every frame but Done. It returns false if the consumer stopped.
func (s *Synthesizer) body(ctx context.Context, req Request, rep *Report, yield func(Frame) bool) bool {
	if s.gen == nil || len(req.Passages) == 0 {
		return s.emitFormatted(req, rep, yield)
	}

	maxTokens := LocalStreamTokens
	if s.gen.Tier() == TierHosted {
		maxTokens = HostedStreamTokens
	}

	prompt := BuildPrompt(req.Question, req.Passages, req.History, s.temperature)
	stream, err := s.gen.Stream(ctx, prompt, maxTokens)
	if err != nil {
		metrics.BackendFailures.WithLabelValues(s.gen.Tier().String(), "open").Inc()
		if errors.Is(err, ErrStreamUnavailable) {
			s.logger.Warn("generation stream unavailable, using formatter", "model", s.gen.Name(), "error", err)
			rep.fallBack(err.Error())
			return s.emitFormatted(req, rep, yield)
		}
		s.logger.Error("failed to open generation stream", "model", s.gen.Name(), "error", err)
		rep.Model = s.gen.Name()
		rep.Err = err
		return yield(Frame{Error: err.Error()})
	}
	defer func() { _ = stream.Close() }()

	rep.Model = s.gen.Name()
	for stream.Next() {
		tok, err := stream.Token()
		if err != nil {
			metrics.SkippedChunks.WithLabelValues(s.gen.Tier().String()).Inc()
			s.logger.Debug("skipping unparseable chunk", "model", s.gen.Name(), "error", err)
			continue
		}
		if tok.Skip {
			continue
		}
		rep.Tokens++
		rep.answer.WriteString(tok.Text)
		if !yield(Frame{Token: tok.Text}) {
			return false
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		metrics.BackendFailures.WithLabelValues(s.gen.Tier().String(), "stream").Inc()
		s.logger.Warn("generation stream interrupted", "model", s.gen.Name(), "tokens", rep.Tokens, "error", err)
		rep.fallBack(fmt.Sprintf("stream interrupted: %v", err))
	}

	if rep.Tokens == 0 && ctx.Err() == nil {
		rep.fallBack(ErrEmptyStream.Error())
		return s.emitFormatted(req, rep, yield)
	}

	metrics.BackendServed.WithLabelValues(s.gen.Tier().String()).Inc()
	return true
}

func (s *Synthesizer) emitFormatted(req Request, rep *Report, yield func(Frame) bool) bool {
	rep.Model = RuleBasedModel
	metrics.BackendServed.WithLabelValues(TierRuleBased.String()).Inc()
	answer := NoContextMessage
	if len(req.Passages) > 0 {
		answer = s.format.Format(req.Passages, req.Question)
	}
	for _, c := range Chunk(answer, ChunkSize) {
		rep.Tokens++
		rep.answer.WriteString(c)
		if !yield(Frame{Token: c}) {
			return false
		}
	}
	return true
}

// Synthesize returns a single-shot answer from the active backend. Callers
// fall back to Format on error.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (string, error) {
	if s.gen == nil {
		return "", ErrNoBackend
	}

	prompt := BuildPrompt(req.Question, req.Passages, req.History, s.temperature)
	text, err := s.gen.Generate(ctx, prompt, AnswerTokens)
	if err != nil {
		metrics.BackendFailures.WithLabelValues(s.gen.Tier().String(), "generate").Inc()
		return "", fmt.Errorf("generate: %w", err)
	}

	text = StripBoilerplate(text)
	if utf8.RuneCountInString(text) >= minAnswerLen {
		metrics.BackendServed.WithLabelValues(s.gen.Tier().String()).Inc()
		return text, nil
	}

	s.logger.Info("short answer, retrying with stream", "model", s.gen.Name(), "length", utf8.RuneCountInString(text))
	text, err = s.collect(ctx, prompt)
	if err != nil {
		metrics.BackendFailures.WithLabelValues(s.gen.Tier().String(), "retry").Inc()
		return "", fmt.Errorf("retry: %w", err)
	}
	metrics.BackendServed.WithLabelValues(s.gen.Tier().String()).Inc()
	return text, nil
}

// collect reads a stream until it ends or a token or character ceiling is hit.
func (s *Synthesizer) collect(ctx context.Context, prompt Prompt) (string, error) {
	stream, err := s.gen.Stream(ctx, prompt, AnswerTokens)
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	var (
		b      strings.Builder
		tokens int
	)
	for stream.Next() {
		tok, err := stream.Token()
		if err != nil {
			continue
		}
		b.WriteString(tok.Text)
		if tok.Text != "" {
			tokens++
		}
		if tokens >= retryTokenCeiling || utf8.RuneCountInString(b.String()) >= retryCharCeiling {
			break
		}
	}
	if err := stream.Err(); err != nil && b.Len() == 0 {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// Chunk splits s into consecutive slices of at most size runes.
func Chunk(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		out = append(out, string(runes[i:min(i+size, len(runes))]))
	}
	return out
}
