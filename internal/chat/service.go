// Package chat runs the question pipeline: retrieve passages, synthesize an
// answer, keep the session history, and record analytics events.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/identity"
	"github.com/ashureev/shopilots-chat/internal/metrics"
	"github.com/ashureev/shopilots-chat/internal/retrieval"
	"github.com/ashureev/shopilots-chat/internal/session"
	"github.com/ashureev/shopilots-chat/internal/synth"
)

// ErrEmptyQuestion is returned for a missing or blank question.
var ErrEmptyQuestion = errors.New("no question provided")

const (
	defaultTopK         = 4
	productTopK         = 3
	responseSources     = 2
	minAcceptedAnswer   = 20
	shortAnswerReason   = "answer too short"
	defaultProductQuery = "shopilots AI sales agents products"
)

// Retriever returns passages relevant to a question.
type Retriever interface {
	Available() bool
	Fuse(ctx context.Context, query string, k int) ([]domain.Passage, error)
}

// EventSink receives conversation events. *analytics.Aggregator implements it.
type EventSink interface {
	Ingest(ev domain.ConversationEvent)
}

// Request is a chat question as sent by clients.
type Request struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the answer to a non-streaming chat request.
type Response struct {
	Answer  string          `json:"answer"`
	Sources []domain.Source `json:"sources,omitempty"`
}

// Deps are the collaborators a Service is wired with.
type Deps struct {
	Retriever    Retriever
	Synthesizer  *synth.Synthesizer
	Sessions     session.Store
	Analytics    EventSink
	Logger       *slog.Logger
	TopK         int
	ProductQuery string
}

// Service answers chat questions.
type Service struct {
	retriever    Retriever
	synth        *synth.Synthesizer
	sessions     session.Store
	events       EventSink
	logger       *slog.Logger
	topK         int
	productQuery string
	now          func() time.Time
}

// NewService creates a Service from deps. Missing optional collaborators get
// working defaults: rule-based synthesis, in-memory history, no analytics.
func NewService(deps Deps) *Service {
	s := &Service{
		retriever:    deps.Retriever,
		synth:        deps.Synthesizer,
		sessions:     deps.Sessions,
		events:       deps.Analytics,
		logger:       deps.Logger,
		topK:         deps.TopK,
		productQuery: deps.ProductQuery,
		now:          time.Now,
	}
	if s.synth == nil {
		s.synth = synth.New(nil, nil, 0, deps.Logger)
	}
	if s.sessions == nil {
		s.sessions = session.NewMemoryStore(session.DefaultHistoryLength)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.topK <= 0 {
		s.topK = defaultTopK
	}
	if strings.TrimSpace(s.productQuery) == "" {
		s.productQuery = defaultProductQuery
	}
	return s
}

// exchange is the per-request state shared by both chat paths.
type exchange struct {
	question  string
	sessionID string
	start     time.Time
	passages  []domain.Passage
	history   []domain.Turn
}

// begin validates req, records the question and retrieves passages.
func (s *Service) begin(ctx context.Context, req Request) (*exchange, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ex := &exchange{
		question:  question,
		sessionID: identity.Resolve(ctx, req.SessionID),
		start:     s.now(),
	}
	s.emit(domain.ConversationEvent{
		Timestamp: ex.start,
		SessionID: ex.sessionID,
		EventType: domain.EventQuestion,
		Question:  question,
	})

	passages, err := s.retrieve(ctx, question)
	if err != nil {
		s.logger.Error("retrieval failed", "session_id", ex.sessionID, "error", err)
		s.emit(domain.ConversationEvent{
			SessionID: ex.sessionID,
			EventType: domain.EventError,
			Question:  question,
			Error:     err.Error(),
		})
		return nil, err
	}
	ex.passages = passages

	history, err := s.sessions.History(ctx, ex.sessionID)
	if err != nil {
		s.logger.Warn("failed to load chat history", "session_id", ex.sessionID, "error", err)
	}
	ex.history = history
	return ex, nil
}

func (s *Service) retrieve(ctx context.Context, question string) ([]domain.Passage, error) {
	if s.retriever == nil || !s.retriever.Available() {
		return nil, retrieval.ErrIndexUnavailable
	}
	passages, err := s.retriever.Fuse(ctx, question, s.topK)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 && strings.Contains(strings.ToLower(question), "product") {
		s.logger.Info("no passages found, retrying with product query")
		passages, err = s.retriever.Fuse(ctx, s.productQuery, productTopK)
		if err != nil {
			return nil, err
		}
	}
	return passages, nil
}

// Answer returns a complete answer for req. Only ErrEmptyQuestion and
// retrieval configuration errors are returned; synthesis failures fall back
// to the formatter.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	ex, err := s.begin(ctx, req)
	if err != nil {
		return Response{}, err
	}

	var answer, model, reason string
	if s.synth.Tier() != synth.TierRuleBased && len(ex.passages) > 0 {
		start := time.Now()
		text, err := s.synth.Synthesize(ctx, synth.Request{
			Question: ex.question,
			Passages: ex.passages,
			History:  ex.history,
		})
		metrics.StageDuration.WithLabelValues("synthesis").Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			s.logger.Warn("synthesis failed, using formatter", "session_id", ex.sessionID, "error", err)
			reason = err.Error()
		case utf8.RuneCountInString(text) <= minAcceptedAnswer:
			reason = shortAnswerReason
		default:
			answer, model = text, s.synth.Model()
			s.remember(ctx, ex, answer)
		}
	}

	if answer == "" {
		answer, model = s.synth.Format(ex.passages, ex.question), synth.RuleBasedModel
		if reason != "" {
			s.emit(domain.ConversationEvent{
				SessionID: ex.sessionID,
				EventType: domain.EventFallback,
				Question:  ex.question,
				Error:     reason,
			})
		}
	}

	s.emitAnswer(ex, answer, model)
	return Response{Answer: answer, Sources: domain.SourcesOf(ex.passages, responseSources)}, nil
}

// Stream returns the frames answering req. Errors are only returned before
// streaming starts; afterwards failures travel as error frames. Events and
// history are recorded when the sequence finishes, including when the
// consumer stops early.
func (s *Service) Stream(ctx context.Context, req Request) (iter.Seq[synth.Frame], error) {
	ex, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	frames, rep := s.synth.Stream(ctx, synth.Request{
		Question: ex.question,
		Passages: ex.passages,
		History:  ex.history,
	})
	return func(yield func(synth.Frame) bool) {
		defer s.finishStream(ctx, ex, rep)
		for f := range frames {
			if !yield(f) {
				return
			}
		}
	}, nil
}

func (s *Service) finishStream(ctx context.Context, ex *exchange, rep *synth.Report) {
	metrics.StageDuration.WithLabelValues("stream").Observe(time.Since(ex.start).Seconds())
	if rep.Err != nil {
		s.emit(domain.ConversationEvent{
			SessionID: ex.sessionID,
			EventType: domain.EventError,
			Question:  ex.question,
			Error:     rep.Err.Error(),
			ModelUsed: rep.Model,
		})
		return
	}
	if rep.Fallback {
		s.emit(domain.ConversationEvent{
			SessionID: ex.sessionID,
			EventType: domain.EventFallback,
			Question:  ex.question,
			Error:     rep.Reason,
			ModelUsed: rep.Model,
		})
	}

	answer := rep.Answer()
	s.emitAnswer(ex, answer, rep.Model)
	if strings.TrimSpace(answer) != "" {
		s.remember(context.WithoutCancel(ctx), ex, answer)
	}
}

func (s *Service) remember(ctx context.Context, ex *exchange, answer string) {
	turn := domain.Turn{Question: ex.question, Answer: strings.TrimSpace(answer)}
	if err := s.sessions.Append(ctx, ex.sessionID, turn); err != nil {
		s.logger.Warn("failed to append chat history", "session_id", ex.sessionID, "error", err)
	}
}

func (s *Service) emitAnswer(ex *exchange, answer, model string) {
	ev := domain.ConversationEvent{
		SessionID:      ex.sessionID,
		EventType:      domain.EventAnswer,
		Question:       ex.question,
		Answer:         answer,
		ResponseTimeMs: domain.Float(float64(s.now().Sub(ex.start).Microseconds()) / 1000),
		DocsRetrieved:  domain.Int(len(ex.passages)),
		Sources:        domain.SourcesOf(ex.passages, -1),
		ModelUsed:      model,
		AnswerLength:   domain.Int(utf8.RuneCountInString(answer)),
	}
	// Generated answers are categorised from their own text by the aggregator.
	if model == synth.RuleBasedModel {
		if cats := s.synth.Categories(ex.passages, ex.question); len(cats) > 0 {
			ev.ProductCategory = cats[0].String()
		}
	}
	s.emit(ev)
}

func (s *Service) emit(ev domain.ConversationEvent) {
	if s.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	s.events.Ingest(ev)
}
