package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/shopilots-chat/internal/analytics"
	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/retrieval"
	"github.com/ashureev/shopilots-chat/internal/session"
	"github.com/ashureev/shopilots-chat/internal/synth"
)

type fuseCall struct {
	query string
	k     int
}

type fakeRetriever struct {
	byQuery map[string][]domain.Passage
	err     error

	mu    sync.Mutex
	calls []fuseCall
}

func (f *fakeRetriever) Available() bool { return true }

func (f *fakeRetriever) Fuse(_ context.Context, query string, k int) ([]domain.Passage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fuseCall{query, k})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byQuery[query], nil
}

type unavailableRetriever struct{}

func (unavailableRetriever) Available() bool { return false }
func (unavailableRetriever) Fuse(context.Context, string, int) ([]domain.Passage, error) {
	return nil, retrieval.ErrIndexUnavailable
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ConversationEvent
}

func (r *recordingSink) Ingest(ev domain.ConversationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *recordingSink) last(typ domain.EventType) (domain.ConversationEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventType == typ {
			return r.events[i], true
		}
	}
	return domain.ConversationEvent{}, false
}

type tokenStream struct {
	tokens []string
	pos    int
	closed bool
}

func (s *tokenStream) Next() bool {
	if s.pos >= len(s.tokens) {
		return false
	}
	s.pos++
	return true
}

func (s *tokenStream) Token() (synth.Token, error) {
	t := s.tokens[s.pos-1]
	return synth.Token{Text: t, Skip: strings.TrimSpace(t) == ""}, nil
}

func (s *tokenStream) Err() error   { return nil }
func (s *tokenStream) Close() error { s.closed = true; return nil }

type fakeGen struct {
	answer  string
	genErr  error
	tokens  []string
	openErr error
}

func (g *fakeGen) Name() string     { return "fake-model" }
func (g *fakeGen) Tier() synth.Tier { return synth.TierHosted }

func (g *fakeGen) Generate(context.Context, synth.Prompt, int) (string, error) {
	return g.answer, g.genErr
}

func (g *fakeGen) Stream(context.Context, synth.Prompt, int) (synth.TokenStream, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &tokenStream{tokens: g.tokens}, nil
}

const question = "What products do you offer?"

var corpus = []domain.Passage{
	{Content: "The Website Agent answers shopper questions on your store around the clock.", Source: "website.md", Score: 1},
	{Content: "The Call Agent handles inbound phone calls for Shopify merchants.", Source: "call.md", Score: 1},
	{Content: "Shopilots builds AI sales agents for ecommerce.", Source: "about.md", Score: 0.5},
}

type fixture struct {
	svc      *Service
	sink     *recordingSink
	sessions *session.MemoryStore
	ret      *fakeRetriever
}

func newFixture(t *testing.T, gen synth.Generator) *fixture {
	t.Helper()
	f := &fixture{
		sink:     &recordingSink{},
		sessions: session.NewMemoryStore(session.DefaultHistoryLength),
		ret:      &fakeRetriever{byQuery: map[string][]domain.Passage{question: corpus}},
	}
	f.svc = NewService(Deps{
		Retriever:   f.ret,
		Synthesizer: synth.New(gen, nil, 0.7, nil),
		Sessions:    f.sessions,
		Analytics:   f.sink,
	})
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(250 * time.Millisecond)
		return clock
	}
	return f
}

func (f *fixture) history(t *testing.T, id string) []domain.Turn {
	t.Helper()
	h, err := f.sessions.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

func TestAnswerUsesGeneratedText(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "The Website Agent answers shopper questions all day."}
	f := newFixture(t, gen)

	resp, err := f.svc.Answer(context.Background(), Request{Question: "  " + question + " ", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, gen.answer, resp.Answer)
	assert.Equal(t, []domain.Source{{Document: "website.md", Score: 1}, {Document: "call.md", Score: 1}}, resp.Sources)

	assert.Equal(t, []domain.EventType{domain.EventQuestion, domain.EventAnswer}, f.sink.types())
	ans, _ := f.sink.last(domain.EventAnswer)
	assert.Equal(t, "s1", ans.SessionID)
	assert.Equal(t, "fake-model", ans.ModelUsed)
	assert.Equal(t, 3, *ans.DocsRetrieved)
	assert.Len(t, ans.Sources, 3)
	assert.Equal(t, len([]rune(gen.answer)), *ans.AnswerLength)
	assert.InDelta(t, 250.0, *ans.ResponseTimeMs, 0.001)
	assert.Empty(t, ans.ProductCategory)

	assert.Equal(t, []domain.Turn{{Question: question, Answer: gen.answer}}, f.history(t, "s1"))
}

func TestGeneratedAnswerCategorisedFromAnswerText(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{answer: "For phone orders the Call Agent picks up every inbound call."}
	f := newFixture(t, gen)
	agg := analytics.New(100)
	f.svc.events = agg

	_, err := f.svc.Answer(context.Background(), Request{Question: question, SessionID: "s1"})
	require.NoError(t, err)

	// The retrieved context leads with the Website Agent; the answer does not mention it.
	assert.Equal(t, map[string]int{domain.CategoryCallAgent.String(): 1}, agg.Categories())
}

func TestAnswerFallsBackToFormatter(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		gen    *fakeGen
		reason string
	}{
		"generate error": {gen: &fakeGen{genErr: errors.New("boom")}, reason: "generate: boom"},
		"short answer":   {gen: &fakeGen{answer: "ok"}, reason: shortAnswerReason},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.gen)
			resp, err := f.svc.Answer(context.Background(), Request{Question: question, SessionID: "s1"})
			require.NoError(t, err)
			assert.Equal(t, f.svc.synth.Format(corpus, question), resp.Answer)

			assert.Equal(t, []domain.EventType{domain.EventQuestion, domain.EventFallback, domain.EventAnswer}, f.sink.types())
			fb, _ := f.sink.last(domain.EventFallback)
			assert.Equal(t, tc.reason, fb.Error)
			ans, _ := f.sink.last(domain.EventAnswer)
			assert.Equal(t, synth.RuleBasedModel, ans.ModelUsed)
			assert.Empty(t, f.history(t, "s1"))
		})
	}
}

func TestAnswerRuleBasedRecordsNoFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.svc.Answer(context.Background(), Request{Question: question})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventQuestion, domain.EventAnswer}, f.sink.types())

	ans, _ := f.sink.last(domain.EventAnswer)
	assert.Equal(t, "default", ans.SessionID)
	assert.Equal(t, domain.CategoryWebsiteAgent.String(), ans.ProductCategory)
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.svc.Answer(context.Background(), Request{Question: "   "})
	require.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, f.sink.types())
}

func TestIndexUnavailable(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	svc := NewService(Deps{Retriever: unavailableRetriever{}, Analytics: sink})

	_, err := svc.Answer(context.Background(), Request{Question: question})
	require.ErrorIs(t, err, retrieval.ErrIndexUnavailable)

	_, err = svc.Stream(context.Background(), Request{Question: question})
	require.ErrorIs(t, err, retrieval.ErrIndexUnavailable)

	assert.Equal(t, []domain.EventType{
		domain.EventQuestion, domain.EventError,
		domain.EventQuestion, domain.EventError,
	}, sink.types())
	ev, _ := sink.last(domain.EventError)
	assert.Equal(t, retrieval.ErrIndexUnavailable.Error(), ev.Error)
}

func TestProductQuestionRequeries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.ret.byQuery = map[string][]domain.Passage{defaultProductQuery: corpus[:1]}

	resp, err := f.svc.Answer(context.Background(), Request{Question: "Which PRODUCTS do you sell?"})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
	assert.Equal(t, []fuseCall{
		{"Which PRODUCTS do you sell?", defaultTopK},
		{defaultProductQuery, productTopK},
	}, f.ret.calls)

	f.ret.calls = nil
	_, err = f.svc.Answer(context.Background(), Request{Question: "Do you ship abroad?"})
	require.NoError(t, err)
	assert.Len(t, f.ret.calls, 1)
}

func collect(t *testing.T, seq func(func(synth.Frame) bool)) (string, []synth.Frame) {
	t.Helper()
	var (
		b      strings.Builder
		frames []synth.Frame
	)
	for fr := range seq {
		frames = append(frames, fr)
		b.WriteString(fr.Token)
	}
	return b.String(), frames
}

func TestStreamRecordsAnswerAndHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeGen{tokens: []string{"The Website", " ", " Agent", " helps."}})
	seq, err := f.svc.Stream(context.Background(), Request{Question: question, SessionID: "s2"})
	require.NoError(t, err)

	text, frames := collect(t, seq)
	assert.Equal(t, "The Website Agent helps.", text)
	assert.True(t, frames[len(frames)-1].Done)

	assert.Equal(t, []domain.EventType{domain.EventQuestion, domain.EventAnswer}, f.sink.types())
	ans, _ := f.sink.last(domain.EventAnswer)
	assert.Equal(t, "fake-model", ans.ModelUsed)
	assert.Equal(t, text, ans.Answer)
	assert.Equal(t, []domain.Turn{{Question: question, Answer: text}}, f.history(t, "s2"))
}

func TestStreamEarlyStopStillRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeGen{tokens: []string{"Partial", " answer", " text"}})
	seq, err := f.svc.Stream(context.Background(), Request{Question: question, SessionID: "s3"})
	require.NoError(t, err)

	for range seq {
		break
	}
	ans, ok := f.sink.last(domain.EventAnswer)
	require.True(t, ok)
	assert.Equal(t, "Partial", ans.Answer)
	assert.Equal(t, []domain.Turn{{Question: question, Answer: "Partial"}}, f.history(t, "s3"))
}

func TestStreamFallbackAndErrorEvents(t *testing.T) {
	t.Parallel()

	t.Run("unavailable stream", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakeGen{openErr: synth.ErrStreamUnavailable})
		seq, err := f.svc.Stream(context.Background(), Request{Question: question})
		require.NoError(t, err)

		text, _ := collect(t, seq)
		assert.Equal(t, f.svc.synth.Format(corpus, question), text)
		assert.Equal(t, []domain.EventType{domain.EventQuestion, domain.EventFallback, domain.EventAnswer}, f.sink.types())
	})

	t.Run("construction error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakeGen{openErr: errors.New("bad request")})
		seq, err := f.svc.Stream(context.Background(), Request{Question: question, SessionID: "s4"})
		require.NoError(t, err)

		_, frames := collect(t, seq)
		require.Len(t, frames, 2)
		assert.Equal(t, "bad request", frames[0].Error)
		assert.True(t, frames[1].Done)
		assert.Equal(t, []domain.EventType{domain.EventQuestion, domain.EventError}, f.sink.types())
		assert.Empty(t, f.history(t, "s4"))
	})
}
