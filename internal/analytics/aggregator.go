// Package analytics aggregates conversation events into rollups and KPIs.
//
// All ingestion and every read accessor run under one mutex, so a reader
// never observes a half-applied event.
package analytics

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/metrics"
)

const (
	// DefaultCapacity is the number of events kept for Recent and Export.
	DefaultCapacity = 10000

	hourLayout        = "2006-01-02 15:00"
	maxQuestionKeyLen = 100
)

// Sink receives every ingested event after the aggregate is updated.
type Sink interface {
	Enqueue(ev domain.ConversationEvent)
}

// KPIs is the derived summary returned by Aggregator.KPIs.
type KPIs struct {
	TotalConversations         int     `json:"total_conversations"`
	TotalQuestions             int     `json:"total_questions"`
	TotalAnswers               int     `json:"total_answers"`
	CompletionRate             float64 `json:"completion_rate"`
	FallbackRate               float64 `json:"fallback_rate"`
	ErrorRate                  float64 `json:"error_rate"`
	AvgResponseTimeMs          float64 `json:"avg_response_time_ms"`
	AvgQuestionsPerSession     float64 `json:"avg_questions_per_session"`
	FirstContactResolutionRate float64 `json:"first_contact_resolution_rate"`
	TotalFallbacks             int     `json:"total_fallbacks"`
	TotalErrors                int     `json:"total_errors"`
}

// QuestionCount is one entry of the top-questions table.
type QuestionCount struct {
	Question string `json:"question"`
	Count    int    `json:"count"`
}

// HourlyCount is the number of questions asked in one hour.
type HourlyCount struct {
	Hour          string `json:"hour"`
	QuestionCount int    `json:"question_count"`
}

// SessionSummary describes one session's activity.
type SessionSummary struct {
	SessionID           string     `json:"session_id"`
	StartTime           *time.Time `json:"start_time"`
	LastActivity        *time.Time `json:"last_activity"`
	QuestionCount       int        `json:"question_count"`
	AvgResponseTimeMs   float64    `json:"avg_response_time_ms"`
	TotalResponseTimeMs float64    `json:"total_response_time_ms"`
}

type sessionRecord struct {
	start         time.Time
	lastActivity  time.Time
	questions     int
	totalResponse float64
	seen          time.Time
}

type questionStat struct {
	count int
	order int
}

// Aggregator is the process-wide analytics engine.
type Aggregator struct {
	mu     sync.Mutex
	now    func() time.Time
	sink   Sink
	events *Ring[domain.ConversationEvent]

	questions     int
	answers       int
	fallbacks     int
	errors        int
	totalResponse float64

	// observed holds session ids that asked at least one question.
	observed       map[string]struct{}
	records        map[string]*sessionRecord
	retired        int
	retiredSingles int

	hourly          map[string]int
	topQuestions    map[string]*questionStat
	modelUsage      map[string]int
	categories      map[string]int
	fallbackReasons map[string]int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used for event timestamps and hourly windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithSink forwards every ingested event to s.
func WithSink(s Sink) Option {
	return func(a *Aggregator) { a.sink = s }
}

// New returns an Aggregator buffering at most capacity events.
func New(capacity int, opts ...Option) *Aggregator {
	a := &Aggregator{
		now:             time.Now,
		events:          NewRing[domain.ConversationEvent](capacity),
		observed:        make(map[string]struct{}),
		records:         make(map[string]*sessionRecord),
		hourly:          make(map[string]int),
		topQuestions:    make(map[string]*questionStat),
		modelUsage:      make(map[string]int),
		categories:      make(map[string]int),
		fallbackReasons: make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest records ev. A zero timestamp is replaced with the current time.
func (a *Aggregator) Ingest(ev domain.ConversationEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}

	a.mu.Lock()
	a.events.Push(ev)
	switch ev.EventType {
	case domain.EventQuestion:
		a.ingestQuestion(ev)
	case domain.EventAnswer:
		a.ingestAnswer(ev)
	case domain.EventFallback:
		a.fallbacks++
		if ev.Error != "" {
			a.fallbackReasons[ev.Error]++
		}
	case domain.EventError:
		a.errors++
	}
	if r, ok := a.records[ev.SessionID]; ok {
		r.seen = ev.Timestamp
	}
	a.mu.Unlock()

	metrics.AnalyticsEvents.WithLabelValues(string(ev.EventType)).Inc()
	if a.sink != nil {
		a.sink.Enqueue(ev)
	}
}

func (a *Aggregator) ingestQuestion(ev domain.ConversationEvent) {
	a.questions++
	a.observed[ev.SessionID] = struct{}{}
	a.hourly[hourKey(ev.Timestamp)]++

	if ev.Question != "" {
		key := normalizeQuestion(ev.Question)
		st, ok := a.topQuestions[key]
		if !ok {
			st = &questionStat{order: len(a.topQuestions)}
			a.topQuestions[key] = st
		}
		st.count++
	}

	r := a.record(ev.SessionID)
	if r.start.IsZero() {
		r.start = ev.Timestamp
	}
	r.questions++
	r.lastActivity = ev.Timestamp
}

func (a *Aggregator) ingestAnswer(ev domain.ConversationEvent) {
	a.answers++
	if ev.ResponseTimeMs != nil {
		a.totalResponse += *ev.ResponseTimeMs
		a.record(ev.SessionID).totalResponse += *ev.ResponseTimeMs
	}
	if ev.ModelUsed != "" {
		a.modelUsage[ev.ModelUsed]++
	}

	switch {
	case ev.ProductCategory != "":
		a.categories[ev.ProductCategory]++
	case ev.Answer != "":
		if c, ok := DetectCategory(ev.Answer); ok {
			a.categories[c.String()]++
		}
	}
}

func (a *Aggregator) record(id string) *sessionRecord {
	r, ok := a.records[id]
	if !ok {
		r = &sessionRecord{}
		a.records[id] = r
	}
	return r
}

// KPIs returns the derived indicators. Rates are percentages rounded to
// two decimals.
func (a *Aggregator) KPIs() KPIs {
	a.mu.Lock()
	defer a.mu.Unlock()

	conversations := a.conversations()
	singles := a.retiredSingles
	for id := range a.observed {
		if r, ok := a.records[id]; ok && r.questions == 1 {
			singles++
		}
	}

	return KPIs{
		TotalConversations:         conversations,
		TotalQuestions:             a.questions,
		TotalAnswers:               a.answers,
		CompletionRate:             percent(a.answers, a.questions),
		FallbackRate:               percent(a.fallbacks, a.questions),
		ErrorRate:                  percent(a.errors, a.questions),
		AvgResponseTimeMs:          round2(ratio(a.totalResponse, a.answers)),
		AvgQuestionsPerSession:     round2(ratio(float64(a.questions), conversations)),
		FirstContactResolutionRate: percent(singles, conversations),
		TotalFallbacks:             a.fallbacks,
		TotalErrors:                a.errors,
	}
}

// conversations counts distinct questioning sessions, including retired ones.
func (a *Aggregator) conversations() int {
	return len(a.observed) + a.retired
}

// TopQuestions returns the most frequent normalized questions, most
// frequent first. Ties keep first-seen order.
func (a *Aggregator) TopQuestions(limit int) []QuestionCount {
	a.mu.Lock()
	type entry struct {
		q  string
		st questionStat
	}
	all := make([]entry, 0, len(a.topQuestions))
	for q, st := range a.topQuestions {
		all = append(all, entry{q, *st})
	}
	a.mu.Unlock()

	slices.SortFunc(all, func(x, y entry) int {
		if c := cmp.Compare(y.st.count, x.st.count); c != 0 {
			return c
		}
		return cmp.Compare(x.st.order, y.st.order)
	})
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]QuestionCount, len(all))
	for i, e := range all {
		out[i] = QuestionCount{Question: e.q, Count: e.st.count}
	}
	return out
}

// Hourly returns question counts for the trailing hours, oldest first,
// ending with the current hour.
func (a *Aggregator) Hourly(hours int) []HourlyCount {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hours <= 0 {
		return []HourlyCount{}
	}
	now := a.now()
	out := make([]HourlyCount, hours)
	for i := range hours {
		key := hourKey(now.Add(-time.Duration(i) * time.Hour))
		out[hours-1-i] = HourlyCount{Hour: key, QuestionCount: a.hourly[key]}
	}
	return out
}

// ModelUsage returns answer counts per model.
func (a *Aggregator) ModelUsage() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneCounts(a.modelUsage)
}

// Categories returns answer counts per product category label.
func (a *Aggregator) Categories() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneCounts(a.categories)
}

// FallbackReasons returns fallback counts per reason.
func (a *Aggregator) FallbackReasons() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneCounts(a.fallbackReasons)
}

// Recent returns the newest buffered events, oldest first. A limit <= 0
// returns the whole buffer.
func (a *Aggregator) Recent(limit int) []domain.ConversationEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		return a.events.Slice()
	}
	return a.events.Last(limit)
}

// Session returns the summary of a live session record.
func (a *Aggregator) Session(id string) (SessionSummary, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return SessionSummary{}, false
	}
	s := SessionSummary{
		SessionID:           id,
		QuestionCount:       r.questions,
		AvgResponseTimeMs:   round2(ratio(r.totalResponse, r.questions)),
		TotalResponseTimeMs: round2(r.totalResponse),
	}
	if !r.start.IsZero() {
		start, last := r.start, r.lastActivity
		s.StartTime, s.LastActivity = &start, &last
	}
	return s, true
}

// Sweep retires session records idle for longer than ttl and returns how
// many were retired. Retired sessions still count towards conversation
// totals and first-contact resolution.
func (a *Aggregator) Sweep(ttl time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-ttl)
	n := 0
	for id, r := range a.records {
		if r.seen.After(cutoff) {
			continue
		}
		if _, ok := a.observed[id]; ok {
			a.retired++
			if r.questions == 1 {
				a.retiredSingles++
			}
			delete(a.observed, id)
		}
		delete(a.records, id)
		n++
	}
	return n
}

func hourKey(t time.Time) string {
	return t.Local().Format(hourLayout)
}

func normalizeQuestion(q string) string {
	q = strings.TrimSpace(strings.ToLower(q))
	if utf8.RuneCountInString(q) <= maxQuestionKeyLen {
		return q
	}
	return string([]rune(q)[:maxQuestionKeyLen])
}

func ratio(num float64, den int) float64 {
	if den == 0 {
		return 0
	}
	return num / float64(den)
}

func percent(num, den int) float64 {
	return round2(ratio(float64(num)*100, den))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
