package domain

import "time"

// EventType identifies the pipeline transition a ConversationEvent records.
type EventType string

const (
	EventQuestion EventType = "question"
	EventAnswer   EventType = "answer"
	EventFallback EventType = "fallback"
	EventError    EventType = "error"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventQuestion, EventAnswer, EventFallback, EventError:
		return true
	}
	return false
}

// ConversationEvent is an immutable record of one pipeline stage transition.
// Optional numeric fields are pointers so that "absent" and zero stay distinct.
type ConversationEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	SessionID       string    `json:"session_id"`
	EventType       EventType `json:"event_type"`
	Question        string    `json:"question,omitempty"`
	Answer          string    `json:"answer,omitempty"`
	ResponseTimeMs  *float64  `json:"response_time_ms,omitempty"`
	DocsRetrieved   *int      `json:"docs_retrieved,omitempty"`
	Sources         []Source  `json:"sources,omitempty"`
	Error           string    `json:"error,omitempty"`
	ModelUsed       string    `json:"model_used,omitempty"`
	AnswerLength    *int      `json:"answer_length,omitempty"`
	ProductCategory string    `json:"product_category,omitempty"`
}

// Float returns a pointer to v, for optional event fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional event fields.
func Int(v int) *int { return &v }
