// Package domain holds the value types shared by the chat pipeline stages.
package domain

// Passage is a scored unit of retrieved document content.
type Passage struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Source is the client-facing reference to the document a passage came from.
type Source struct {
	Document string  `json:"document"`
	Score    float64 `json:"score"`
}

// UnknownSource is reported when a document carries no source metadata.
const UnknownSource = "Unknown"

// SourceOf returns the client-facing source of a passage.
func SourceOf(p Passage) Source {
	doc := p.Source
	if doc == "" {
		doc = UnknownSource
	}
	return Source{Document: doc, Score: p.Score}
}

// SourcesOf returns the sources of at most limit passages, in order.
// A negative limit returns all of them.
func SourcesOf(passages []Passage, limit int) []Source {
	if limit < 0 || limit > len(passages) {
		limit = len(passages)
	}
	out := make([]Source, 0, limit)
	for _, p := range passages[:limit] {
		out = append(out, SourceOf(p))
	}
	return out
}
