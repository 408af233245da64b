package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

// MemoryStore is a DocumentStore over an in-memory corpus, scored by query
// term overlap. It serves local development from a scraped corpus file.
type MemoryStore struct {
	docs []domain.Passage
}

// NewMemoryStore creates a store over docs.
func NewMemoryStore(docs []domain.Passage) *MemoryStore {
	return &MemoryStore{docs: docs}
}

// LoadCorpus reads a JSON array of {"content", "source"} objects.
func LoadCorpus(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var docs []domain.Passage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	return NewMemoryStore(docs), nil
}

// Len returns the number of documents in the corpus.
func (m *MemoryStore) Len() int {
	return len(m.docs)
}

// SimilaritySearch returns the k highest-scoring documents.
func (m *MemoryStore) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored := m.rank(query)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// SimilaritySearchWithThreshold returns up to k documents scoring at least threshold.
func (m *MemoryStore) SimilaritySearchWithThreshold(ctx context.Context, query string, k int, threshold float64) ([]domain.Passage, []domain.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var passages []domain.Passage
	var sources []domain.Source
	for _, p := range m.rank(query) {
		if len(passages) == k || p.Score < threshold {
			break
		}
		passages = append(passages, p)
		sources = append(sources, domain.SourceOf(p))
	}
	return passages, sources, nil
}

func (m *MemoryStore) rank(query string) []domain.Passage {
	terms := tokenize(query)
	out := make([]domain.Passage, len(m.docs))
	for i, d := range m.docs {
		d.Score = overlap(terms, strings.ToLower(d.Content))
		out[i] = d
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func overlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(content, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
