// Package retrieval fuses the results of several search strategies against a
// document index into one deduplicated, bounded list of passages.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrIndexUnavailable is returned when no document index has been configured.
var ErrIndexUnavailable = errors.New("vector database not initialized")

// DocumentStore is the document index consulted by Fusion.
type DocumentStore interface {
	// SimilaritySearch returns up to k passages nearest to query.
	SimilaritySearch(ctx context.Context, query string, k int) ([]domain.Passage, error)

	// SimilaritySearchWithThreshold returns up to k passages scoring at least
	// threshold, with one source per passage.
	SimilaritySearchWithThreshold(ctx context.Context, query string, k int, threshold float64) ([]domain.Passage, []domain.Source, error)
}

const (
	broadScore          = 1.0
	fallbackScore       = 0.5
	similarityThreshold = 0.01

	mergePrefixLen = 100
	dedupPrefixLen = 200
	minMergeLen    = 20
	minContentLen  = 15
)

// DefaultFallbackQuery is the broad query issued when both strategies come back empty.
const DefaultFallbackQuery = "shopilots products agents"

// Fusion merges broad and threshold similarity searches.
type Fusion struct {
	store         DocumentStore
	fallbackQuery string
	logger        *slog.Logger
}

// NewFusion creates a Fusion over store. An empty fallbackQuery uses DefaultFallbackQuery.
func NewFusion(store DocumentStore, fallbackQuery string, logger *slog.Logger) *Fusion {
	if strings.TrimSpace(fallbackQuery) == "" {
		fallbackQuery = DefaultFallbackQuery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fusion{
		store:         store,
		fallbackQuery: fallbackQuery,
		logger:        logger,
	}
}

// Available reports whether a document index is configured.
func (f *Fusion) Available() bool {
	return f != nil && f.store != nil
}

// Fuse returns at most k passages for query in first-found order.
// Strategy failures are logged and never fatal; the only error is
// ErrIndexUnavailable when no store is configured.
func (f *Fusion) Fuse(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	if !f.Available() {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("retrieval").Observe(time.Since(start).Seconds())
	}()

	var broad, threshold []domain.Passage
	var g errgroup.Group
	g.Go(func() error {
		broad = f.broadSearch(ctx, query, 2*k)
		return nil
	})
	g.Go(func() error {
		threshold = f.thresholdSearch(ctx, query, 2*k)
		return nil
	})
	_ = g.Wait()

	out := dedupe(merge(broad, threshold))
	if len(out) == 0 {
		metrics.RetrievalFallbacks.Inc()
		out = f.fallback(ctx, k)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *Fusion) broadSearch(ctx context.Context, query string, k int) []domain.Passage {
	docs, err := f.store.SimilaritySearch(ctx, query, k)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues("broad").Inc()
		f.logger.Warn("Similarity search failed", "strategy", "broad", "error", err)
		return nil
	}
	out := make([]domain.Passage, 0, len(docs))
	for _, d := range docs {
		d.Score = broadScore
		out = append(out, d)
	}
	return out
}

func (f *Fusion) thresholdSearch(ctx context.Context, query string, k int) []domain.Passage {
	docs, sources, err := f.store.SimilaritySearchWithThreshold(ctx, query, k, similarityThreshold)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues("threshold").Inc()
		f.logger.Warn("Threshold search failed", "strategy", "threshold", "error", err)
		return nil
	}
	out := make([]domain.Passage, 0, len(docs))
	for i, d := range docs {
		if i < len(sources) {
			d.Score = sources[i].Score
			if sources[i].Document != "" {
				d.Source = sources[i].Document
			}
		}
		out = append(out, d)
	}
	return out
}

func (f *Fusion) fallback(ctx context.Context, k int) []domain.Passage {
	docs, err := f.store.SimilaritySearch(ctx, f.fallbackQuery, k)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues("fallback").Inc()
		f.logger.Warn("Fallback search failed", "strategy", "fallback", "query", f.fallbackQuery, "error", err)
		return nil
	}
	out := make([]domain.Passage, 0, len(docs))
	for _, d := range docs {
		d.Score = fallbackScore
		out = append(out, d)
	}
	return dedupe(out)
}

// merge appends threshold results after the broad ones, skipping short
// entries and any whose leading content was already merged.
func merge(broad, threshold []domain.Passage) []domain.Passage {
	merged := make([]domain.Passage, 0, len(broad)+len(threshold))
	seen := make(map[string]struct{}, len(broad)+len(threshold))
	for _, p := range broad {
		merged = append(merged, p)
		seen[prefix(p.Content, mergePrefixLen)] = struct{}{}
	}
	for _, p := range threshold {
		key := prefix(p.Content, mergePrefixLen)
		if _, dup := seen[key]; dup || trimmedLen(p.Content) <= minMergeLen {
			continue
		}
		merged = append(merged, p)
		seen[key] = struct{}{}
	}
	return merged
}

// dedupe keeps the first passage for each leading-content key and drops near-empty ones.
func dedupe(passages []domain.Passage) []domain.Passage {
	out := make([]domain.Passage, 0, len(passages))
	seen := make(map[string]struct{}, len(passages))
	for _, p := range passages {
		key := prefix(p.Content, dedupPrefixLen)
		if _, dup := seen[key]; dup || trimmedLen(p.Content) <= minContentLen {
			continue
		}
		out = append(out, p)
		seen[key] = struct{}{}
	}
	return out
}

// prefix returns the first n characters of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func trimmedLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
