package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/metrics"
	"github.com/ashureev/shopilots-chat/internal/shared"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OllamaEmbedder generates embeddings via Ollama /api/embed.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaEmbedder creates an Ollama embedding client.
func NewOllamaEmbedder(url, model string, poolSize int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		client: shared.NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// Embed sends text to Ollama and returns the embedding vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()

	var result embedResponse
	if err := postJSON(ctx, e.client, e.url+"/api/embed", embedRequest{Model: e.model, Input: text}, &result); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	return result.Embeddings[0], nil
}

// QdrantStore is a DocumentStore backed by a Qdrant collection. Points carry
// the passage text under payload "content" (or "page_content") and its
// origin under "source".
type QdrantStore struct {
	url        string
	collection string
	embedder   Embedder
	client     *http.Client
}

// NewQdrantStore creates a Qdrant REST-backed document store.
func NewQdrantStore(url, collection string, embedder Embedder, poolSize int) *QdrantStore {
	return &QdrantStore{
		url:        url,
		collection: collection,
		embedder:   embedder,
		client:     shared.NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// SimilaritySearch returns the k nearest passages to query.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	hits, err := s.search(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.passage())
	}
	return out, nil
}

// SimilaritySearchWithThreshold returns up to k passages scoring at least threshold.
func (s *QdrantStore) SimilaritySearchWithThreshold(ctx context.Context, query string, k int, threshold float64) ([]domain.Passage, []domain.Source, error) {
	hits, err := s.search(ctx, query, k, &threshold)
	if err != nil {
		return nil, nil, err
	}
	passages := make([]domain.Passage, 0, len(hits))
	sources := make([]domain.Source, 0, len(hits))
	for _, h := range hits {
		p := h.passage()
		passages = append(passages, p)
		sources = append(sources, domain.SourceOf(p))
	}
	return passages, sources, nil
}

// PointCount returns the number of points in the collection.
func (s *QdrantStore) PointCount(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/collections/"+s.collection, nil)
	if err != nil {
		return 0, fmt.Errorf("create collection info request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("collection info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("collection info status %d", resp.StatusCode)
	}
	var result qdrantCollectionInfo
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode collection info: %w", err)
	}
	return result.Result.PointsCount, nil
}

func (s *QdrantStore) search(ctx context.Context, query string, k int, threshold *float64) ([]qdrantHit, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	var result qdrantSearchResponse
	err = postJSON(ctx, s.client, s.url+"/collections/"+s.collection+"/points/search", qdrantSearchRequest{
		Vector:         vector,
		Limit:          k,
		ScoreThreshold: threshold,
		WithPayload:    true,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	return result.Result, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type qdrantSearchRequest struct {
	Vector         []float64 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantHit struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (h qdrantHit) passage() domain.Passage {
	content, _ := h.Payload["content"].(string)
	if content == "" {
		content, _ = h.Payload["page_content"].(string)
	}
	source, _ := h.Payload["source"].(string)
	if source == "" {
		source = domain.UnknownSource
	}
	return domain.Passage{Content: content, Source: source, Score: h.Score}
}

type qdrantSearchResponse struct {
	Result []qdrantHit `json:"result"`
}

type qdrantCollectionInfo struct {
	Result struct {
		PointsCount int `json:"points_count"`
	} `json:"result"`
}
