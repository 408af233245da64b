package synth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaGenerator is the local tier, served by an Ollama instance.
type OllamaGenerator struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaGenerator returns a local generator for model at url.
func NewOllamaGenerator(url, model string, client *http.Client) *OllamaGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaGenerator{url: strings.TrimRight(url, "/"), model: model, client: client}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
	Messages []ollamaMessage `json:"messages"`
}

type ollamaChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (g *OllamaGenerator) Name() string { return g.model }

func (g *OllamaGenerator) Tier() Tier { return TierLocal }

// Generate returns a single, non-streamed completion.
func (g *OllamaGenerator) Generate(ctx context.Context, p Prompt, maxTokens int) (string, error) {
	req, err := g.newRequest(ctx, p, maxTokens, false)
	if err != nil {
		return "", err
	}
	resp, err := g.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("ollama: %s", chunk.Error)
	}
	return chunk.Message.Content, nil
}

// Stream starts a streamed completion. Each NDJSON line is one raw token.
// An unreachable server or a non-200 status is reported as
// ErrStreamUnavailable.
func (g *OllamaGenerator) Stream(ctx context.Context, p Prompt, maxTokens int) (TokenStream, error) {
	req, err := g.newRequest(ctx, p, maxTokens, true)
	if err != nil {
		return nil, err
	}
	resp, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	return &ollamaStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

func (g *OllamaGenerator) newRequest(ctx context.Context, p Prompt, maxTokens int, stream bool) (*http.Request, error) {
	messages := make([]ollamaMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: p.User})

	body, err := json.Marshal(ollamaRequest{
		Model:    g.model,
		Stream:   stream,
		Options:  ollamaOptions{NumPredict: maxTokens, Temperature: p.Temperature},
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (g *OllamaGenerator) do(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}

type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	raw     []byte
	done    bool
}

func (s *ollamaStream) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.raw = line
		return true
	}
	return false
}

// Token parses the current NDJSON line. Whitespace-only text and
// reasoning output are skipped.
func (s *ollamaStream) Token() (Token, error) {
	return parseOllamaToken(s.raw, &s.done)
}

func parseOllamaToken(raw []byte, done *bool) (Token, error) {
	var chunk ollamaChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return Token{}, fmt.Errorf("parse ollama chunk: %w", err)
	}
	if chunk.Error != "" {
		return Token{}, fmt.Errorf("ollama: %s", chunk.Error)
	}
	if chunk.Done {
		*done = true
	}
	text := chunk.Message.Content
	return Token{Text: text, Skip: strings.TrimSpace(text) == ""}, nil
}

func (s *ollamaStream) Err() error { return s.scanner.Err() }

func (s *ollamaStream) Close() error { return s.body.Close() }
