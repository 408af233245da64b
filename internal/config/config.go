// Package config provides application configuration.
package config

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultOllamaURL is used for embeddings, and for generation when the local
// tier is selected explicitly without OLLAMA_URL.
const DefaultOllamaURL = "http://localhost:11434"

// LLM backend selections accepted by LLM_BACKEND.
const (
	BackendAuto   = "auto"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
	BackendNone   = "none"
)

// Session store selections accepted by SESSION_BACKEND.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Retrieval   RetrievalConfig
	LLM         LLMConfig
	Session     SessionConfig
	Analytics   AnalyticsConfig
	RateLimit   RateLimitConfig
	SSE         SSEConfig
}

// RetrievalConfig controls the document index and fusion queries.
type RetrievalConfig struct {
	QdrantURL      string
	Collection     string
	CorpusPath     string
	OllamaURL      string
	EmbeddingModel string
	TopK           int
	FallbackQuery  string
	ProductQuery   string
	PoolSize       int
}

// LLMConfig selects and tunes the generation backend tier.
type LLMConfig struct {
	Backend      string
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string
	Temperature  float64
}

// SessionConfig controls per-session chat history.
type SessionConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HistoryLength int
	TTL           time.Duration
}

// AnalyticsConfig controls the in-memory aggregator and its durable archive.
type AnalyticsConfig struct {
	Capacity         int
	SessionTTL       time.Duration
	ArchiveEnabled   bool
	ArchiveQueueSize int
}

// RateLimitConfig controls the per-session token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SSEConfig controls streaming request handling.
type SSEConfig struct {
	MaxRequestBodySize int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// The local model is only auto-selected when OLLAMA_URL is set explicitly.
	ollamaURL := getEnv("OLLAMA_URL", "")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/chatbot.db"),
		Retrieval: RetrievalConfig{
			QdrantURL:      getEnv("QDRANT_URL", ""),
			Collection:     getEnv("QDRANT_COLLECTION", "shopilots_docs"),
			CorpusPath:     getEnv("CORPUS_PATH", ""),
			OllamaURL:      cmp.Or(ollamaURL, DefaultOllamaURL),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			TopK:           getEnvInt("RETRIEVAL_TOP_K", 4),
			FallbackQuery:  getEnv("RETRIEVAL_FALLBACK_QUERY", "shopilots products agents"),
			ProductQuery:   getEnv("RETRIEVAL_PRODUCT_QUERY", "shopilots AI sales agents products"),
			PoolSize:       getEnvInt("HTTP_POOL_SIZE", 8),
		},
		LLM: LLMConfig{
			Backend:      strings.ToLower(getEnv("LLM_BACKEND", BackendAuto)),
			OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OllamaURL:    ollamaURL,
			OllamaModel:  getEnv("OLLAMA_MODEL", "llama3.2"),
			Temperature:  getEnvFloat("LLM_TEMPERATURE", 0.7),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(getEnv("SESSION_BACKEND", SessionMemory)),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			HistoryLength: getEnvInt("CHAT_HISTORY_LENGTH", 6),
			TTL:           getEnvDuration("SESSION_TTL", 24*time.Hour),
		},
		Analytics: AnalyticsConfig{
			Capacity:         getEnvInt("ANALYTICS_CAPACITY", 10000),
			SessionTTL:       getEnvDuration("ANALYTICS_SESSION_TTL", 0),
			ArchiveEnabled:   getEnvBool("ANALYTICS_ARCHIVE_ENABLED", true),
			ArchiveQueueSize: getEnvInt("ANALYTICS_ARCHIVE_QUEUE_SIZE", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		SSE: SSEConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		},
	}

	if cfg.LLM.Backend == BackendOllama && cfg.LLM.OllamaURL == "" {
		cfg.LLM.OllamaURL = DefaultOllamaURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" && c.Analytics.ArchiveEnabled {
		return fmt.Errorf("DB_PATH cannot be empty while the analytics archive is enabled")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be > 0")
	}
	if strings.TrimSpace(c.Retrieval.FallbackQuery) == "" {
		return fmt.Errorf("RETRIEVAL_FALLBACK_QUERY cannot be empty")
	}
	switch c.LLM.Backend {
	case BackendAuto, BackendOpenAI, BackendOllama, BackendNone:
	default:
		return fmt.Errorf("LLM_BACKEND must be one of auto, openai, ollama, none (got %q)", c.LLM.Backend)
	}
	if c.LLM.Backend == BackendOpenAI && c.LLM.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_BACKEND=openai")
	}
	switch c.Session.Backend {
	case SessionMemory:
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be memory or redis (got %q)", c.Session.Backend)
	}
	if c.Session.HistoryLength <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LENGTH must be > 0")
	}
	if c.Analytics.Capacity <= 0 {
		return fmt.Errorf("ANALYTICS_CAPACITY must be > 0")
	}
	if c.Analytics.SessionTTL < 0 {
		return fmt.Errorf("ANALYTICS_SESSION_TTL cannot be negative")
	}
	if c.Analytics.ArchiveQueueSize <= 0 {
		return fmt.Errorf("ANALYTICS_ARCHIVE_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

// ResolvedBackend returns the generation tier selected for this process.
// "auto" prefers the hosted API when a key is configured, then the local model.
func (c *Config) ResolvedBackend() string {
	if c.LLM.Backend != BackendAuto {
		return c.LLM.Backend
	}
	if c.LLM.OpenAIAPIKey != "" {
		return BackendOpenAI
	}
	if c.LLM.OllamaURL != "" {
		return BackendOllama
	}
	return BackendNone
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins; all origins when no frontend is configured.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return strings.Split(c.FrontendURL, ",")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
