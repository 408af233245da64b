package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OLLAMA_URL", "")
	t.Setenv("LLM_BACKEND", "auto")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("expected top k 4, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.FallbackQuery != "shopilots products agents" {
		t.Errorf("unexpected fallback query %q", cfg.Retrieval.FallbackQuery)
	}
	if cfg.Session.HistoryLength != 6 {
		t.Errorf("expected history length 6, got %d", cfg.Session.HistoryLength)
	}
	if cfg.Analytics.Capacity != 10000 {
		t.Errorf("expected analytics capacity 10000, got %d", cfg.Analytics.Capacity)
	}
	if cfg.Analytics.SessionTTL != 0 {
		t.Errorf("expected analytics session ttl disabled, got %s", cfg.Analytics.SessionTTL)
	}
	if got := cfg.ResolvedBackend(); got != BackendNone {
		t.Errorf("expected rule-based answers with an empty environment, got backend %q", got)
	}
	if cfg.Retrieval.OllamaURL != DefaultOllamaURL {
		t.Errorf("expected embedder url %q, got %q", DefaultOllamaURL, cfg.Retrieval.OllamaURL)
	}
}

func TestLoadLocalModelSelection(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	t.Setenv("LLM_BACKEND", "auto")
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.ResolvedBackend(); got != BackendOllama {
		t.Errorf("expected ollama when OLLAMA_URL is set, got %q", got)
	}
	if cfg.LLM.OllamaURL != "http://ollama:11434" || cfg.Retrieval.OllamaURL != "http://ollama:11434" {
		t.Errorf("OLLAMA_URL not applied: llm=%q retrieval=%q", cfg.LLM.OllamaURL, cfg.Retrieval.OllamaURL)
	}

	t.Setenv("LLM_BACKEND", "ollama")
	t.Setenv("OLLAMA_URL", "")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.OllamaURL != DefaultOllamaURL {
		t.Errorf("expected explicit ollama backend to use %q, got %q", DefaultOllamaURL, cfg.LLM.OllamaURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RETRIEVAL_TOP_K", "6")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("ANALYTICS_ARCHIVE_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.Retrieval.TopK != 6 {
		t.Errorf("overrides not applied: port=%q topk=%d", cfg.Port, cfg.Retrieval.TopK)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("expected session ttl 30m, got %s", cfg.Session.TTL)
	}
	if cfg.Analytics.ArchiveEnabled {
		t.Error("expected archive disabled")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("LLM_BACKEND", "bard")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown LLM_BACKEND")
	}
}

func TestLoadRequiresKeyForOpenAI(t *testing.T) {
	t.Setenv("LLM_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when openai is selected without a key")
	}
}

func TestResolvedBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		llm  LLMConfig
		want string
	}{
		{"explicit none", LLMConfig{Backend: BackendNone, OpenAIAPIKey: "k"}, BackendNone},
		{"auto with key", LLMConfig{Backend: BackendAuto, OpenAIAPIKey: "k", OllamaURL: "http://x"}, BackendOpenAI},
		{"auto without key", LLMConfig{Backend: BackendAuto, OllamaURL: "http://x"}, BackendOllama},
		{"auto with nothing", LLMConfig{Backend: BackendAuto}, BackendNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{LLM: tt.llm}
			if got := cfg.ResolvedBackend(); got != tt.want {
				t.Errorf("ResolvedBackend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "yes")
	t.Setenv("FLAG_OFF", "0")
	t.Setenv("FLAG_BAD", "maybe")

	if !getEnvBool("FLAG_ON", false) {
		t.Error("expected yes to parse as true")
	}
	if getEnvBool("FLAG_OFF", true) {
		t.Error("expected 0 to parse as false")
	}
	if !getEnvBool("FLAG_BAD", true) {
		t.Error("expected fallback for unparseable value")
	}
}
