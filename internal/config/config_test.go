package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RAG_TOP_K", "CHAT_MODEL", "EMBED_DIMENSIONS", "VECTOR_BACKEND", "SESSION_BACKEND", "EMBED_TIMEOUT", "CATALOG_SUBJECT", "NATS_SUBJECT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.RAGTopK != 5 {
		t.Fatalf("expected default top k 5, got %d", cfg.RAGTopK)
	}
	if cfg.ChatModel != "gpt-4o" {
		t.Fatalf("expected default chat model gpt-4o, got %q", cfg.ChatModel)
	}
	if cfg.EmbedDimensions != 1536 {
		t.Fatalf("expected default dimensions 1536, got %d", cfg.EmbedDimensions)
	}
	if cfg.VectorBackend != VectorBackendQdrant || cfg.SessionBackend != SessionBackendMemory {
		t.Fatalf("unexpected default backends: %q / %q", cfg.VectorBackend, cfg.SessionBackend)
	}
	if cfg.EmbedTimeout != 15*time.Second {
		t.Fatalf("expected default embed timeout 15s, got %v", cfg.EmbedTimeout)
	}
	if cfg.CatalogSubject != "cheese" {
		t.Fatalf("expected default subject cheese, got %q", cfg.CatalogSubject)
	}
	if cfg.NATSSubject != "catalog.turns.completed" {
		t.Fatalf("unexpected default subject %q", cfg.NATSSubject)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RAG_TOP_K", "8")
	t.Setenv("VECTOR_BACKEND", "PGVector")
	t.Setenv("EMBED_TIMEOUT", "3s")
	t.Setenv("SYNTHESIS_TIMEOUT", "45")
	t.Setenv("CHAT_TEMPERATURE", "0.2")
	t.Setenv("FILTER_EXTRACTION_ENABLED", "false")
	t.Setenv("RETRIEVAL_TIMEOUT", "soon")

	cfg := Load()
	if cfg.RAGTopK != 8 {
		t.Fatalf("expected top k 8, got %d", cfg.RAGTopK)
	}
	if cfg.VectorBackend != VectorBackendPGVector {
		t.Fatalf("expected pgvector backend, got %q", cfg.VectorBackend)
	}
	if cfg.EmbedTimeout != 3*time.Second || cfg.SynthesisTimeout != 45*time.Second {
		t.Fatalf("unexpected timeouts: %v / %v", cfg.EmbedTimeout, cfg.SynthesisTimeout)
	}
	if cfg.RetrievalTimeout != 10*time.Second {
		t.Fatalf("invalid duration should fall back, got %v", cfg.RetrievalTimeout)
	}
	if cfg.ChatTemperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", cfg.ChatTemperature)
	}
	if cfg.FilterExtractionEnabled {
		t.Fatal("expected filter extraction disabled")
	}
}

func validConfig() Config {
	return Config{
		OpenAIAPIKey:       "sk-test",
		EmbedDimensions:    1536,
		VectorBackend:      VectorBackendMemory,
		SessionBackend:     SessionBackendMemory,
		ChatTemperature:    0.7,
		SessionMaxMessages: 50,
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		MaxInFlight:        4,
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAIAPIKey = ""
	cfg.EmbedDimensions = 0
	cfg.VectorBackend = "pinecone"
	cfg.SessionBackend = SessionBackendPostgres

	err := cfg.Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	for _, want := range []string{"OPENAI_API_KEY", "EMBED_DIMENSIONS", `"pinecone"`, "DATABASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadFilterExamplesDefaults(t *testing.T) {
	examples, err := validConfig().LoadFilterExamples()
	if err != nil {
		t.Fatalf("LoadFilterExamples() error = %v", err)
	}
	if len(examples) != 3 || examples[0].Query != "Show me cheeses under $20" {
		t.Fatalf("unexpected default examples: %+v", examples)
	}
}

func TestLoadFilterExamplesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	content := `examples:
  - query: "Soft cheeses from France"
    filter:
      standard:
        $eq: "Soft"
  - query: "Wheels over 10 pounds"
    filter:
      weight_lb:
        $gt: 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write examples: %v", err)
	}

	cfg := validConfig()
	cfg.FilterExamplesFile = path
	examples, err := cfg.LoadFilterExamples()
	if err != nil {
		t.Fatalf("LoadFilterExamples() error = %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(examples))
	}
	weight, ok := examples[1].Filter["weight_lb"].(map[string]any)
	if !ok || weight["$gt"] != 10 {
		t.Fatalf("unexpected filter: %#v", examples[1].Filter)
	}
}

func TestLoadFilterExamplesRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	if err := os.WriteFile(path, []byte("examples: []\n"), 0o600); err != nil {
		t.Fatalf("write examples: %v", err)
	}
	cfg := validConfig()
	cfg.FilterExamplesFile = path
	if _, err := cfg.LoadFilterExamples(); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}

	cfg.FilterExamplesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.LoadFilterExamples(); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing file, got %v", err)
	}
}
