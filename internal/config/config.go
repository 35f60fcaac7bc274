package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

const (
	VectorBackendQdrant   = "qdrant"
	VectorBackendPGVector = "pgvector"
	VectorBackendMemory   = "memory"

	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

type Config struct {
	APIPort  string
	LogLevel string
	LogFile  string

	OpenAIBaseURL      string
	OpenAIAPIKey       string
	ChatModel          string
	ChatTemperature    float64
	EmbedModel         string
	EmbedDimensions    int
	EmbedMaxInputChars int
	EmbedCacheTTL      time.Duration

	VectorBackend    string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	DatabaseURL      string
	DatabaseMaxConns int
	PGVectorTable    string
	MemorySeedFile   string

	SessionBackend     string
	SessionTTL         time.Duration
	SessionMaxMessages int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	NATSURL     string
	NATSSubject string

	RAGTopK                 int
	ContextMaxChars         int
	CatalogSubject          string
	MaxQuestionChars        int
	FilterExtractionEnabled bool
	FilterExamplesFile      string

	EmbedTimeout     time.Duration
	FilterTimeout    time.Duration
	RetrievalTimeout time.Duration
	SynthesisTimeout time.Duration

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	BreakerEnabled      bool
	BreakerOpenTimeout  time.Duration

	RateLimitRPS      float64
	RateLimitBurst    int
	MaxInFlight       int
	RequestTimeout    time.Duration
	WorkerMetricsPort string
	PurgeInterval     time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),
		LogFile:  mustEnv("LOG_FILE", ""),

		OpenAIBaseURL:      mustEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:       mustEnv("OPENAI_API_KEY", ""),
		ChatModel:          mustEnv("CHAT_MODEL", "gpt-4o"),
		ChatTemperature:    mustEnvFloat("CHAT_TEMPERATURE", 0.7),
		EmbedModel:         mustEnv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimensions:    mustEnvInt("EMBED_DIMENSIONS", 1536),
		EmbedMaxInputChars: mustEnvInt("EMBED_MAX_INPUT_CHARS", 8000),
		EmbedCacheTTL:      mustEnvDuration("EMBED_CACHE_TTL", 10*time.Minute),

		VectorBackend:    strings.ToLower(mustEnv("VECTOR_BACKEND", VectorBackendQdrant)),
		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6334"),
		QdrantAPIKey:     mustEnv("QDRANT_API_KEY", ""),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "cheese-knowledge"),
		DatabaseURL:      mustEnv("DATABASE_URL", ""),
		DatabaseMaxConns: mustEnvInt("DATABASE_MAX_CONNS", 10),
		PGVectorTable:    mustEnv("PGVECTOR_TABLE", "products"),
		MemorySeedFile:   mustEnv("MEMORY_SEED_FILE", ""),

		SessionBackend:     strings.ToLower(mustEnv("SESSION_BACKEND", SessionBackendMemory)),
		SessionTTL:         mustEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionMaxMessages: mustEnvInt("SESSION_MAX_MESSAGES", domain.DefaultMaxMessages),
		RedisAddr:          mustEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      mustEnv("REDIS_PASSWORD", ""),
		RedisDB:            mustEnvInt("REDIS_DB", 0),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "catalog.turns.completed"),

		RAGTopK:                 mustEnvInt("RAG_TOP_K", 5),
		ContextMaxChars:         mustEnvInt("CONTEXT_MAX_CHARS", 12000),
		CatalogSubject:          mustEnv("CATALOG_SUBJECT", "cheese"),
		MaxQuestionChars:        mustEnvInt("MAX_QUESTION_CHARS", 2000),
		FilterExtractionEnabled: mustEnvBool("FILTER_EXTRACTION_ENABLED", true),
		FilterExamplesFile:      mustEnv("FILTER_EXAMPLES_FILE", ""),

		EmbedTimeout:     mustEnvDuration("EMBED_TIMEOUT", 15*time.Second),
		FilterTimeout:    mustEnvDuration("FILTER_TIMEOUT", 10*time.Second),
		RetrievalTimeout: mustEnvDuration("RETRIEVAL_TIMEOUT", 10*time.Second),
		SynthesisTimeout: mustEnvDuration("SYNTHESIS_TIMEOUT", 60*time.Second),

		RetryMaxAttempts:    mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: mustEnvDuration("RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
		RetryMaxBackoff:     mustEnvDuration("RETRY_MAX_BACKOFF", 400*time.Millisecond),
		BreakerEnabled:      mustEnvBool("BREAKER_ENABLED", true),
		BreakerOpenTimeout:  mustEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		RateLimitRPS:      mustEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    mustEnvInt("RATE_LIMIT_BURST", 20),
		MaxInFlight:       mustEnvInt("MAX_IN_FLIGHT", 32),
		RequestTimeout:    mustEnvDuration("REQUEST_TIMEOUT", 90*time.Second),
		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
		PurgeInterval:     mustEnvDuration("SESSION_PURGE_INTERVAL", 10*time.Minute),
	}
}

// Validate reports every problem at once, wrapped as ErrConfiguration.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		add("OPENAI_API_KEY is required")
	}
	if c.EmbedDimensions <= 0 {
		add("EMBED_DIMENSIONS must be positive, got %d", c.EmbedDimensions)
	}
	switch c.VectorBackend {
	case VectorBackendQdrant:
		if c.QdrantURL == "" || c.QdrantCollection == "" {
			add("QDRANT_URL and QDRANT_COLLECTION are required for the qdrant backend")
		}
	case VectorBackendPGVector:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the pgvector backend")
		}
	case VectorBackendMemory:
	default:
		add("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	switch c.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.RedisAddr == "" {
			add("REDIS_ADDR is required for the redis session backend")
		}
	case SessionBackendPostgres:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres session backend")
		}
	default:
		add("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		add("CHAT_TEMPERATURE must be within [0, 2], got %v", c.ChatTemperature)
	}
	if c.SessionMaxMessages <= 0 {
		add("SESSION_MAX_MESSAGES must be positive, got %d", c.SessionMaxMessages)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		add("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MaxInFlight <= 0 {
		add("MAX_IN_FLIGHT must be positive, got %d", c.MaxInFlight)
	}

	if len(problems) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrConfiguration, "validate config", errors.Join(problems...))
}

type filterExamplesFile struct {
	Examples []domain.FilterExample `yaml:"examples"`
}

// LoadFilterExamples returns the worked examples for the filter extractor,
// falling back to the built-in set when no file is configured.
func (c Config) LoadFilterExamples() ([]domain.FilterExample, error) {
	if c.FilterExamplesFile == "" {
		return domain.DefaultFilterExamples(), nil
	}
	raw, err := os.ReadFile(c.FilterExamplesFile)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "read filter examples", err)
	}
	var file filterExamplesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse filter examples", err)
	}
	if len(file.Examples) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse filter examples", fmt.Errorf("%s has no examples", c.FilterExamplesFile))
	}
	for i, ex := range file.Examples {
		if strings.TrimSpace(ex.Query) == "" {
			return nil, domain.WrapError(domain.ErrConfiguration, "parse filter examples", fmt.Errorf("example %d has an empty query", i))
		}
	}
	return file.Examples, nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("15s") or bare seconds ("15").
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
