package openai

import (
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/catalog-assistant/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Options struct {
	BaseURL         string
	APIKey          string
	ChatModel       string
	EmbedModel      string
	EmbedDimensions int
	MaxInputChars   int
	Temperature     float64
	HTTPTimeout     time.Duration
	Executor        *resilience.Executor
}

// Client talks to any server exposing the OpenAI chat completions and
// embeddings endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	opts       Options
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		opts:       opts,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}
