package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

const DefaultMaxInputChars = 8000

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedQuery embeds a single query. Input past the configured character limit
// is truncated before the call.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	limit := e.client.opts.MaxInputChars
	if limit <= 0 {
		limit = DefaultMaxInputChars
	}
	text = truncateRunes(strings.TrimSpace(text), limit)

	request := embeddingRequest{
		Model:      e.client.opts.EmbedModel,
		Input:      []string{text},
		Dimensions: e.client.opts.EmbedDimensions,
	}
	var response embeddingResponse
	if err := e.client.postJSON(ctx, "/embeddings", request, &response, "embed"); err != nil {
		if isAuthStatus(err) {
			return nil, domain.WrapError(domain.ErrConfiguration, "embed query", err)
		}
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}
	if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", fmt.Errorf("empty embedding result"))
	}

	vector := response.Data[0].Embedding
	if want := e.client.opts.EmbedDimensions; want > 0 && len(vector) != want {
		return nil, domain.WrapError(domain.ErrConfiguration, "embed query", fmt.Errorf("model returned %d dimensions, expected %d", len(vector), want))
	}
	return vector, nil
}

// Dimensions is the vector size this embedder is configured to produce.
func (e *Embedder) Dimensions() int {
	return e.client.opts.EmbedDimensions
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
