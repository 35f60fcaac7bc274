package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

const DefaultEmbeddingTTL = 10 * time.Minute

// EmbeddingCache memoises query vectors keyed by the exact query text.
// Failed embeddings are never cached.
type EmbeddingCache struct {
	next  ports.Embedder
	items *gocache.Cache
}

func NewEmbeddingCache(next ports.Embedder, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	return &EmbeddingCache{
		next:  next,
		items: gocache.New(ttl, 2*ttl),
	}
}

func (c *EmbeddingCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.items.Get(text); ok {
		return cloneVector(cached.([]float32)), nil
	}
	vector, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.items.SetDefault(text, cloneVector(vector))
	return vector, nil
}

func (c *EmbeddingCache) Len() int {
	return c.items.ItemCount()
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
