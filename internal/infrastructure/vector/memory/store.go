// Package memory is an in-process product index for local runs and tests.
// It applies the same filter semantics as the server-side backends.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

type entry struct {
	id       string
	vector   []float32
	metadata map[string]any
}

type Store struct {
	mu        sync.RWMutex
	entries   []entry
	dimension int
}

func New(dimension int) *Store {
	return &Store{dimension: dimension}
}

// Upsert replaces the entry with the same id or appends a new one.
func (s *Store) Upsert(id string, vector []float32, metadata map[string]any) error {
	if s.dimension > 0 && len(vector) != s.dimension {
		return domain.WrapError(domain.ErrConfiguration, "memory upsert", fmt.Errorf("vector size %d, index dimension %d", len(vector), s.dimension))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{id: id, vector: append([]float32(nil), vector...), metadata: metadata}
	for i := range s.entries {
		if s.entries[i].id == id {
			s.entries[i] = e
			return nil
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) VerifyDimension(_ context.Context, dimension int) error {
	if s.dimension > 0 && s.dimension != dimension {
		return domain.WrapError(domain.ErrConfiguration, "verify index dimension", fmt.Errorf("index dimension %d, embedding dimension %d", s.dimension, dimension))
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryVector []float32, filter *domain.FilterPredicate, limit int) ([]domain.ProductRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "memory search", err)
	}
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, domain.WrapError(domain.ErrRetrieval, "memory search", fmt.Errorf("query vector size %d, index dimension %d", len(queryVector), s.dimension))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry entry
		score float64
	}
	results := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		if !Matches(e.metadata, filter) {
			continue
		}
		results = append(results, scored{entry: e, score: cosineSimilarity(queryVector, e.vector)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]domain.ProductRecord, 0, len(results))
	for _, r := range results {
		out = append(out, domain.ProductFromMetadata(r.entry.id, r.entry.metadata, r.score))
	}
	return out, nil
}

// Matches reports whether metadata satisfies every condition of the predicate.
// A condition on an absent or non-numeric value for a numeric comparison fails.
func Matches(metadata map[string]any, filter *domain.FilterPredicate) bool {
	if filter.Empty() {
		return true
	}
	rec := domain.ProductFromMetadata("", metadata, 0)
	for _, c := range filter.Conditions {
		if !matchCondition(rec.Field(c.Field.MetadataKey()), c) {
			return false
		}
	}
	return true
}

func matchCondition(value domain.Optional, c domain.Condition) bool {
	raw, ok := value.Get()
	if !ok {
		return c.Operator == domain.OpNe
	}

	if c.Field.Numeric() {
		n, ok := domain.ParseNumber(raw)
		if !ok {
			return false
		}
		switch c.Operator {
		case domain.OpEq:
			return n == c.Value.Number
		case domain.OpNe:
			return n != c.Value.Number
		case domain.OpLt:
			return n < c.Value.Number
		case domain.OpLte:
			return n <= c.Value.Number
		case domain.OpGt:
			return n > c.Value.Number
		case domain.OpGte:
			return n >= c.Value.Number
		default:
			return false
		}
	}

	switch c.Operator {
	case domain.OpEq:
		return strings.EqualFold(raw, c.Value.Text)
	case domain.OpNe:
		return !strings.EqualFold(raw, c.Value.Text)
	case domain.OpIn:
		for _, item := range c.Value.List {
			if strings.EqualFold(raw, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
