package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/resilience"
)

type Config struct {
	// URL of the gRPC endpoint, e.g. http://localhost:6334.
	URL        string
	APIKey     string
	Collection string
	Executor   *resilience.Executor
}

// querier is the subset of the Qdrant client the retriever needs.
type querier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
}

type Client struct {
	points     querier
	closer     func() error
	collection string
	executor   *resilience.Executor
}

func New(cfg Config) (*Client, error) {
	host, port, useTLS, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "qdrant config", err)
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "qdrant config", fmt.Errorf("collection is required"))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "qdrant connect", err)
	}
	return &Client{
		points:     client,
		closer:     client.Close,
		collection: cfg.Collection,
		executor:   cfg.Executor,
	}, nil
}

func newWithQuerier(points querier, collection string) *Client {
	return &Client{points: points, collection: collection}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) Search(ctx context.Context, queryVector []float32, filter *domain.FilterPredicate, limit int) ([]domain.ProductRecord, error) {
	if limit <= 0 {
		return []domain.ProductRecord{}, nil
	}
	request := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         BuildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	points, err := resilience.Call(ctx, c.executor, "qdrant.query", func(callCtx context.Context) ([]*qdrant.ScoredPoint, error) {
		return c.points.Query(callCtx, request)
	}, classifyQdrantError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "qdrant search", wrapTemporaryIfNeeded(err))
	}

	out := make([]domain.ProductRecord, 0, len(points))
	for _, point := range points {
		out = append(out, domain.ProductFromMetadata(pointID(point.GetId()), decodePayload(point.GetPayload()), float64(point.GetScore())))
	}
	return out, nil
}

// VerifyDimension checks the collection exists, uses cosine distance and has
// the embedding size.
func (c *Client) VerifyDimension(ctx context.Context, dimension int) error {
	info, err := c.points.GetCollectionInfo(ctx, c.collection)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "qdrant verify collection", fmt.Errorf("collection %s: %w", c.collection, err))
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return domain.WrapError(domain.ErrConfiguration, "qdrant verify collection", fmt.Errorf("collection %s has no default vector", c.collection))
	}
	if got := int(params.GetSize()); got != dimension {
		return domain.WrapError(domain.ErrConfiguration, "qdrant verify collection", fmt.Errorf("collection %s vector size %d, embedding dimension %d", c.collection, got, dimension))
	}
	if params.GetDistance() != qdrant.Distance_Cosine {
		return domain.WrapError(domain.ErrConfiguration, "qdrant verify collection", fmt.Errorf("collection %s uses %s distance, want Cosine", c.collection, params.GetDistance()))
	}
	return nil
}

// BuildFilter translates a predicate into a server-side Qdrant filter.
// Negations go to MustNot, everything else to Must. A field stored under
// legacy spellings matches when any of its keys does, and keyword matches
// accept the common casings of the requested text since Qdrant compares
// keywords exactly.
func BuildFilter(pred *domain.FilterPredicate) *qdrant.Filter {
	if pred.Empty() {
		return nil
	}
	filter := &qdrant.Filter{}
	for _, c := range pred.Conditions {
		keys := domain.MetadataKeyAliases(c.Field.MetadataKey())
		if c.Operator == domain.OpNe {
			for _, key := range keys {
				filter.MustNot = append(filter.MustNot, fieldCondition(key, c))
			}
			continue
		}
		if len(keys) == 1 {
			filter.Must = append(filter.Must, fieldCondition(keys[0], c))
			continue
		}
		should := make([]*qdrant.Condition, 0, len(keys))
		for _, key := range keys {
			should = append(should, fieldCondition(key, c))
		}
		filter.Must = append(filter.Must, qdrant.NewFilterAsCondition(&qdrant.Filter{Should: should}))
	}
	return filter
}

func fieldCondition(key string, c domain.Condition) *qdrant.Condition {
	switch c.Operator {
	case domain.OpIn:
		var keywords []string
		for _, item := range c.Value.List {
			keywords = append(keywords, keywordVariants(item)...)
		}
		return qdrant.NewMatchKeywords(key, keywords...)
	case domain.OpLt:
		return qdrant.NewRange(key, &qdrant.Range{Lt: qdrant.PtrOf(c.Value.Number)})
	case domain.OpLte:
		return qdrant.NewRange(key, &qdrant.Range{Lte: qdrant.PtrOf(c.Value.Number)})
	case domain.OpGt:
		return qdrant.NewRange(key, &qdrant.Range{Gt: qdrant.PtrOf(c.Value.Number)})
	case domain.OpGte:
		return qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(c.Value.Number)})
	}
	if c.Value.Numeric {
		return qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(c.Value.Number), Lte: qdrant.PtrOf(c.Value.Number)})
	}
	variants := keywordVariants(c.Value.Text)
	if len(variants) == 1 {
		return qdrant.NewMatch(key, variants[0])
	}
	return qdrant.NewMatchKeywords(key, variants...)
}

// keywordVariants returns the text as given plus its lower, upper and title
// casings, without duplicates.
func keywordVariants(text string) []string {
	out := []string{text}
	for _, v := range []string{strings.ToLower(text), strings.ToUpper(text), cases.Title(language.Und).String(text)} {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if value := extractValue(v); value != nil {
			out[k] = value
		}
	}
	return out
}

func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func parseEndpoint(raw string) (host string, port int, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parse qdrant url: %w", err)
	}
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}
