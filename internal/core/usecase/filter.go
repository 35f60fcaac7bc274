package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

// FilterExtractor derives a metadata predicate from a free-text query.
// Extraction is best effort: any failure yields no filter.
type FilterExtractor struct {
	model    ports.ChatModel
	examples []domain.FilterExample
	timeout  time.Duration
	logger   *zap.Logger
}

func NewFilterExtractor(model ports.ChatModel, examples []domain.FilterExample, timeout time.Duration, logger *zap.Logger) *FilterExtractor {
	if len(examples) == 0 {
		examples = domain.DefaultFilterExamples()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilterExtractor{
		model:    model,
		examples: examples,
		timeout:  timeout,
		logger:   logger,
	}
}

func (e *FilterExtractor) Extract(ctx context.Context, query string) *domain.FilterPredicate {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.model.CompleteJSON(callCtx, buildFilterMessages(query, e.examples))
	if err != nil {
		e.logger.Warn("filter_extraction_failed", zap.Error(err))
		return nil
	}

	pred, rejected, err := parseFilterResponse(raw)
	if len(rejected) > 0 {
		e.logger.Info("filter_fields_stripped", zap.Strings("fields", rejected))
	}
	if err != nil {
		e.logger.Debug("filter_unparseable", zap.String("raw", truncateForLog(raw, 256)), zap.Error(err))
		return nil
	}
	if pred.Empty() {
		return nil
	}
	e.logger.Debug("filter_extracted", zap.String("filter", pred.String()))
	return pred
}

// parseFilterResponse tolerates prose, code fences and arrow prefixes around the
// JSON object the model was asked for.
func parseFilterResponse(raw string) (*domain.FilterPredicate, []string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "→", "->")
	cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "->"))

	object := extractJSONObject(cleaned)
	if object == "" {
		return nil, nil, domain.WrapError(domain.ErrFilterParse, "parse filter", fmt.Errorf("no json object in model output"))
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(object), &decoded); err != nil {
		return nil, nil, domain.WrapError(domain.ErrFilterParse, "parse filter", err)
	}
	if inner, ok := decoded["filter"].(map[string]any); ok && len(decoded) == 1 {
		decoded = inner
	}
	return domain.ParseFilterPredicate(decoded)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}

func buildFilterMessages(query string, examples []domain.FilterExample) []ports.ChatMessage {
	fields := make([]string, 0, len(domain.FilterFields))
	for _, f := range domain.FilterFields {
		fields = append(fields, fmt.Sprintf("%q", f))
	}

	var b strings.Builder
	b.WriteString("Extract a metadata filter from the user query.\n")
	b.WriteString("Return only a valid JSON object using fields from this list:\n")
	b.WriteString("[" + strings.Join(fields, ", ") + "]\n")
	b.WriteString("Each field maps to an object of operator to value. Operators: $eq, $ne, $lt, $lte, $gt, $gte, $in.\n")
	b.WriteString("price, cost_per_pound and weight_lb are numbers. Return {} when the query sets no constraint.\n\n")
	b.WriteString("Examples:\n")
	for _, ex := range examples {
		encoded, err := json.Marshal(ex.Filter)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %q -> %s\n", ex.Query, encoded)
	}
	b.WriteString("\nQuery: ")
	b.WriteString(query)

	return []ports.ChatMessage{{Role: domain.RoleUser, Content: b.String()}}
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
