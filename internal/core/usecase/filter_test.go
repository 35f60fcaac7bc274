package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

func TestFilterExtractorDerivesPriceFilter(t *testing.T) {
	model := &chatModelFake{jsonReply: `{"price": {"$lt": 20}}`}
	extractor := NewFilterExtractor(model, nil, 0, nil)

	pred := extractor.Extract(context.Background(), "cheeses under $20")
	require.NotNil(t, pred)
	require.Len(t, pred.Conditions, 1)
	assert.Equal(t, domain.Condition{Field: domain.FieldPrice, Operator: domain.OpLt, Value: domain.NumberValue(20)}, pred.Conditions[0])

	require.Len(t, model.jsonCalls, 1)
	prompt := model.jsonCalls[0][0].Content
	for _, f := range domain.FilterFields {
		assert.Contains(t, prompt, string(f))
	}
	assert.Contains(t, prompt, "Cheeses by Tillamook")
	assert.True(t, strings.HasSuffix(prompt, "Query: cheeses under $20"))
}

func TestFilterExtractorReturnsNilOnModelError(t *testing.T) {
	extractor := NewFilterExtractor(&chatModelFake{jsonErr: errServiceDown}, nil, 0, nil)
	assert.Nil(t, extractor.Extract(context.Background(), "anything"))
}

func TestFilterExtractorReturnsNilOnMalformedOutput(t *testing.T) {
	for _, raw := range []string{
		"",
		"no filter here",
		`{"price": {"$lt": }`,
		`{"price": {"$between": [1, 2]}}`,
		`{"price": {"$lt": "cheap"}}`,
		`{"company_name": {"$gt": "A"}}`,
		`{}`,
	} {
		extractor := NewFilterExtractor(&chatModelFake{jsonReply: raw}, nil, 0, nil)
		assert.Nil(t, extractor.Extract(context.Background(), "q"), "raw=%q", raw)
	}
}

func TestFilterExtractorStripsUnknownFields(t *testing.T) {
	model := &chatModelFake{jsonReply: `{"color": {"$eq": "blue"}, "company_name": {"$eq": "Tillamook"}}`}
	pred := NewFilterExtractor(model, nil, 0, nil).Extract(context.Background(), "blue Tillamook")

	require.NotNil(t, pred)
	require.Len(t, pred.Conditions, 1)
	assert.Equal(t, domain.FieldCompanyName, pred.Conditions[0].Field)

	onlyUnknown := &chatModelFake{jsonReply: `{"color": {"$eq": "blue"}}`}
	assert.Nil(t, NewFilterExtractor(onlyUnknown, nil, 0, nil).Extract(context.Background(), "blue"))
}

func TestParseFilterResponseToleratesWrapping(t *testing.T) {
	cases := map[string]string{
		"arrow":     `→ {"price": {"$lt": 20}}`,
		"fence":     "```json\n{\"price\": {\"lt\": 20}}\n```",
		"prose":     `Here is the filter: {"price": {"$lt": "$20"}} hope it helps`,
		"wrapped":   `{"filter": {"price": {"$lt": 20}}}`,
		"legacyKey": `{"Cost per pound": {"$lt": 20}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			pred, _, err := parseFilterResponse(raw)
			require.NoError(t, err)
			require.NotNil(t, pred)
			require.Len(t, pred.Conditions, 1)
			assert.Equal(t, domain.OpLt, pred.Conditions[0].Operator)
			assert.Equal(t, 20.0, pred.Conditions[0].Value.Number)
		})
	}
}

func TestExtractedFiltersAlwaysValidateAgainstSchema(t *testing.T) {
	ops := []string{"$eq", "$ne", "$lt", "$lte", "$gt", "$gte", "$in"}
	values := []string{`10`, `"Tillamook"`, `["a", "b"]`, `null`, `{"x": 1}`}

	for _, field := range append(domain.FilterFields, "unknown_field") {
		for _, op := range ops {
			for _, v := range values {
				raw := `{"` + string(field) + `": {"` + op + `": ` + v + `}}`
				pred := NewFilterExtractor(&chatModelFake{jsonReply: raw}, nil, 0, nil).Extract(context.Background(), "q")
				if pred == nil {
					continue
				}
				assert.NoError(t, pred.Validate(), "raw=%s", raw)
				for _, c := range pred.Conditions {
					_, known := domain.ParseFilterField(string(c.Field))
					assert.True(t, known, "raw=%s", raw)
				}
			}
		}
	}
}
