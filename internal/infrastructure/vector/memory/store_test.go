package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New(2)
	require.NoError(t, s.Upsert("a", []float32{1, 0}, map[string]any{"product_name": "Cheddar", "company_name": "Tillamook", "price": 15.0}))
	require.NoError(t, s.Upsert("b", []float32{0.9, 0.1}, map[string]any{"product_name": "Brie", "company_name": "President", "price": 25.0}))
	require.NoError(t, s.Upsert("c", []float32{0.7, 0.3}, map[string]any{"product_name": "Gouda", "company_name": "Tillamook", "price": "$18.00"}))
	return s
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	s := seed(t)

	got, err := s.Search(context.Background(), []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
}

func TestSearchAppliesNumericFilter(t *testing.T) {
	s := seed(t)
	filter := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldPrice, Operator: domain.OpLt, Value: domain.NumberValue(20)},
	}}

	got, err := s.Search(context.Background(), []float32{1, 0}, filter, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestSearchAppliesTextFilters(t *testing.T) {
	s := seed(t)

	eq := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldCompanyName, Operator: domain.OpEq, Value: domain.TextValue("tillamook")},
	}}
	got, err := s.Search(context.Background(), []float32{1, 0}, eq, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	in := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldCompanyName, Operator: domain.OpIn, Value: domain.ListValue("President", "Kraft")},
	}}
	got, err = s.Search(context.Background(), []float32{1, 0}, in, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSearchRespectsLimitAndEmptyResult(t *testing.T) {
	s := seed(t)

	got, err := s.Search(context.Background(), []float32{1, 0}, nil, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	none := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldPrice, Operator: domain.OpLt, Value: domain.NumberValue(1)},
	}}
	got, err = s.Search(context.Background(), []float32{1, 0}, none, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDimensionMismatchIsConfigurationError(t *testing.T) {
	s := New(1536)
	err := s.VerifyDimension(context.Background(), 768)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrConfiguration))

	err = s.Upsert("x", []float32{1}, nil)
	assert.True(t, domain.IsKind(err, domain.ErrConfiguration))
}

func TestLoadSeedKeepsNumbersVerbatim(t *testing.T) {
	s := New(2)
	n, err := s.LoadSeed([]byte(`[
		{"id":"p1","vector":[1,0],"metadata":{"product_name":"Cheddar","price":12.50,"SKU":"A-1"}},
		{"vector":[0,1],"metadata":{"product_name":"Brie","price":30}}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Search(context.Background(), []float32{1, 0}, nil, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	price, _ := got[0].Price.Get()
	assert.Equal(t, "12.50", price)
	sku, _ := got[0].SKU.Get()
	assert.Equal(t, "A-1", sku)
}

func TestLoadSeedRejectsWrongDimension(t *testing.T) {
	s := New(3)
	_, err := s.LoadSeed([]byte(`[{"id":"p1","vector":[1,0],"metadata":{}}]`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrConfiguration))

	_, err = s.LoadSeed([]byte(`{`))
	assert.True(t, domain.IsKind(err, domain.ErrConfiguration))
}
