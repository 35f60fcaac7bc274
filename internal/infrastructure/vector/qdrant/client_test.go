package qdrant

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

type querierFake struct {
	points []*qdrant.ScoredPoint
	err    error
	info   *qdrant.CollectionInfo

	got *qdrant.QueryPoints
}

func (f *querierFake) Query(_ context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.got = request
	return f.points, f.err
}

func (f *querierFake) GetCollectionInfo(context.Context, string) (*qdrant.CollectionInfo, error) {
	if f.info == nil {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	return f.info, nil
}

func collectionInfo(size uint64, distance qdrant.Distance) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: size, Distance: distance}),
			},
		},
	}
}

func TestBuildFilterTranslatesOperators(t *testing.T) {
	pred := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldPrice, Operator: domain.OpLt, Value: domain.NumberValue(20)},
		{Field: domain.FieldCompanyName, Operator: domain.OpEq, Value: domain.TextValue("Tillamook")},
		{Field: domain.FieldStandard, Operator: domain.OpNe, Value: domain.TextValue("Organic")},
		{Field: domain.FieldPrice, Operator: domain.OpGte, Value: domain.NumberValue(5)},
	}}

	filter := BuildFilter(pred)
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 3)
	require.Len(t, filter.MustNot, 1)

	price := filter.Must[0].GetField()
	assert.Equal(t, "price", price.GetKey())
	assert.Equal(t, 20.0, price.GetRange().GetLt())
	assert.Nil(t, price.GetRange().Gt)

	company := filter.Must[1].GetField()
	assert.Equal(t, "company_name", company.GetKey())
	assert.Equal(t, []string{"Tillamook", "tillamook", "TILLAMOOK"}, company.GetMatch().GetKeywords().GetStrings())

	assert.Equal(t, 5.0, filter.Must[2].GetField().GetRange().GetGte())

	standard := filter.MustNot[0].GetField()
	assert.Equal(t, "standard", standard.GetKey())
	assert.Contains(t, standard.GetMatch().GetKeywords().GetStrings(), "organic")
}

func TestBuildFilterMatchesLegacyKeys(t *testing.T) {
	pred := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldWeightLb, Operator: domain.OpLt, Value: domain.NumberValue(5)},
		{Field: domain.FieldUnit, Operator: domain.OpIn, Value: domain.ListValue("Each")},
		{Field: domain.FieldImagePath, Operator: domain.OpEq, Value: domain.TextValue("a.png")},
		{Field: domain.FieldCostPerPound, Operator: domain.OpNe, Value: domain.NumberValue(9)},
	}}

	filter := BuildFilter(pred)
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 3)

	weight := filter.Must[0].GetFilter().GetShould()
	require.Len(t, weight, 2)
	assert.Equal(t, "weight_lb", weight[0].GetField().GetKey())
	assert.Equal(t, "weight(pound)", weight[1].GetField().GetKey())
	for _, c := range weight {
		assert.Equal(t, 5.0, c.GetField().GetRange().GetLt())
	}

	unit := filter.Must[1].GetFilter().GetShould()
	require.Len(t, unit, 2)
	assert.Equal(t, "unit", unit[0].GetField().GetKey())
	assert.Equal(t, "Unit", unit[1].GetField().GetKey())
	assert.Equal(t, []string{"Each", "each", "EACH"}, unit[1].GetField().GetMatch().GetKeywords().GetStrings())

	image := filter.Must[2].GetFilter().GetShould()
	require.Len(t, image, 2)
	assert.Equal(t, "image_url", image[0].GetField().GetKey())
	assert.Equal(t, "image_path", image[1].GetField().GetKey())

	require.Len(t, filter.MustNot, 2)
	assert.Equal(t, "cost_per_pound", filter.MustNot[0].GetField().GetKey())
	assert.Equal(t, "Cost per pound", filter.MustNot[1].GetField().GetKey())
	assert.Equal(t, 9.0, filter.MustNot[1].GetField().GetRange().GetGte())
}

func TestBuildFilterKeywordCasings(t *testing.T) {
	assert.Equal(t, []string{"tillamook", "TILLAMOOK", "Tillamook"}, keywordVariants("tillamook"))
	assert.Equal(t, []string{"123"}, keywordVariants("123"))

	pred := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldUnit, Operator: domain.OpEq, Value: domain.TextValue("42")},
	}}
	should := BuildFilter(pred).Must[0].GetFilter().GetShould()
	assert.Equal(t, "42", should[0].GetField().GetMatch().GetKeyword())
}

func TestBuildFilterAbsentPredicate(t *testing.T) {
	assert.Nil(t, BuildFilter(nil))
	assert.Nil(t, BuildFilter(&domain.FilterPredicate{}))
}

func TestSearchDecodesPayloadInRankOrder(t *testing.T) {
	fake := &querierFake{points: []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewIDNum(7),
			Score: 0.93,
			Payload: map[string]*qdrant.Value{
				"product_name": qdrant.NewValueString("Sharp Cheddar"),
				"price":        qdrant.NewValueDouble(15.5),
				"SKU":          qdrant.NewValueString("TIL-001"),
			},
		},
		{
			Id:      qdrant.NewID("2b7f3b9e-0000-4000-8000-000000000000"),
			Score:   0.81,
			Payload: map[string]*qdrant.Value{"product_name": qdrant.NewValueString("Gouda")},
		},
	}}
	client := newWithQuerier(fake, "products")

	pred := &domain.FilterPredicate{Conditions: []domain.Condition{
		{Field: domain.FieldPrice, Operator: domain.OpLt, Value: domain.NumberValue(20)},
	}}
	got, err := client.Search(context.Background(), []float32{0.1, 0.2}, pred, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "7", got[0].ID)
	assert.Equal(t, domain.Some("Sharp Cheddar"), got[0].ProductName)
	assert.Equal(t, domain.Some("15.5"), got[0].Price)
	assert.Equal(t, domain.Some("TIL-001"), got[0].SKU)
	assert.False(t, got[0].UPC.IsSet())
	assert.InDelta(t, 0.93, got[0].Score, 1e-6)
	assert.Equal(t, "2b7f3b9e-0000-4000-8000-000000000000", got[1].ID)

	require.NotNil(t, fake.got)
	assert.Equal(t, "products", fake.got.GetCollectionName())
	assert.Equal(t, uint64(5), fake.got.GetLimit())
	assert.NotNil(t, fake.got.GetFilter())
}

func TestSearchWrapsFailuresAsRetrieval(t *testing.T) {
	client := newWithQuerier(&querierFake{err: status.Error(codes.Unavailable, "connection refused")}, "products")

	_, err := client.Search(context.Background(), []float32{1}, nil, 5)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrRetrieval))
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
}

func TestVerifyDimension(t *testing.T) {
	ok := newWithQuerier(&querierFake{info: collectionInfo(1536, qdrant.Distance_Cosine)}, "products")
	assert.NoError(t, ok.VerifyDimension(context.Background(), 1536))

	wrongSize := newWithQuerier(&querierFake{info: collectionInfo(768, qdrant.Distance_Cosine)}, "products")
	assert.True(t, domain.IsKind(wrongSize.VerifyDimension(context.Background(), 1536), domain.ErrConfiguration))

	wrongDistance := newWithQuerier(&querierFake{info: collectionInfo(1536, qdrant.Distance_Dot)}, "products")
	assert.True(t, domain.IsKind(wrongDistance.VerifyDimension(context.Background(), 1536), domain.ErrConfiguration))

	missing := newWithQuerier(&querierFake{}, "products")
	assert.True(t, domain.IsKind(missing.VerifyDimension(context.Background(), 1536), domain.ErrConfiguration))
}

func TestParseEndpoint(t *testing.T) {
	host, port, tls, err := parseEndpoint("https://cluster.example.io:6334")
	require.NoError(t, err)
	assert.Equal(t, "cluster.example.io", host)
	assert.Equal(t, 6334, port)
	assert.True(t, tls)

	host, port, tls, err = parseEndpoint("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
	assert.False(t, tls)

	_, _, _, err = parseEndpoint("")
	assert.Error(t, err)
}
