package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeBatchGet struct {
	outs   []*dynamodb.BatchGetItemOutput
	err    error
	inputs []*dynamodb.BatchGetItemInput
}

func (f *fakeBatchGet) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.outs) == 0 {
		return &dynamodb.BatchGetItemOutput{}, nil
	}
	out := f.outs[0]
	f.outs = f.outs[1:]
	return out, nil
}

func product(id, name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": attrS(id), "name": attrS(name), "image_url": attrS("https://cdn/" + id + ".png")}
}

func TestCatalog_ProductsDeduplicatesAndRetries(t *testing.T) {
	api := &fakeBatchGet{outs: []*dynamodb.BatchGetItemOutput{
		{
			Responses: map[string][]map[string]types.AttributeValue{"products": {product("p-1", "Lamp")}},
			UnprocessedKeys: map[string]types.KeysAndAttributes{
				"products": {Keys: []map[string]types.AttributeValue{{"id": attrS("p-2")}}},
			},
		},
		{Responses: map[string][]map[string]types.AttributeValue{"products": {product("p-2", "Desk")}}},
	}}
	cat, err := NewCatalog(api, "products")
	require.NoError(t, err)

	got, err := cat.Products(context.Background(), []string{"p-1", "p-2", "p-1", ""})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Desk", got["p-2"].Name)
	require.Len(t, api.inputs[0].RequestItems["products"].Keys, 2)
	require.Len(t, api.inputs, 2)
}

func TestCatalog_ProductsError(t *testing.T) {
	cat, err := NewCatalog(&fakeBatchGet{err: errors.New("throttled")}, "products")
	require.NoError(t, err)
	_, err = cat.Products(context.Background(), []string{"p-1"})
	require.ErrorContains(t, err, "Products")
}

func TestCatalog_NoIDsNoCall(t *testing.T) {
	api := &fakeBatchGet{}
	cat, err := NewCatalog(api, "products")
	require.NoError(t, err)
	got, err := cat.Products(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Empty(t, api.inputs)
}
