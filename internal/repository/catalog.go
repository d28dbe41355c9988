package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"negotiation-chat/internal/domain"
)

const maxBatchGet = 100

type batchGetAPI interface {
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// Catalog reads product snapshots from the storefront products table, keyed by "id".
type Catalog struct {
	api       batchGetAPI
	tableName string
}

func NewCatalog(api batchGetAPI, tableName string) (*Catalog, error) {
	if api == nil {
		return nil, errors.New("repository: catalog api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: catalog table name must not be empty")
	}
	return &Catalog{api: api, tableName: tableName}, nil
}

// Products returns the snapshots found for ids. Unknown ids are absent from
// the result.
func (c *Catalog) Products(ctx context.Context, ids []string) (map[string]domain.ProductSnapshot, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	out := make(map[string]domain.ProductSnapshot, len(unique))
	for start := 0; start < len(unique); start += maxBatchGet {
		end := min(start+maxBatchGet, len(unique))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range unique[start:end] {
			keys = append(keys, map[string]types.AttributeValue{"id": attrS(id)})
		}
		pending := map[string]types.KeysAndAttributes{c.tableName: {Keys: keys}}
		for attempt := 0; len(pending[c.tableName].Keys) > 0; attempt++ {
			if attempt == maxBatchRetries {
				return nil, fmt.Errorf("repository: Products: %d keys left unprocessed", len(pending[c.tableName].Keys))
			}
			res, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, fmt.Errorf("repository: Products: %w", err)
			}
			if res == nil {
				break
			}
			for _, item := range res.Responses[c.tableName] {
				id, err := strAttr(item, "id")
				if err != nil {
					return nil, fmt.Errorf("repository: Products decode: %w", err)
				}
				out[id] = domain.ProductSnapshot{
					ID:       id,
					Name:     optStrAttr(item, "name"),
					ImageURL: optStrAttr(item, "image_url"),
				}
			}
			pending = res.UnprocessedKeys
		}
	}
	return out, nil
}
