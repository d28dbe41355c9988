package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"negotiation-chat/internal/domain"
)

// CreateQuote writes the quote row and its items. The quote and the first
// items share one transaction, so a quote is never visible without them unless
// the item count exceeds a single transaction. In that case a failure on a
// later chunk returns *PartialWriteError.
func (c *Client) CreateQuote(ctx context.Context, q domain.Quote, items []domain.QuoteItem) error {
	if q.ID == "" || q.ConversationID == "" {
		return errors.New("repository: CreateQuote: id and conversation id are required")
	}

	first := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                quoteItem(q),
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	firstCount := min(len(items), maxTransactItems-1)
	first = append(first, c.itemPuts(items[:firstCount], 0, q.ConversationID)...)
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: first}); err != nil {
		return fmt.Errorf("repository: CreateQuote: %w", err)
	}

	written := firstCount
	for written < len(items) {
		end := min(written+maxTransactItems, len(items))
		puts := c.itemPuts(items[written:end], written, q.ConversationID)
		if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: puts}); err != nil {
			return &PartialWriteError{QuoteID: q.ID, Written: written, Total: len(items), Err: err}
		}
		written = end
	}
	return nil
}

func (c *Client) itemPuts(items []domain.QuoteItem, offset int, conversationID string) []types.TransactWriteItem {
	puts := make([]types.TransactWriteItem, 0, len(items))
	for i, it := range items {
		puts = append(puts, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                quoteLineItem(it, offset+i, conversationID),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	return puts
}

// GetQuote reads a quote header.
func (c *Client) GetQuote(ctx context.Context, quoteID string) (domain.Quote, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            metaKey(quotePK(quoteID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("repository: GetQuote: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Quote{}, ErrNotFound
	}
	q, err := itemToQuote(out.Item)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("repository: GetQuote decode: %w", err)
	}
	return q, nil
}

// UpdateQuoteStatus moves a quote from -> to. If the stored status is no longer
// from, ErrConditionFailed is returned and nothing is written.
func (c *Client) UpdateQuoteStatus(ctx context.Context, quoteID string, from, to domain.QuoteStatus, at time.Time) (domain.Quote, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 metaKey(quotePK(quoteID)),
		UpdateExpression:    aws.String("SET #status = :to, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #status = :from"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":to":   attrS(string(to)),
			":from": attrS(string(from)),
			":now":  attrS(formatTime(at)),
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return domain.Quote{}, ErrNotFound
			}
			return domain.Quote{}, ErrConditionFailed
		}
		return domain.Quote{}, fmt.Errorf("repository: UpdateQuoteStatus: %w", err)
	}
	q, err := itemToQuote(out.Attributes)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("repository: UpdateQuoteStatus decode: %w", err)
	}
	return q, nil
}

// ListQuotes returns the conversation's quotes, newest first.
func (c *Client) ListQuotes(ctx context.Context, conversationID string) ([]domain.Quote, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(indexGSI1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": attrS(conversationQuotesGSIKey(conversationID)),
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListQuotes: %w", err)
	}
	quotes := make([]domain.Quote, 0, len(items))
	for _, item := range items {
		q, err := itemToQuote(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListQuotes decode: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// ListQuoteItems returns a quote's items in insertion order.
func (c *Client) ListQuoteItems(ctx context.Context, quoteID string) ([]domain.QuoteItem, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     attrS(quotePK(quoteID)),
			":prefix": attrS(skPrefixItem),
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListQuoteItems: %w", err)
	}
	out := make([]domain.QuoteItem, 0, len(items))
	for _, item := range items {
		it, err := itemToQuoteItem(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListQuoteItems decode: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}
