package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"negotiation-chat/internal/domain"
)

// InsertMessage stores msg and bumps the conversation's unread counter and
// updated_at in one transaction. A missing conversation yields ErrNotFound.
func (c *Client) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("repository: InsertMessage: id and conversation id are required")
	}
	now := formatTime(msg.CreatedAt)
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(c.tableName),
					Key:                 metaKey(convPK(msg.ConversationID)),
					UpdateExpression:    aws.String("SET updated_at = :now, GSI1SK = :now, GSI2SK = :now ADD unread_count :one"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":now": attrS(now),
						":one": attrN("1"),
					},
				},
			},
		},
	})
	if err != nil {
		if conditionFailedAt(err, 1) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages in canonical order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     attrS(convPK(conversationID)),
			":prefix": attrS(skPrefixMsg),
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// MarkRead sets read_at on every unread message in the conversation that was
// not sent by readerID and lowers the unread counter by the number it marked.
// Each update is guarded by attribute_not_exists(read_at), so every message
// is counted down once and repeated calls change nothing.
func (c *Client) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("attribute_not_exists(read_at) AND sender_id <> :reader"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     attrS(convPK(conversationID)),
			":prefix": attrS(skPrefixMsg),
			":reader": attrS(readerID),
		},
		ProjectionExpression: aws.String("PK, SK"),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: MarkRead query: %w", err)
	}

	readAt := formatTime(at)
	marked := make([]bool, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.markConcurrency)
	for i, item := range items {
		g.Go(func() error {
			_, err := c.api.UpdateItem(gctx, &dynamodb.UpdateItemInput{
				TableName:                 aws.String(c.tableName),
				Key:                       map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
				UpdateExpression:          aws.String("SET read_at = :at"),
				ConditionExpression:       aws.String("attribute_not_exists(read_at)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":at": attrS(readAt)},
			})
			if err != nil {
				var ccf *types.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					return nil
				}
				return err
			}
			marked[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("repository: MarkRead update: %w", err)
	}

	count := 0
	for _, ok := range marked {
		if ok {
			count++
		}
	}

	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       metaKey(convPK(conversationID)),
		UpdateExpression:          aws.String("ADD unread_count :delta"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":delta": attrN(strconv.Itoa(-count))},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("repository: MarkRead counter: %w", err)
	}
	return count, nil
}
