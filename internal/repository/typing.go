package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"negotiation-chat/internal/domain"
)

// UpsertTyping writes the single typing row for (conversation, user).
func (c *Client) UpsertTyping(ctx context.Context, status domain.TypingStatus) error {
	if status.ConversationID == "" || status.UserID == "" {
		return errors.New("repository: UpsertTyping: conversation id and user id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      typingItem(status),
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertTyping: %w", err)
	}
	return nil
}

// ListTyping returns the typing rows of a conversation.
func (c *Client) ListTyping(ctx context.Context, conversationID string) ([]domain.TypingStatus, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     attrS(convPK(conversationID)),
			":prefix": attrS(skPrefixTyping),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListTyping query: %w", err)
	}
	out := make([]domain.TypingStatus, 0, len(items))
	for _, item := range items {
		t, err := itemToTyping(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTyping unmarshal: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
