package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"negotiation-chat/internal/domain"
)

const (
	skMeta         = "META#"
	skPrefixMsg    = "MSG#"
	skPrefixTyping = "TYPING#"
	skPrefixItem   = "ITEM#"
	skPrefixReport = "REPORT#"

	// GSI1 groups conversations by customer and quotes by conversation.
	// GSI2 lists every conversation for provider visibility.
	indexGSI1  = "GSI1"
	indexGSI2  = "GSI2"
	attrGSI1PK = "GSI1PK"
	attrGSI1SK = "GSI1SK"
	attrGSI2PK = "GSI2PK"
	attrGSI2SK = "GSI2SK"

	allConversationsGSIKey = "CONVERSATIONS"

	// Fixed-width so sort keys order lexically by time.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

	maxTransactItems = 100
	maxBatchWrite    = 25
	maxBatchRetries  = 5
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConditionFailed is returned when a conditional write did not apply
	// because the row exists but its guarded attribute no longer matches.
	ErrConditionFailed = errors.New("repository: condition failed")
)

// PartialWriteError reports a quote whose header row was stored while some of
// its line items were not.
type PartialWriteError struct {
	QuoteID string
	Written int
	Total   int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("repository: quote %s partially written (%d/%d items): %v", e.QuoteID, e.Written, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client wraps the chat DynamoDB table holding conversations, messages,
// typing rows, quotes and quote items.
type Client struct {
	api             dynamodbAPI
	tableName       string
	markConcurrency int
}

type Option func(*Client)

// WithMarkReadConcurrency bounds the parallel updates issued by MarkRead.
func WithMarkReadConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.markConcurrency = n
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, markConcurrency: 8}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func quotePK(quoteID string) string {
	return "QUOTE#" + quoteID
}

// msgSK orders messages by creation time with the id as tiebreak.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + formatTime(ts) + "#" + id
}

func typingSK(userID string) string {
	return skPrefixTyping + userID
}

func reportSK(ts time.Time, id string) string {
	return skPrefixReport + formatTime(ts) + "#" + id
}

func quoteItemSK(position int) string {
	return fmt.Sprintf("%s%04d", skPrefixItem, position)
}

func customerGSIKey(customerID string) string {
	return "CUSTOMER#" + customerID
}

func conversationQuotesGSIKey(conversationID string) string {
	return "CONVQUOTES#" + conversationID
}

func metaKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": attrS(pk),
		"SK": attrS(skMeta),
	}
}

// CreateConversation inserts a new conversation row; it fails if the id exists.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" || conv.CustomerID == "" {
		return errors.New("repository: CreateConversation: id and customer id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// GetConversation reads a conversation with a strongly consistent read.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            metaKey(convPK(conversationID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, nil
}

// ClaimConversation sets provider_id only while it is absent. A conversation
// that is already claimed, by anyone, yields ErrConditionFailed.
func (c *Client) ClaimConversation(ctx context.Context, conversationID, providerID string, at time.Time) (domain.Conversation, error) {
	now := formatTime(at)
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 metaKey(convPK(conversationID)),
		UpdateExpression:    aws.String("SET provider_id = :provider, updated_at = :now, GSI1SK = :now, GSI2SK = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_not_exists(provider_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":provider": attrS(providerID),
			":now":      attrS(now),
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return domain.Conversation{}, ErrNotFound
			}
			return domain.Conversation{}, ErrConditionFailed
		}
		return domain.Conversation{}, fmt.Errorf("repository: ClaimConversation: %w", err)
	}
	conv, err := itemToConversation(out.Attributes)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: ClaimConversation decode: %w", err)
	}
	return conv, nil
}

// ListConversationsByCustomer returns the customer's conversations, most
// recently updated first.
func (c *Client) ListConversationsByCustomer(ctx context.Context, customerID string) ([]domain.Conversation, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(indexGSI1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": attrS(customerGSIKey(customerID)),
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversationsByCustomer: %w", err)
	}
	return decodeConversations(items, "ListConversationsByCustomer")
}

// ListAllConversations returns every conversation, most recently updated first.
func (c *Client) ListAllConversations(ctx context.Context) ([]domain.Conversation, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(indexGSI2),
		KeyConditionExpression: aws.String("GSI2PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": attrS(allConversationsGSIKey),
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListAllConversations: %w", err)
	}
	return decodeConversations(items, "ListAllConversations")
}

// UpdateConversationSettings applies the non-nil fields of s and returns the
// updated row.
func (c *Client) UpdateConversationSettings(ctx context.Context, conversationID string, set domain.ConversationSettings, at time.Time) (domain.Conversation, error) {
	if set.Empty() {
		return c.GetConversation(ctx, conversationID)
	}
	now := formatTime(at)
	names := map[string]string{"#updated": "updated_at"}
	values := map[string]types.AttributeValue{":now": attrS(now)}
	sets := []string{"#updated = :now", "GSI1SK = :now", "GSI2SK = :now"}
	var removes []string

	if set.Pinned != nil {
		names["#pinned"] = "pinned"
		values[":pinned"] = attrB(*set.Pinned)
		sets = append(sets, "#pinned = :pinned")
	}
	if set.ClearMute {
		names["#muted"] = "muted_until"
		removes = append(removes, "#muted")
	} else if set.MutedUntil != nil {
		names["#muted"] = "muted_until"
		values[":muted"] = attrS(formatTime(*set.MutedUntil))
		sets = append(sets, "#muted = :muted")
	}
	if set.Archived != nil {
		status := domain.ConversationActive
		if *set.Archived {
			status = domain.ConversationArchived
		}
		names["#archived"] = "archived"
		names["#status"] = "status"
		values[":archived"] = attrB(*set.Archived)
		values[":status"] = attrS(string(status))
		sets = append(sets, "#archived = :archived", "#status = :status")
	}
	if set.TemporaryHours != nil {
		names["#temp"] = "temporary_hours"
		if *set.TemporaryHours > 0 {
			values[":temp"] = attrN(fmt.Sprintf("%d", *set.TemporaryHours))
			sets = append(sets, "#temp = :temp")
		} else {
			removes = append(removes, "#temp")
		}
	}

	expr := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		expr += " REMOVE " + strings.Join(removes, ", ")
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       metaKey(convPK(conversationID)),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationSettings: %w", err)
	}
	conv, err := itemToConversation(out.Attributes)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversationSettings decode: %w", err)
	}
	return conv, nil
}

// SetConversationBlocked adds userID to, or removes it from, the set of
// participants blocking the conversation.
func (c *Client) SetConversationBlocked(ctx context.Context, conversationID, userID string, blocked bool, at time.Time) (domain.Conversation, error) {
	now := formatTime(at)
	op := "DELETE"
	if blocked {
		op = "ADD"
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 metaKey(convPK(conversationID)),
		UpdateExpression:    aws.String("SET updated_at = :now, GSI1SK = :now, GSI2SK = :now " + op + " blocked_by :user"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":  attrS(now),
			":user": &types.AttributeValueMemberSS{Value: []string{userID}},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, fmt.Errorf("repository: SetConversationBlocked: %w", err)
	}
	conv, err := itemToConversation(out.Attributes)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: SetConversationBlocked decode: %w", err)
	}
	return conv, nil
}

// InsertReport stores r under its conversation, which must exist.
func (c *Client) InsertReport(ctx context.Context, r domain.Report) error {
	if r.ID == "" || r.ConversationID == "" {
		return errors.New("repository: InsertReport: id and conversation id are required")
	}
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				ConditionCheck: &types.ConditionCheck{
					TableName:           aws.String(c.tableName),
					Key:                 metaKey(convPK(r.ConversationID)),
					ConditionExpression: aws.String("attribute_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                reportItem(r),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		if conditionFailedAt(err, 0) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: InsertReport: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation with its messages, typing rows,
// reports, quotes and quote items.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	keys, err := c.partitionKeys(ctx, convPK(conversationID))
	if err != nil {
		return fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	if len(keys) == 0 {
		return ErrNotFound
	}
	quotes, err := c.ListQuotes(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	for _, q := range quotes {
		quoteKeys, err := c.partitionKeys(ctx, quotePK(q.ID))
		if err != nil {
			return fmt.Errorf("repository: DeleteConversation: %w", err)
		}
		keys = append(keys, quoteKeys...)
	}
	if err := c.batchDelete(ctx, keys); err != nil {
		return fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return nil
}

func (c *Client) partitionKeys(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	items, err := c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": attrS(pk),
		},
		ProjectionExpression: aws.String("PK, SK"),
	})
	if err != nil {
		return nil, err
	}
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	return keys, nil
}

func (c *Client) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}
		pending := map[string][]types.WriteRequest{c.tableName: reqs}
		for attempt := 0; len(pending[c.tableName]) > 0; attempt++ {
			if attempt == maxBatchRetries {
				return fmt.Errorf("batch delete: %d requests left unprocessed", len(pending[c.tableName]))
			}
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			if out == nil {
				break
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// queryAll follows LastEvaluatedKey until the query is exhausted.
func (c *Client) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func decodeConversations(items []map[string]types.AttributeValue, op string) ([]domain.Conversation, error) {
	convs := make([]domain.Conversation, 0, len(items))
	for _, item := range items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: %s decode: %w", op, err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// conditionFailedAt reports whether a cancelled transaction failed the
// condition of the item at index.
func conditionFailedAt(err error, index int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	if index >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[index].Code
	return code != nil && *code == "ConditionalCheckFailed"
}
