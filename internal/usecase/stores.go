package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"negotiation-chat/internal/domain"
)

// Both repository.Client and repository.MemoryStore satisfy the store
// interfaces below.

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ClaimConversation(ctx context.Context, conversationID, providerID string, at time.Time) (domain.Conversation, error)
	ListConversationsByCustomer(ctx context.Context, customerID string) ([]domain.Conversation, error)
	ListAllConversations(ctx context.Context) ([]domain.Conversation, error)
	UpdateConversationSettings(ctx context.Context, conversationID string, set domain.ConversationSettings, at time.Time) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	SetConversationBlocked(ctx context.Context, conversationID, userID string, blocked bool, at time.Time) (domain.Conversation, error)
	InsertReport(ctx context.Context, r domain.Report) error
}

type MessageStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	InsertMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
}

type TypingStore interface {
	UpsertTyping(ctx context.Context, status domain.TypingStatus) error
	ListTyping(ctx context.Context, conversationID string) ([]domain.TypingStatus, error)
}

type QuoteStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	CreateQuote(ctx context.Context, q domain.Quote, items []domain.QuoteItem) error
	GetQuote(ctx context.Context, quoteID string) (domain.Quote, error)
	UpdateQuoteStatus(ctx context.Context, quoteID string, from, to domain.QuoteStatus, at time.Time) (domain.Quote, error)
	ListQuotes(ctx context.Context, conversationID string) ([]domain.Quote, error)
	ListQuoteItems(ctx context.Context, quoteID string) ([]domain.QuoteItem, error)
}

// ProductCatalog is the read-only product lookup.
type ProductCatalog interface {
	Products(ctx context.Context, ids []string) (map[string]domain.ProductSnapshot, error)
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
