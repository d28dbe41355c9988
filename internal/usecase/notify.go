package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/relay"
)

// Bridge publishes chat events on the push relay. Every publish is best
// effort: failures are logged and counted, never returned.
type Bridge struct {
	pub     relay.Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewBridge returns a Bridge. A nil publisher disables publishing.
func NewBridge(pub relay.Publisher, log zerolog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{pub: pub, log: log.With().Str("component", "relay_bridge").Logger(), metrics: m}
}

func (b *Bridge) PublishMessage(ctx context.Context, msg domain.Message) {
	b.publish(ctx, relay.ConversationTopic(msg.ConversationID), relay.EventNewMessage, msg)
}

type newConversationPayload struct {
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
	ProductID      string `json:"productId,omitempty"`
}

// PublishNewConversation informs providerID of a new conversation, or every
// provider when providerID is empty.
func (b *Bridge) PublishNewConversation(ctx context.Context, providerID string, conv domain.Conversation) {
	topic := relay.BroadcastTopic
	if providerID != "" {
		topic = relay.ProviderTopic(providerID)
	}
	b.publish(ctx, topic, relay.EventNewConversation, newConversationPayload{
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		ProductID:      conv.ProductID,
	})
}

func (b *Bridge) PublishQuoteUpdated(ctx context.Context, q domain.Quote) {
	b.publish(ctx, relay.ConversationTopic(q.ConversationID), relay.EventQuoteUpdated, q)
}

func (b *Bridge) publish(ctx context.Context, topic, name string, payload any) {
	if b == nil || b.pub == nil {
		return
	}
	ev, err := relay.NewEvent(name, payload)
	if err == nil {
		err = b.pub.Publish(ctx, topic, ev)
	}
	if err != nil {
		b.metrics.RelayFailure(name)
		b.log.Warn().
			Err(newError(ErrorRelayUnavailable, "relay_publish_error", err)).
			Str("topic", topic).
			Str("event", name).
			Msg("relay publish failed")
	}
}
