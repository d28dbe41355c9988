// Package relay is the topic-based push channel used for low-latency fan-out
// of chat events. It is never a source of truth: subscribers must tolerate
// lost, duplicated and reordered events.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	EventNewMessage      = "new-message"
	EventNewConversation = "new-conversation"
	EventQuoteUpdated    = "quote-updated"

	// BroadcastTopic reaches every provider; used for conversations that have
	// no provider yet.
	BroadcastTopic = "providers"
)

// Event is the envelope carried on every topic.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("relay: marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

func ConversationTopic(conversationID string) string {
	return "chat-" + conversationID
}

func ProviderTopic(providerID string) string {
	return "provider-" + providerID
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

type Subscription interface {
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, fn func(Event)) (Subscription, error)
}
