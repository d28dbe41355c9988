// Package changefeed delivers row changes of the chat table to subscribers
// filtered by table, conversation and operation.
package changefeed

import (
	"context"
	"slices"

	"negotiation-chat/internal/domain"
)

// Filter selects change events. Empty fields match everything.
type Filter struct {
	Table          domain.Table
	ConversationID string
	Ops            []domain.ChangeOp
}

func (f Filter) Match(ev domain.ChangeEvent) bool {
	if f.Table != "" && ev.Table != f.Table {
		return false
	}
	if f.ConversationID != "" && ev.ConversationID != f.ConversationID {
		return false
	}
	return len(f.Ops) == 0 || slices.Contains(f.Ops, ev.Op)
}

type Subscription interface {
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, f Filter, fn func(domain.ChangeEvent)) (Subscription, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}
