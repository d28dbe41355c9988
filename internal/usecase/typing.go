package usecase

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"negotiation-chat/internal/changefeed"
	"negotiation-chat/internal/domain"
)

// TypingService stores per-user typing flags. Debouncing belongs to the
// caller, and nothing expires a flag left set by a client that went away.
type TypingService struct {
	store TypingStore
	feed  changefeed.Feed
	log   zerolog.Logger
}

func NewTypingService(store TypingStore, feed changefeed.Feed, log zerolog.Logger) (*TypingService, error) {
	if store == nil {
		return nil, errors.New("usecase: typing store must not be nil")
	}
	if feed == nil {
		return nil, errors.New("usecase: change feed must not be nil")
	}
	return &TypingService{store: store, feed: feed, log: log.With().Str("component", "typing").Logger()}, nil
}

func (s *TypingService) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return newError(ErrorInvalidInput, "missing_typing_ids", nil)
	}
	err := s.store.UpsertTyping(ctx, domain.TypingStatus{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UpdatedAt:      now(),
	})
	if err != nil {
		return newError(ErrorPersistence, "typing_write_error", err)
	}
	return nil
}

// SubscribeTyping reports typing transitions of every participant except
// viewerID. Rows already flagged as typing when the subscription starts are
// reported once up front. The stored rows are read after the feed is attached,
// so a row older than one the feed already delivered is ignored.
func (s *TypingService) SubscribeTyping(ctx context.Context, conversationID, viewerID string, onChange func(domain.TypingStatus)) (*TypingSubscription, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if onChange == nil {
		return nil, newError(ErrorInvalidInput, "missing_callback", nil)
	}
	sub := &TypingSubscription{
		viewerID: strings.TrimSpace(viewerID),
		onChange: onChange,
		state:    make(map[string]domain.TypingStatus),
	}
	feedSub, err := s.feed.Subscribe(ctx, changefeed.Filter{
		Table:          domain.TableTypingStatus,
		ConversationID: conversationID,
		Ops:            []domain.ChangeOp{domain.OpInsert, domain.OpUpdate},
	}, func(ev domain.ChangeEvent) {
		if ev.Typing != nil {
			sub.apply(*ev.Typing)
		}
	})
	if err != nil {
		return nil, newError(ErrorPersistence, "change_feed_subscribe_error", err)
	}
	sub.feedSub = feedSub

	current, err := s.store.ListTyping(ctx, conversationID)
	if err != nil {
		_ = sub.Close()
		return nil, newError(ErrorPersistence, "typing_list_error", err)
	}
	for _, st := range current {
		sub.apply(st)
	}
	return sub, nil
}

type TypingSubscription struct {
	viewerID string
	onChange func(domain.TypingStatus)

	mu      sync.Mutex
	closed  bool
	state   map[string]domain.TypingStatus
	feedSub changefeed.Subscription
}

// Typing returns the sorted ids of users currently flagged as typing.
func (s *TypingSubscription) Typing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.state))
	for id, st := range s.state {
		if st.IsTyping {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (s *TypingSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feedSub := s.feedSub
	s.mu.Unlock()
	if feedSub == nil {
		return nil
	}
	return feedSub.Close()
}

func (s *TypingSubscription) apply(st domain.TypingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || st.UserID == s.viewerID {
		return
	}
	prev, seen := s.state[st.UserID]
	if seen && st.UpdatedAt.Before(prev.UpdatedAt) {
		return
	}
	s.state[st.UserID] = st
	// An unseen user starts out not typing.
	if prev.IsTyping == st.IsTyping {
		return
	}
	s.onChange(st)
}
