package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"negotiation-chat/internal/domain"
)

type redisAPI interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Channel names the pub/sub channel carrying changes of one conversation's
// rows in table.
func Channel(table domain.Table, conversationID string) string {
	return "changes:" + string(table) + ":" + conversationID
}

// RedisFeed fans change events out over Redis pub/sub. The stream forwarder
// publishes; API processes subscribe.
type RedisFeed struct {
	api redisAPI
	log zerolog.Logger
}

func NewRedisFeed(api redisAPI, log zerolog.Logger) (*RedisFeed, error) {
	if api == nil {
		return nil, errors.New("changefeed: redis client must not be nil")
	}
	return &RedisFeed{api: api, log: log.With().Str("component", "changefeed_redis").Logger()}, nil
}

func (r *RedisFeed) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.Table == "" || ev.ConversationID == "" {
		return errors.New("changefeed: event needs table and conversation id")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("changefeed: marshal event: %w", err)
	}
	channel := Channel(ev.Table, ev.ConversationID)
	if err := r.api.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("changefeed: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe requires f to name both a table and a conversation; operations
// are filtered locally.
func (r *RedisFeed) Subscribe(ctx context.Context, f Filter, fn func(domain.ChangeEvent)) (Subscription, error) {
	if f.Table == "" || f.ConversationID == "" {
		return nil, errors.New("changefeed: redis subscription needs table and conversation id")
	}
	channel := Channel(f.Table, f.ConversationID)
	ps := r.api.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("changefeed: subscribe %s: %w", channel, err)
	}
	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for msg := range ch {
			r.deliver(msg.Payload, f, fn)
		}
	}()
	return sub, nil
}

func (r *RedisFeed) deliver(payload string, f Filter, fn func(domain.ChangeEvent)) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warn().Err(err).Str("conversation_id", f.ConversationID).Msg("dropping malformed change event")
		return
	}
	if f.Match(ev) {
		fn(ev)
	}
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}
