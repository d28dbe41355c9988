package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisAPI is the subset of redis.UniversalClient used by Redis.
type redisAPI interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Redis relays events over Redis pub/sub, one channel per topic.
type Redis struct {
	api redisAPI
	log zerolog.Logger
}

func NewRedis(api redisAPI, log zerolog.Logger) (*Redis, error) {
	if api == nil {
		return nil, errors.New("relay: redis client must not be nil")
	}
	return &Redis{api: api, log: log.With().Str("component", "relay_redis").Logger()}, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal event: %w", err)
	}
	if err := r.api.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers events
// from a background goroutine until the subscription is closed.
func (r *Redis) Subscribe(ctx context.Context, topic string, fn func(Event)) (Subscription, error) {
	ps := r.api.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("relay: subscribe %s: %w", topic, err)
	}
	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for msg := range ch {
			r.deliver(msg.Channel, msg.Payload, fn)
		}
	}()
	return sub, nil
}

func (r *Redis) deliver(channel, payload string, fn func(Event)) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warn().Err(err).Str("topic", channel).Msg("dropping malformed relay payload")
		return
	}
	fn(ev)
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}
}

// Close unsubscribes and waits for the delivery goroutine to exit. It must not
// be called from inside the delivery callback.
func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}
