package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"negotiation-chat/internal/changefeed"
	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/relay"
	"negotiation-chat/internal/repository"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubClock makes ids sequential (id-0001, id-0002, ...) and advances the
// clock one second per call.
func stubClock(t *testing.T) {
	t.Helper()
	var mu sync.Mutex
	ids, ticks := 0, 0
	prevUUID, prevNow := newUUID, now
	newUUID = func() string {
		mu.Lock()
		defer mu.Unlock()
		ids++
		return fmt.Sprintf("id-%04d", ids)
	}
	now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return testBase.Add(time.Duration(ticks) * time.Second)
	}
	t.Cleanup(func() {
		newUUID, now = prevUUID, prevNow
	})
}

// env is an in-process deployment: memory store feeding a hub, plus a memory
// relay.
type env struct {
	store   *repository.MemoryStore
	hub     *changefeed.Hub
	relay   *relay.Memory
	metrics *metrics.Metrics
	bridge  *Bridge
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := changefeed.NewHub()
	r := relay.NewMemory()
	m := metrics.New(prometheus.NewRegistry())
	return &env{
		store:   repository.NewMemoryStore(hub.Dispatch),
		hub:     hub,
		relay:   r,
		metrics: m,
		bridge:  NewBridge(r, zerolog.Nop(), m),
	}
}

func (e *env) messages(t *testing.T, opts ...MessageOption) *MessageService {
	t.Helper()
	svc, err := NewMessageService(e.store, e.bridge, e.hub, e.relay, zerolog.Nop(), e.metrics, opts...)
	require.NoError(t, err)
	return svc
}

func (e *env) conversations(t *testing.T) *ConversationService {
	t.Helper()
	svc, err := NewConversationService(e.store, e.bridge, zerolog.Nop(), e.metrics)
	require.NoError(t, err)
	return svc
}

func (e *env) seedConversation(t *testing.T, id, customerID, providerID string) domain.Conversation {
	t.Helper()
	conv := domain.Conversation{
		ID:         id,
		CustomerID: customerID,
		ProviderID: providerID,
		Status:     domain.ConversationActive,
		CreatedAt:  testBase,
		UpdatedAt:  testBase,
	}
	require.NoError(t, e.store.CreateConversation(context.Background(), conv))
	return conv
}

// recorder collects relay events per topic.
type recorder struct {
	mu     sync.Mutex
	events []relay.Event
}

func (r *recorder) record(ev relay.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func listen(t *testing.T, r *relay.Memory, topic string) *recorder {
	t.Helper()
	rec := &recorder{}
	sub, err := r.Subscribe(context.Background(), topic, rec.record)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return rec
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, relay.Event) error {
	return errors.New("relay down")
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, string, func(relay.Event)) (relay.Subscription, error) {
	return nil, errors.New("relay down")
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, IsCode(err, code), "want %s, got %v", code, err)
}
