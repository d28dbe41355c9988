package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/repository"
)

func newTypingService(t *testing.T, e *env) *TypingService {
	t.Helper()
	svc, err := NewTypingService(e.store, e.hub, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestSubscribeTyping_ReportsOtherParticipantsTransitions(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	e.seedConversation(t, "conv-1", "cust-1", "prov-a")
	svc := newTypingService(t, e)
	ctx := context.Background()

	var seen []domain.TypingStatus
	sub, err := svc.SubscribeTyping(ctx, "conv-1", "cust-1", func(st domain.TypingStatus) {
		seen = append(seen, st)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, svc.SetTyping(ctx, "conv-1", "cust-1", true))
	require.NoError(t, svc.SetTyping(ctx, "conv-1", "prov-a", true))
	require.NoError(t, svc.SetTyping(ctx, "conv-1", "prov-a", true))
	require.NoError(t, svc.SetTyping(ctx, "conv-1", "prov-a", false))

	require.Len(t, seen, 2)
	require.Equal(t, "prov-a", seen[0].UserID)
	require.True(t, seen[0].IsTyping)
	require.False(t, seen[1].IsTyping)
	require.Empty(t, sub.Typing())
}

func TestSubscribeTyping_CloseStopsDelivery(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	svc := newTypingService(t, e)
	ctx := context.Background()

	calls := 0
	sub, err := svc.SubscribeTyping(ctx, "conv-1", "cust-1", func(domain.TypingStatus) { calls++ })
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.Zero(t, e.hub.Len())

	require.NoError(t, svc.SetTyping(ctx, "conv-1", "prov-a", true))
	require.Zero(t, calls)
}

// Nothing expires a typing flag: a client that set it and vanished still
// shows as typing to anyone who subscribes later.
func TestSubscribeTyping_StaleFlagPersistsWithoutExpiry(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	svc := newTypingService(t, e)
	ctx := context.Background()

	require.NoError(t, svc.SetTyping(ctx, "conv-1", "prov-a", true))

	var seen []domain.TypingStatus
	sub, err := svc.SubscribeTyping(ctx, "conv-1", "cust-1", func(st domain.TypingStatus) {
		seen = append(seen, st)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, seen, 1)
	require.Equal(t, []string{"prov-a"}, sub.Typing())
}

// snapshotThenWriteStore returns the typing rows as they were, then stores a
// newer row before the caller gets to apply them.
type snapshotThenWriteStore struct {
	*repository.MemoryStore
	next domain.TypingStatus
}

func (s snapshotThenWriteStore) ListTyping(ctx context.Context, conversationID string) ([]domain.TypingStatus, error) {
	rows, err := s.MemoryStore.ListTyping(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	next := s.next
	next.UpdatedAt = now()
	if err := s.MemoryStore.UpsertTyping(ctx, next); err != nil {
		return nil, err
	}
	return rows, nil
}

func TestSubscribeTyping_OlderStoredRowDoesNotOverrideFeed(t *testing.T) {
	stubClock(t)
	e := newEnv(t)
	ctx := context.Background()
	seeder := newTypingService(t, e)
	require.NoError(t, seeder.SetTyping(ctx, "conv-1", "prov-a", true))

	store := snapshotThenWriteStore{
		MemoryStore: e.store,
		next:        domain.TypingStatus{ConversationID: "conv-1", UserID: "prov-a", IsTyping: false},
	}
	svc, err := NewTypingService(store, e.hub, zerolog.Nop())
	require.NoError(t, err)

	var seen []domain.TypingStatus
	sub, err := svc.SubscribeTyping(ctx, "conv-1", "cust-1", func(st domain.TypingStatus) {
		seen = append(seen, st)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.Empty(t, seen)
	require.Empty(t, sub.Typing())

	rows, err := e.store.ListTyping(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].IsTyping)
}

func TestSetTyping_Errors(t *testing.T) {
	e := newEnv(t)
	svc := newTypingService(t, e)

	err := svc.SetTyping(context.Background(), "conv-1", " ", true)
	requireCode(t, err, ErrorInvalidInput)

	failing, err := NewTypingService(upsertErrStore{e.store}, e.hub, zerolog.Nop())
	require.NoError(t, err)
	err = failing.SetTyping(context.Background(), "conv-1", "cust-1", true)
	requireCode(t, err, ErrorPersistence)
}

type upsertErrStore struct {
	*repository.MemoryStore
}

func (upsertErrStore) UpsertTyping(context.Context, domain.TypingStatus) error {
	return errors.New("throttled")
}
