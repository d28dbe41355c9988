package usecase

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"negotiation-chat/internal/domain"
)

func keyed(i int) domain.Message {
	return domain.Message{
		ID:             fmt.Sprintf("m-%02d", i),
		ConversationID: "conv-1",
		SenderID:       "prov-a",
		Content:        fmt.Sprintf("message %d", i),
		CreatedAt:      testBase.Add(time.Duration(i) * time.Second),
	}
}

func TestTimeline_ShuffledDualDeliveryYieldsOrderedUniqueMessages(t *testing.T) {
	const n = 25
	rng := rand.New(rand.NewSource(7))

	type delivery struct {
		msg           domain.Message
		authoritative bool
	}
	var deliveries []delivery
	for i := 0; i < n; i++ {
		deliveries = append(deliveries, delivery{keyed(i), true}, delivery{keyed(i), false})
		for extra := rng.Intn(3); extra > 0; extra-- {
			deliveries = append(deliveries, delivery{keyed(i), rng.Intn(2) == 0})
		}
	}
	rng.Shuffle(len(deliveries), func(i, j int) { deliveries[i], deliveries[j] = deliveries[j], deliveries[i] })

	tl := NewTimeline(30 * time.Second)
	added := 0
	for _, d := range deliveries {
		if tl.Add(d.msg, d.authoritative) == Added {
			added++
		}
	}

	require.Equal(t, n, added)
	got := tl.Messages()
	require.Len(t, got, n)
	for i, m := range got {
		require.Equal(t, fmt.Sprintf("m-%02d", i), m.ID)
	}
}

func TestTimeline_OrdersByCreationThenID(t *testing.T) {
	tl := NewTimeline(time.Second)
	b := domain.Message{ID: "b", SenderID: "x", Content: "two", CreatedAt: testBase}
	a := domain.Message{ID: "a", SenderID: "y", Content: "one", CreatedAt: testBase}
	early := domain.Message{ID: "z", SenderID: "x", Content: "zero", CreatedAt: testBase.Add(-time.Minute)}

	tl.Add(b, true)
	tl.Add(a, false)
	tl.Add(early, true)

	got := tl.Messages()
	require.Equal(t, []string{"z", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestTimeline_ProvisionalSupersededByMatchingKeyedMessage(t *testing.T) {
	tl := NewTimeline(30 * time.Second)
	echo := domain.Message{ConversationID: "conv-1", SenderID: "cust-1", Content: "hello", CreatedAt: testBase}
	require.Equal(t, Added, tl.Add(echo, false))
	require.Equal(t, Duplicate, tl.Add(echo, false))

	stored := echo
	stored.ID = "m-1"
	stored.CreatedAt = testBase.Add(2 * time.Second)
	require.Equal(t, Superseded, tl.Add(stored, true))

	got := tl.Messages()
	require.Len(t, got, 1)
	require.Equal(t, "m-1", got[0].ID)

	// A late echo of the same message is absorbed by the keyed entry.
	require.Equal(t, Duplicate, tl.Add(echo, false))
	require.Equal(t, 1, tl.Len())
}

func TestTimeline_UnmatchedProvisionalStays(t *testing.T) {
	tl := NewTimeline(30 * time.Second)
	echo := domain.Message{SenderID: "cust-1", Content: "are you there?", CreatedAt: testBase}
	tl.Add(echo, false)

	other := domain.Message{ID: "m-1", SenderID: "cust-1", Content: "something else", CreatedAt: testBase.Add(time.Second)}
	require.Equal(t, Added, tl.Add(other, true))

	outside := domain.Message{ID: "m-2", SenderID: "cust-1", Content: "are you there?", CreatedAt: testBase.Add(time.Minute)}
	require.Equal(t, Added, tl.Add(outside, true))

	got := tl.Messages()
	require.Len(t, got, 3)
	require.True(t, got[0].Provisional())
}

func TestTimeline_OnlyAuthoritativeDeliveriesUpdateKeyedEntries(t *testing.T) {
	tl := NewTimeline(time.Second)
	msg := keyed(1)
	require.Equal(t, Added, tl.Add(msg, false))

	read := msg
	readAt := testBase.Add(time.Hour)
	read.ReadAt = &readAt
	require.Equal(t, Updated, tl.Add(read, true))
	require.Equal(t, Duplicate, tl.Add(read, true))

	// A stale relay echo without read_at must not roll the row back.
	require.Equal(t, Duplicate, tl.Add(msg, false))
	require.NotNil(t, tl.Messages()[0].ReadAt)
}

func TestTimeline_OlderStoredCopyDoesNotClearReadAt(t *testing.T) {
	tl := NewTimeline(time.Second)
	msg := keyed(1)
	read := msg
	readAt := testBase.Add(time.Hour)
	read.ReadAt = &readAt

	require.Equal(t, Added, tl.Add(read, true))
	require.Equal(t, Duplicate, tl.Add(msg, true))
	require.NotNil(t, tl.Messages()[0].ReadAt)

	edited := read
	edited.Edited = true
	edited.Content = "message 1 (fixed)"
	require.Equal(t, Updated, tl.Add(edited, true))
	require.Equal(t, Duplicate, tl.Add(read, true))
	require.True(t, tl.Messages()[0].Edited)
}

func TestTimeline_RepeatedTextWithDistinctClientRefsStaysDistinct(t *testing.T) {
	tl := NewTimeline(30 * time.Second)
	first := domain.Message{SenderID: "cust-1", Content: "ok", ClientRef: "r-1", CreatedAt: testBase}
	second := domain.Message{SenderID: "cust-1", Content: "ok", ClientRef: "r-2", CreatedAt: testBase.Add(time.Second)}

	require.Equal(t, Added, tl.Add(first, false))
	require.Equal(t, Added, tl.Add(second, false))
	require.Equal(t, Duplicate, tl.Add(first, false))

	stored := first
	stored.ID = "m-1"
	stored.CreatedAt = testBase.Add(2 * time.Second)
	require.Equal(t, Superseded, tl.Add(stored, true))
	require.Equal(t, 2, tl.Len())

	// An echo sent after the first row was stored is not mistaken for it.
	third := domain.Message{SenderID: "cust-1", Content: "ok", ClientRef: "r-3", CreatedAt: testBase.Add(3 * time.Second)}
	require.Equal(t, Added, tl.Add(third, false))

	stored2 := second
	stored2.ID = "m-2"
	stored2.CreatedAt = testBase.Add(4 * time.Second)
	require.Equal(t, Superseded, tl.Add(stored2, true))

	got := tl.Messages()
	require.Len(t, got, 3)
	require.Equal(t, "m-1", got[0].ID)
	require.True(t, got[1].Provisional())
	require.Equal(t, "r-3", got[1].ClientRef)
	require.Equal(t, "m-2", got[2].ID)
}
