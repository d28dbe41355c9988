package usecase

import (
	"sort"
	"sync"
	"time"

	"negotiation-chat/internal/domain"
)

// Outcome reports what Timeline.Add did with a delivery.
type Outcome int

const (
	// Duplicate deliveries change nothing.
	Duplicate Outcome = iota
	Added
	Updated
	// Superseded means a keyed message replaced a provisional entry.
	Superseded
)

func (o Outcome) Changed() bool {
	return o != Duplicate
}

// Timeline merges message deliveries from several transports into one
// ordered, duplicate-free view. Keyed messages are deduplicated by id.
// Provisional messages (no id) are kept in a side list until the matching
// keyed message arrives: the one with the same ClientRef when both carry one,
// otherwise the one with the same sender and content created within window.
// A provisional entry that never finds a match stays visible.
type Timeline struct {
	mu          sync.Mutex
	window      time.Duration
	keyed       map[string]domain.Message
	provisional []domain.Message
}

func NewTimeline(window time.Duration) *Timeline {
	return &Timeline{window: window, keyed: make(map[string]domain.Message)}
}

// Add merges msg. authoritative marks deliveries of the stored row; only
// those may overwrite an existing keyed entry, so a lighter relay echo that
// arrives late never replaces fresher state such as read_at. Stored rows
// only move forward: a delivery that would clear read_at or the edited flag
// is an older copy and is dropped.
func (t *Timeline) Add(msg domain.Message, authoritative bool) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.Provisional() {
		if t.matchKeyed(msg) || t.matchProvisional(msg) >= 0 {
			return Duplicate
		}
		t.provisional = append(t.provisional, msg)
		return Added
	}

	if existing, ok := t.keyed[msg.ID]; ok {
		if !authoritative || sameState(existing, msg) || olderThan(msg, existing) {
			return Duplicate
		}
		t.keyed[msg.ID] = msg
		return Updated
	}

	t.keyed[msg.ID] = msg
	if i := t.matchProvisional(msg); i >= 0 {
		t.provisional = append(t.provisional[:i], t.provisional[i+1:]...)
		return Superseded
	}
	return Added
}

// Messages returns the merged view in (created_at, id) order.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Message, 0, len(t.keyed)+len(t.provisional))
	for _, m := range t.keyed {
		out = append(out, m)
	}
	out = append(out, t.provisional...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keyed) + len(t.provisional)
}

func (t *Timeline) matchProvisional(msg domain.Message) int {
	for i, p := range t.provisional {
		if t.matches(p, msg) {
			return i
		}
	}
	return -1
}

func (t *Timeline) matchKeyed(p domain.Message) bool {
	for _, m := range t.keyed {
		if t.matches(p, m) {
			return true
		}
	}
	return false
}

func (t *Timeline) matches(a, b domain.Message) bool {
	if a.ClientRef != "" && b.ClientRef != "" {
		return a.ClientRef == b.ClientRef
	}
	if a.SenderID != b.SenderID || a.Content != b.Content || attachmentURL(a) != attachmentURL(b) {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= t.window
}

func attachmentURL(m domain.Message) string {
	if m.Attachment == nil {
		return ""
	}
	return m.Attachment.URL
}

// olderThan reports whether a is an earlier copy of the row b.
func olderThan(a, b domain.Message) bool {
	return (a.ReadAt == nil && b.ReadAt != nil) || (!a.Edited && b.Edited)
}

func sameState(a, b domain.Message) bool {
	if a.Content != b.Content || a.Edited != b.Edited {
		return false
	}
	switch {
	case a.ReadAt == nil && b.ReadAt == nil:
		return true
	case a.ReadAt == nil || b.ReadAt == nil:
		return false
	default:
		return a.ReadAt.Equal(*b.ReadAt)
	}
}
