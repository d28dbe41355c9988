package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	"negotiation-chat/internal/domain"
)

// Hub is an in-process feed. Dispatch delivers synchronously on the caller's
// goroutine, which makes it usable as a repository.MemoryStore sink.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*hubSubscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*hubSubscription)}
}

func (h *Hub) Subscribe(_ context.Context, f Filter, fn func(domain.ChangeEvent)) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &hubSubscription{id: h.nextID, filter: f, fn: fn, hub: h}
	h.subs[s.id] = s
	return s, nil
}

func (h *Hub) Publish(_ context.Context, ev domain.ChangeEvent) error {
	h.Dispatch(ev)
	return nil
}

func (h *Hub) Dispatch(ev domain.ChangeEvent) {
	h.mu.RLock()
	targets := make([]*hubSubscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.Match(ev) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.closed.Load() {
			s.fn(ev)
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type hubSubscription struct {
	id     int
	filter Filter
	fn     func(domain.ChangeEvent)
	hub    *Hub
	closed atomic.Bool
}

func (s *hubSubscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	return nil
}
