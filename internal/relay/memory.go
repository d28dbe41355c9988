package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory is an in-process relay. Publish delivers synchronously to every
// subscriber of the topic.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*memorySubscription
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]*memorySubscription)}
}

func (m *Memory) Publish(_ context.Context, topic string, ev Event) error {
	m.mu.RLock()
	targets := make([]*memorySubscription, 0, len(m.subs[topic]))
	for _, s := range m.subs[topic] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		if !s.closed.Load() {
			s.fn(ev)
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string, fn func(Event)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s := &memorySubscription{id: m.nextID, topic: topic, fn: fn, owner: m}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]*memorySubscription)
	}
	m.subs[topic][s.id] = s
	return s, nil
}

// Subscribers reports how many live subscriptions topic has.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

type memorySubscription struct {
	id     int
	topic  string
	fn     func(Event)
	owner  *Memory
	closed atomic.Bool
}

func (s *memorySubscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	delete(s.owner.subs[s.topic], s.id)
	if len(s.owner.subs[s.topic]) == 0 {
		delete(s.owner.subs, s.topic)
	}
	return nil
}
