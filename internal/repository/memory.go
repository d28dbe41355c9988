package repository

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"negotiation-chat/internal/domain"
)

// MemoryStore is a mutex-guarded in-process store with the same semantics as
// Client, including the conditional claim and status writes. Committed writes
// are reported to the change sink after the lock is released.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
	typing        map[string]map[string]domain.TypingStatus
	quotes        map[string]domain.Quote
	quoteItems    map[string][]domain.QuoteItem
	reports       map[string][]domain.Report
	sink          func(domain.ChangeEvent)
}

// NewMemoryStore creates an empty store. sink may be nil.
func NewMemoryStore(sink func(domain.ChangeEvent)) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		typing:        make(map[string]map[string]domain.TypingStatus),
		quotes:        make(map[string]domain.Quote),
		quoteItems:    make(map[string][]domain.QuoteItem),
		reports:       make(map[string][]domain.Report),
		sink:          sink,
	}
}

func (m *MemoryStore) emit(events ...domain.ChangeEvent) {
	if m.sink == nil {
		return
	}
	for _, ev := range events {
		m.sink(ev)
	}
}

func conversationEvent(op domain.ChangeOp, c domain.Conversation) domain.ChangeEvent {
	return domain.ChangeEvent{Table: domain.TableConversations, Op: op, ConversationID: c.ID, Conversation: &c}
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv domain.Conversation) error {
	if conv.ID == "" || conv.CustomerID == "" {
		return errors.New("repository: CreateConversation: id and customer id are required")
	}
	m.mu.Lock()
	if _, exists := m.conversations[conv.ID]; exists {
		m.mu.Unlock()
		return ErrConditionFailed
	}
	m.conversations[conv.ID] = conv
	m.mu.Unlock()

	m.emit(conversationEvent(domain.OpInsert, conv))
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, conversationID string) (domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (m *MemoryStore) ClaimConversation(_ context.Context, conversationID, providerID string, at time.Time) (domain.Conversation, error) {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return domain.Conversation{}, ErrNotFound
	}
	if conv.ProviderID != "" {
		m.mu.Unlock()
		return domain.Conversation{}, ErrConditionFailed
	}
	conv.ProviderID = providerID
	conv.UpdatedAt = at
	m.conversations[conversationID] = conv
	m.mu.Unlock()

	m.emit(conversationEvent(domain.OpUpdate, conv))
	return conv, nil
}

func (m *MemoryStore) ListConversationsByCustomer(_ context.Context, customerID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Conversation
	for _, c := range m.conversations {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (m *MemoryStore) ListAllConversations(_ context.Context) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, c)
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func sortByUpdatedDesc(convs []domain.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})
}

func (m *MemoryStore) UpdateConversationSettings(_ context.Context, conversationID string, set domain.ConversationSettings, at time.Time) (domain.Conversation, error) {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return domain.Conversation{}, ErrNotFound
	}
	if set.Empty() {
		m.mu.Unlock()
		return conv, nil
	}
	if set.Pinned != nil {
		conv.Pinned = *set.Pinned
	}
	if set.ClearMute {
		conv.MutedUntil = nil
	} else if set.MutedUntil != nil {
		mu := *set.MutedUntil
		conv.MutedUntil = &mu
	}
	if set.Archived != nil {
		conv.Archived = *set.Archived
		conv.Status = domain.ConversationActive
		if conv.Archived {
			conv.Status = domain.ConversationArchived
		}
	}
	if set.TemporaryHours != nil {
		if *set.TemporaryHours > 0 {
			h := *set.TemporaryHours
			conv.TemporaryHours = &h
		} else {
			conv.TemporaryHours = nil
		}
	}
	conv.UpdatedAt = at
	m.conversations[conversationID] = conv
	m.mu.Unlock()

	m.emit(conversationEvent(domain.OpUpdate, conv))
	return conv, nil
}

func (m *MemoryStore) SetConversationBlocked(_ context.Context, conversationID, userID string, blocked bool, at time.Time) (domain.Conversation, error) {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return domain.Conversation{}, ErrNotFound
	}
	set := slices.DeleteFunc(slices.Clone(conv.BlockedBy), func(id string) bool { return id == userID })
	if blocked {
		set = append(set, userID)
		slices.Sort(set)
	}
	if len(set) == 0 {
		set = nil
	}
	conv.BlockedBy = set
	conv.UpdatedAt = at
	m.conversations[conversationID] = conv
	m.mu.Unlock()

	m.emit(conversationEvent(domain.OpUpdate, conv))
	return conv, nil
}

func (m *MemoryStore) InsertReport(_ context.Context, r domain.Report) error {
	if r.ID == "" || r.ConversationID == "" {
		return errors.New("repository: InsertReport: id and conversation id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[r.ConversationID]; !ok {
		return ErrNotFound
	}
	m.reports[r.ConversationID] = append(m.reports[r.ConversationID], r)
	return nil
}

// Reports returns the reports filed against a conversation in filing order.
func (m *MemoryStore) Reports(conversationID string) []domain.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Report(nil), m.reports[conversationID]...)
}

func (m *MemoryStore) DeleteConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.conversations, conversationID)
	delete(m.messages, conversationID)
	delete(m.typing, conversationID)
	delete(m.reports, conversationID)
	for id, q := range m.quotes {
		if q.ConversationID == conversationID {
			delete(m.quotes, id)
			delete(m.quoteItems, id)
		}
	}
	m.mu.Unlock()

	m.emit(conversationEvent(domain.OpDelete, conv))
	return nil
}

func (m *MemoryStore) InsertMessage(_ context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("repository: InsertMessage: id and conversation id are required")
	}
	m.mu.Lock()
	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	msgs := m.messages[msg.ConversationID]
	for _, existing := range msgs {
		if existing.ID == msg.ID {
			m.mu.Unlock()
			return ErrConditionFailed
		}
	}
	idx := sort.Search(len(msgs), func(i int) bool { return msg.Before(msgs[i]) })
	msgs = append(msgs, domain.Message{})
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = msg
	m.messages[msg.ConversationID] = msgs

	conv.UnreadCount++
	conv.UpdatedAt = msg.CreatedAt
	m.conversations[conv.ID] = conv
	m.mu.Unlock()

	m.emit(
		domain.ChangeEvent{Table: domain.TableMessages, Op: domain.OpInsert, ConversationID: msg.ConversationID, Message: &msg},
		conversationEvent(domain.OpUpdate, conv),
	)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages[conversationID]...), nil
}

func (m *MemoryStore) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) (int, error) {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return 0, ErrNotFound
	}
	var updated []domain.ChangeEvent
	msgs := m.messages[conversationID]
	for i := range msgs {
		if msgs[i].ReadAt != nil || msgs[i].SenderID == readerID {
			continue
		}
		readAt := at
		msgs[i].ReadAt = &readAt
		msg := msgs[i]
		updated = append(updated, domain.ChangeEvent{Table: domain.TableMessages, Op: domain.OpUpdate, ConversationID: conversationID, Message: &msg})
	}
	conv.UnreadCount = max(conv.UnreadCount-len(updated), 0)
	m.conversations[conversationID] = conv
	m.mu.Unlock()

	m.emit(updated...)
	return len(updated), nil
}

func (m *MemoryStore) UpsertTyping(_ context.Context, status domain.TypingStatus) error {
	if status.ConversationID == "" || status.UserID == "" {
		return errors.New("repository: UpsertTyping: conversation id and user id are required")
	}
	m.mu.Lock()
	rows, ok := m.typing[status.ConversationID]
	if !ok {
		rows = make(map[string]domain.TypingStatus)
		m.typing[status.ConversationID] = rows
	}
	op := domain.OpUpdate
	if _, exists := rows[status.UserID]; !exists {
		op = domain.OpInsert
	}
	rows[status.UserID] = status
	m.mu.Unlock()

	m.emit(domain.ChangeEvent{Table: domain.TableTypingStatus, Op: op, ConversationID: status.ConversationID, Typing: &status})
	return nil
}

func (m *MemoryStore) ListTyping(_ context.Context, conversationID string) ([]domain.TypingStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TypingStatus, 0, len(m.typing[conversationID]))
	for _, t := range m.typing[conversationID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) CreateQuote(_ context.Context, q domain.Quote, items []domain.QuoteItem) error {
	if q.ID == "" || q.ConversationID == "" {
		return errors.New("repository: CreateQuote: id and conversation id are required")
	}
	m.mu.Lock()
	if _, exists := m.quotes[q.ID]; exists {
		m.mu.Unlock()
		return ErrConditionFailed
	}
	q.Items = nil
	m.quotes[q.ID] = q
	m.quoteItems[q.ID] = append([]domain.QuoteItem(nil), items...)
	m.mu.Unlock()

	m.emit(domain.ChangeEvent{Table: domain.TableQuotes, Op: domain.OpInsert, ConversationID: q.ConversationID, Quote: &q})
	return nil
}

func (m *MemoryStore) GetQuote(_ context.Context, quoteID string) (domain.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[quoteID]
	if !ok {
		return domain.Quote{}, ErrNotFound
	}
	return q, nil
}

func (m *MemoryStore) UpdateQuoteStatus(_ context.Context, quoteID string, from, to domain.QuoteStatus, at time.Time) (domain.Quote, error) {
	m.mu.Lock()
	q, ok := m.quotes[quoteID]
	if !ok {
		m.mu.Unlock()
		return domain.Quote{}, ErrNotFound
	}
	if q.Status != from {
		m.mu.Unlock()
		return domain.Quote{}, ErrConditionFailed
	}
	q.Status = to
	q.UpdatedAt = at
	m.quotes[quoteID] = q
	m.mu.Unlock()

	m.emit(domain.ChangeEvent{Table: domain.TableQuotes, Op: domain.OpUpdate, ConversationID: q.ConversationID, Quote: &q})
	return q, nil
}

func (m *MemoryStore) ListQuotes(_ context.Context, conversationID string) ([]domain.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Quote
	for _, q := range m.quotes {
		if q.ConversationID == conversationID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListQuoteItems(_ context.Context, quoteID string) ([]domain.QuoteItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.QuoteItem(nil), m.quoteItems[quoteID]...), nil
}
