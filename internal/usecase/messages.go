package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"negotiation-chat/internal/changefeed"
	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/relay"
)

const defaultProvisionalWindow = 30 * time.Second

// Delivery sources, used as the duplicate metric label.
const (
	sourceChangeFeed = "change_feed"
	sourceRelay      = "relay"
	sourceHistory    = "history"
)

type MessageService struct {
	store   MessageStore
	bridge  *Bridge
	feed    changefeed.Feed
	relay   relay.Subscriber
	window  time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type MessageOption func(*MessageService)

// WithProvisionalWindow sets how far apart in time a provisional echo and its
// stored row may be and still be treated as the same message.
func WithProvisionalWindow(d time.Duration) MessageOption {
	return func(s *MessageService) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewMessageService wires the coordinator. sub may be nil, in which case
// subscriptions only follow the change feed.
func NewMessageService(store MessageStore, bridge *Bridge, feed changefeed.Feed, sub relay.Subscriber, log zerolog.Logger, m *metrics.Metrics, opts ...MessageOption) (*MessageService, error) {
	if store == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if feed == nil {
		return nil, errors.New("usecase: change feed must not be nil")
	}
	s := &MessageService{
		store:   store,
		bridge:  bridge,
		feed:    feed,
		relay:   sub,
		window:  defaultProvisionalWindow,
		log:     log.With().Str("component", "messages").Logger(),
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type SendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachment     *domain.Attachment
	// AttachmentMIME is the client-reported type, used only when the
	// attachment name has no known extension.
	AttachmentMIME string
	ReplyTo        string
	// ClientRef is echoed onto the stored row; see domain.Message.
	ClientRef string
}

// Send persists one message and returns the stored row. The relay publish
// that follows is fire-and-forget.
func (s *MessageService) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	senderID := strings.TrimSpace(in.SenderID)
	if conversationID == "" || senderID == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "missing_message_ids", nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && in.Attachment == nil {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	var attachment *domain.Attachment
	if in.Attachment != nil {
		a := *in.Attachment
		if strings.TrimSpace(a.URL) == "" {
			return domain.Message{}, newError(ErrorInvalidInput, "missing_attachment_url", nil)
		}
		if a.Size < 0 {
			return domain.Message{}, newError(ErrorInvalidInput, "invalid_attachment_size", nil)
		}
		if a.Type == "" {
			a.Type = ClassifyAttachment(a.Name, in.AttachmentMIME)
		}
		attachment = &a
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Message{}, storeError(err, "conversation")
	}
	if conv.Blocked() {
		return domain.Message{}, newError(ErrorBlocked, "conversation_blocked", nil)
	}

	msg := domain.Message{
		ID:             newUUID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachment:     attachment,
		CreatedAt:      now(),
		ReplyTo:        strings.TrimSpace(in.ReplyTo),
		ClientRef:      strings.TrimSpace(in.ClientRef),
	}
	if conv.TemporaryHours != nil && *conv.TemporaryHours > 0 {
		msg.TTL = msg.CreatedAt.Add(time.Duration(*conv.TemporaryHours) * time.Hour).Unix()
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return domain.Message{}, storeError(err, "message_write")
	}
	s.log.Debug().Str("conversation_id", conversationID).Str("message_id", msg.ID).Msg("message stored")
	s.bridge.PublishMessage(ctx, msg)
	return msg, nil
}

// ListMessages returns the stored history in canonical order.
func (s *MessageService) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorPersistence, "message_list_error", err)
	}
	return msgs, nil
}

// MarkRead stamps every unread message not sent by readerID and returns how
// many were newly marked. A second call marks nothing.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	conversationID = strings.TrimSpace(conversationID)
	readerID = strings.TrimSpace(readerID)
	if conversationID == "" || readerID == "" {
		return 0, newError(ErrorInvalidInput, "missing_read_ids", nil)
	}
	n, err := s.store.MarkRead(ctx, conversationID, readerID, now())
	if err != nil {
		return 0, storeError(err, "conversation")
	}
	return n, nil
}

// Subscribe follows a conversation over the change feed and the push relay at
// once and reports the merged timeline to onChange whenever it changes.
// onChange runs serialised and must not call Close.
//
// Both feeds are attached before history is loaded, so a message stored in
// between is seen at least once. A relay that cannot be reached is logged and
// skipped.
func (s *MessageService) Subscribe(ctx context.Context, conversationID string, onChange func([]domain.Message)) (*MessageSubscription, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if onChange == nil {
		return nil, newError(ErrorInvalidInput, "missing_callback", nil)
	}

	sub := &MessageSubscription{
		conversationID: conversationID,
		timeline:       NewTimeline(s.window),
		onChange:       onChange,
		log:            s.log.With().Str("conversation_id", conversationID).Logger(),
		metrics:        s.metrics,
	}

	feedSub, err := s.feed.Subscribe(ctx, changefeed.Filter{
		Table:          domain.TableMessages,
		ConversationID: conversationID,
		Ops:            []domain.ChangeOp{domain.OpInsert, domain.OpUpdate},
	}, sub.onChangeEvent)
	if err != nil {
		return nil, newError(ErrorPersistence, "change_feed_subscribe_error", err)
	}
	sub.feedSub = feedSub

	if s.relay != nil {
		relaySub, err := s.relay.Subscribe(ctx, relay.ConversationTopic(conversationID), sub.onRelayEvent)
		if err != nil {
			s.log.Warn().
				Err(newError(ErrorRelayUnavailable, "relay_subscribe_error", err)).
				Str("conversation_id", conversationID).
				Msg("continuing on change feed only")
		} else {
			sub.relaySub = relaySub
		}
	}

	// History may be older than what the feed already delivered; the
	// timeline never lets a stored row move a message backwards.
	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		_ = sub.Close()
		return nil, newError(ErrorPersistence, "message_list_error", err)
	}
	sub.deliver(sourceHistory, true, history...)
	return sub, nil
}

// MessageSubscription is a live view of one conversation. It must be closed
// when the view goes away; events that race with Close are dropped.
type MessageSubscription struct {
	conversationID string
	timeline       *Timeline
	onChange       func([]domain.Message)
	log            zerolog.Logger
	metrics        *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	feedSub  changefeed.Subscription
	relaySub relay.Subscription
}

// Messages returns the current merged view.
func (s *MessageSubscription) Messages() []domain.Message {
	return s.timeline.Messages()
}

// AddProvisional inserts a local echo that has no id yet, such as a message
// shown before Send returns. Give it the ClientRef passed to Send so that
// repeated identical texts stay distinct.
func (s *MessageSubscription) AddProvisional(msg domain.Message) {
	msg.ID = ""
	msg.ConversationID = s.conversationID
	s.deliver(sourceRelay, false, msg)
}

func (s *MessageSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feedSub, relaySub := s.feedSub, s.relaySub
	s.mu.Unlock()

	var errs []error
	if feedSub != nil {
		errs = append(errs, feedSub.Close())
	}
	if relaySub != nil {
		errs = append(errs, relaySub.Close())
	}
	return errors.Join(errs...)
}

func (s *MessageSubscription) onChangeEvent(ev domain.ChangeEvent) {
	if ev.Message == nil {
		return
	}
	s.deliver(sourceChangeFeed, true, *ev.Message)
}

func (s *MessageSubscription) onRelayEvent(ev relay.Event) {
	if ev.Name != relay.EventNewMessage {
		return
	}
	var msg domain.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed relay message")
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = s.conversationID
	}
	if msg.ConversationID != s.conversationID {
		return
	}
	s.deliver(sourceRelay, false, msg)
}

func (s *MessageSubscription) deliver(source string, authoritative bool, msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	changed := false
	for _, msg := range msgs {
		switch out := s.timeline.Add(msg, authoritative); out {
		case Duplicate:
			s.metrics.Duplicate(source)
		case Superseded:
			s.metrics.Superseded()
			changed = true
		default:
			changed = changed || out.Changed()
		}
	}
	if changed {
		s.onChange(s.timeline.Messages())
	}
}
