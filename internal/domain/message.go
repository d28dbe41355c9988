package domain

import "time"

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
)

// Attachment describes a file already stored in the blob store.
type Attachment struct {
	URL  string         `json:"url"`
	Type AttachmentType `json:"type"`
	Name string         `json:"name"`
	Size int64          `json:"size"`
}

// Message is a single chat entry. ID is empty for provisional echoes that
// have not been acknowledged by the store yet. ClientRef is an optional
// sender-chosen token carried by both the echo and the stored row so the two
// can be paired exactly.
type Message struct {
	ID             string      `json:"id,omitempty"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Edited         bool        `json:"edited"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	ReplyTo        string      `json:"reply_to,omitempty"`
	ClientRef      string      `json:"client_ref,omitempty"`
	Reactions      []string    `json:"reactions,omitempty"`
	TTL            int64       `json:"-"`
}

// Provisional reports whether the message lacks a store-assigned id.
func (m Message) Provisional() bool {
	return m.ID == ""
}

// Before reports whether m sorts before o in canonical order: creation time,
// then id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// TypingStatus is the per-user typing flag within a conversation.
type TypingStatus struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}
