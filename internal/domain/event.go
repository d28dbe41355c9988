package domain

// Table names the logical tables observed by the change feed.
type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableTypingStatus  Table = "typing_status"
	TableQuotes        Table = "quotes"
)

type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// ChangeEvent is one row change pushed by the change feed. Exactly one of the
// payload pointers matching Table is set.
type ChangeEvent struct {
	Table          Table         `json:"table"`
	Op             ChangeOp      `json:"op"`
	ConversationID string        `json:"conversation_id"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	Typing         *TypingStatus `json:"typing,omitempty"`
	Quote          *Quote        `json:"quote,omitempty"`
}
