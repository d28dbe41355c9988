package domain

import "time"

// Role is the participant role of a user in a negotiation.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleProvider
}

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is the negotiation thread between one customer and at most one
// provider. An empty ProviderID means the conversation is unclaimed.
type Conversation struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	ProviderID string             `json:"provider_id,omitempty"`
	ProductID  string             `json:"product_id,omitempty"`
	Status     ConversationStatus `json:"status"`
	Pinned     bool               `json:"pinned"`
	MutedUntil *time.Time         `json:"muted_until,omitempty"`
	Archived   bool               `json:"archived"`
	// UnreadCount is the number of messages not yet read by their recipient,
	// whichever participant that is. Clients showing a per-viewer badge count
	// the unread messages not sent by the viewer.
	UnreadCount    int  `json:"unread_count"`
	TemporaryHours *int `json:"temporary_messages_duration,omitempty"`
	// BlockedBy lists the participants who blocked the conversation. While
	// it is non-empty nobody can post to it.
	BlockedBy []string  `json:"blocked_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimed reports whether a provider has been attached.
func (c Conversation) Claimed() bool {
	return c.ProviderID != ""
}

func (c Conversation) Blocked() bool {
	return len(c.BlockedBy) > 0
}

// Participant reports whether userID is the customer or the claiming provider.
func (c Conversation) Participant(userID string) bool {
	return userID != "" && (userID == c.CustomerID || userID == c.ProviderID)
}

// ConversationSettings is a partial update of the participant-controlled flags.
// Nil fields are left untouched. ClearMute removes MutedUntil.
type ConversationSettings struct {
	Pinned         *bool      `json:"pinned,omitempty"`
	MutedUntil     *time.Time `json:"muted_until,omitempty"`
	ClearMute      bool       `json:"clear_mute,omitempty"`
	Archived       *bool      `json:"archived,omitempty"`
	TemporaryHours *int       `json:"temporary_messages_duration,omitempty"`
}

// Empty reports whether the update carries no change.
func (s ConversationSettings) Empty() bool {
	return s.Pinned == nil && s.MutedUntil == nil && !s.ClearMute && s.Archived == nil && s.TemporaryHours == nil
}
