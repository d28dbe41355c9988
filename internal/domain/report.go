package domain

import "time"

type ReportReason string

const (
	ReportSpam          ReportReason = "spam"
	ReportHarassment    ReportReason = "harassment"
	ReportInappropriate ReportReason = "inappropriate"
	ReportScam          ReportReason = "scam"
	ReportOther         ReportReason = "other"
)

func (r ReportReason) Valid() bool {
	switch r {
	case ReportSpam, ReportHarassment, ReportInappropriate, ReportScam, ReportOther:
		return true
	}
	return false
}

// Report is a participant's complaint about a conversation, kept for
// moderators. It lives and dies with the conversation.
type Report struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	ReporterID     string       `json:"reported_by"`
	Reason         ReportReason `json:"reason"`
	Description    string       `json:"description"`
	CreatedAt      time.Time    `json:"created_at"`
}
