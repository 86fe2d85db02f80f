package models

import "time"

const (
	NotificationKindNewMessage = "new_message"
	NotificationKindOther      = "other"
)

type Notification struct {
	ID             int64      `json:"id"`
	RecipientID    int64      `json:"recipient_id"`
	Kind           string     `json:"kind"`
	ConversationID int64      `json:"conversation_id,omitempty"`
	GroupID        int64      `json:"group_id,omitempty"`
	MessageID      int64      `json:"message_id,omitempty"`
	SenderID       int64      `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	Excerpt        string     `json:"excerpt"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}
