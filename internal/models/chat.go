package models

import "time"

type Conversation struct {
	ID              int64      `json:"id"`
	ParticipantAID  int64      `json:"participant_a_id"`
	ParticipantBID  int64      `json:"participant_b_id"`
	LastMessageText *string    `json:"last_message_text,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID int64) bool {
	return c != nil && (c.ParticipantAID == userID || c.ParticipantBID == userID)
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID int64) int64 {
	if c.ParticipantAID == userID {
		return c.ParticipantBID
	}
	return c.ParticipantAID
}

func (c *Conversation) Room() RoomID {
	return ConversationRoom(c.ID)
}

// ChatMessage belongs to exactly one of a conversation or a group channel.
type ChatMessage struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id,omitempty"`
	GroupID        int64      `json:"group_id,omitempty"`
	SenderID       int64      `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"-"`
}

func (m *ChatMessage) Room() RoomID {
	if m.GroupID != 0 {
		return GroupRoom(m.GroupID)
	}
	return ConversationRoom(m.ConversationID)
}

func (m *ChatMessage) Deleted() bool {
	return m.DeletedAt != nil
}

type ParticipantSummary struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

type ConversationSummary struct {
	Conversation
	Participant ParticipantSummary `json:"participant"`
	LastMessage *ChatMessage       `json:"last_message,omitempty"`
	UnreadCount int                `json:"unread_count"`
}

type ReadMarker struct {
	ConversationID    int64     `json:"conversation_id"`
	UserID            int64     `json:"user_id"`
	LastReadAt        time.Time `json:"last_read_at"`
	LastReadMessageID int64     `json:"last_read_message_id"`
}
