package trailclient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	RoomKindConversation = "conversation"
	RoomKindGroup        = "group"
)

// Room names a conversation or a group channel. Its key matches the
// server's room key, for example "conversation:12".
type Room struct {
	Kind string
	ID   int64
}

func ConversationRoom(id int64) Room { return Room{Kind: RoomKindConversation, ID: id} }
func GroupRoom(id int64) Room        { return Room{Kind: RoomKindGroup, ID: id} }

func (r Room) Key() string {
	return r.Kind + ":" + strconv.FormatInt(r.ID, 10)
}

func (r Room) String() string { return r.Key() }

func (r Room) path() string {
	if r.Kind == RoomKindGroup {
		return "/groups/" + strconv.FormatInt(r.ID, 10)
	}
	return "/conversations/" + strconv.FormatInt(r.ID, 10)
}

func (r Room) valid() bool {
	return (r.Kind == RoomKindConversation || r.Kind == RoomKindGroup) && r.ID > 0
}

var ErrInvalidRoom = errors.New("invalid room")

func ParseRoom(key string) (Room, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok {
		return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoom, key)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	room := Room{Kind: kind, ID: id}
	if err != nil || !room.valid() {
		return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoom, key)
	}
	return room, nil
}

type Conversation struct {
	ID              int64      `json:"id"`
	ParticipantAID  int64      `json:"participant_a_id"`
	ParticipantBID  int64      `json:"participant_b_id"`
	LastMessageText *string    `json:"last_message_text,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Participant struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

type ConversationSummary struct {
	Conversation
	Participant Participant `json:"participant"`
	LastMessage *Message    `json:"last_message,omitempty"`
	UnreadCount int         `json:"unread_count"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	GroupID        int64     `json:"group_id,omitempty"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	// TempID marks an optimistic copy the server has not confirmed yet.
	TempID string `json:"-"`
}

func (m *Message) Room() Room {
	if m.GroupID != 0 {
		return GroupRoom(m.GroupID)
	}
	return ConversationRoom(m.ConversationID)
}

type ReadMarker struct {
	ConversationID    int64     `json:"conversation_id"`
	UserID            int64     `json:"user_id"`
	LastReadAt        time.Time `json:"last_read_at"`
	LastReadMessageID int64     `json:"last_read_message_id"`
}

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

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Pagination    Pagination     `json:"pagination"`
}

type ConversationResult struct {
	Conversation *Conversation `json:"conversation"`
	Message      *Message      `json:"message,omitempty"`
	Created      bool          `json:"created"`
}

// ListOptions pages a list request. Zero values use the server defaults.
type ListOptions struct {
	Page  int
	Limit int
}
