package trailclient

import (
	"fmt"

	"github.com/goccy/go-json"
)

const (
	EventConnected           = "connected"
	EventMessageNew          = "message:new"
	EventMessageDeleted      = "message:deleted"
	EventConversationDeleted = "conversation:deleted"
	EventNotification        = "notification"
	EventPong                = "pong"
	EventError               = "error"
)

const (
	frameJoinConversation  = "join_conversation"
	frameLeaveConversation = "leave_conversation"
	frameSendMessage       = "message:send"
	framePing              = "ping"
)

// Event is one server push. Room is empty for personal-channel events.
type Event struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ConnectedInfo struct {
	ConnID string   `json:"conn_id"`
	UserID int64    `json:"user_id"`
	Rooms  []string `json:"rooms"`
}

type DeletedMessage struct {
	Room      string `json:"room"`
	MessageID int64  `json:"message_id"`
}

type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

func decodeEvent[T any](e Event, want string) (*T, error) {
	if e.Type != want {
		return nil, fmt.Errorf("event %q is not %q", e.Type, want)
	}
	var out T
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", want, err)
	}
	return &out, nil
}

func (e Event) Connected() (*ConnectedInfo, error) {
	return decodeEvent[ConnectedInfo](e, EventConnected)
}

func (e Event) Message() (*Message, error) {
	return decodeEvent[Message](e, EventMessageNew)
}

func (e Event) DeletedMessage() (*DeletedMessage, error) {
	return decodeEvent[DeletedMessage](e, EventMessageDeleted)
}

func (e Event) DeletedConversationID() (int64, error) {
	out, err := decodeEvent[struct {
		ConversationID int64 `json:"conversation_id"`
	}](e, EventConversationDeleted)
	if err != nil {
		return 0, err
	}
	return out.ConversationID, nil
}

func (e Event) Notification() (*Notification, error) {
	return decodeEvent[Notification](e, EventNotification)
}

func (e Event) ServerError() (*ServerError, error) {
	return decodeEvent[ServerError](e, EventError)
}

type outboundFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	Text   string `json:"text,omitempty"`
}
