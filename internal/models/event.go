package models

const (
	EventConnected           = "connected"
	EventMessageNew          = "message:new"
	EventMessageDeleted      = "message:deleted"
	EventConversationDeleted = "conversation:deleted"
	EventNotification        = "notification"
	EventPong                = "pong"
	EventError               = "error"
)

// Event is a transient push emitted after a confirmed write.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type MessageDeletedData struct {
	Room      string `json:"room"`
	MessageID int64  `json:"message_id"`
}

type ConversationDeletedData struct {
	ConversationID int64 `json:"conversation_id"`
}

type ConnectedData struct {
	ConnID string   `json:"conn_id"`
	UserID int64    `json:"user_id"`
	Rooms  []string `json:"rooms"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
