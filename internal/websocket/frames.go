package chatws

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
)

const (
	FrameJoinConversation  = "join_conversation"
	FrameLeaveConversation = "leave_conversation"
	FrameSendMessage       = "message:send"
	FramePing              = "ping"
)

const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeInvalid         = "invalid"
	CodeNotFound        = "not_found"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// Frame is the server to client wire shape. Room is empty for events sent
// on a user's personal channel.
type Frame struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Data any    `json:"data,omitempty"`
}

type inboundFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

func encodeFrame(room string, event models.Event) ([]byte, error) {
	return json.Marshal(Frame{Type: event.Type, Room: room, Data: event.Data})
}

func errorFrame(code, message string) []byte {
	payload, err := encodeFrame("", models.Event{
		Type: models.EventError,
		Data: models.ErrorData{Code: code, Message: message},
	})
	if err != nil {
		return []byte(`{"type":"error","data":{"code":"internal","message":"encode failure"}}`)
	}
	return payload
}

func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return CodeUnauthenticated, "authentication required"
	case errors.Is(err, services.ErrForbidden):
		return CodeForbidden, "not a member of this room"
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, models.ErrInvalidRoomKey):
		return CodeInvalid, "invalid request"
	case errors.Is(err, services.ErrNotFound):
		return CodeNotFound, "room not found"
	default:
		return CodeInternal, "failed to process request"
	}
}
