package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type RoomKind string

const (
	RoomKindConversation RoomKind = "conversation"
	RoomKindGroup        RoomKind = "group"
)

var ErrInvalidRoomKey = errors.New("invalid room key")

// RoomID names a broadcast room. Conversation and group ids share a numeric
// space, so the kind is part of the key.
type RoomID struct {
	Kind RoomKind
	ID   int64
}

func ConversationRoom(id int64) RoomID {
	return RoomID{Kind: RoomKindConversation, ID: id}
}

func GroupRoom(id int64) RoomID {
	return RoomID{Kind: RoomKindGroup, ID: id}
}

func (r RoomID) Key() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

func (r RoomID) String() string {
	return r.Key()
}

func (r RoomID) Valid() bool {
	return (r.Kind == RoomKindConversation || r.Kind == RoomKindGroup) && r.ID > 0
}

func ParseRoomKey(key string) (RoomID, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok {
		return RoomID{}, fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return RoomID{}, fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
	}
	room := RoomID{Kind: RoomKind(kind), ID: id}
	if !room.Valid() {
		return RoomID{}, fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
	}
	return room, nil
}
