package cache

import (
	"strconv"
	"strings"

	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
)

// Key names one cached resource.
type Key string

const (
	KeyConversations           Key = "conversations"
	KeyConversationUnreadCount Key = "conversations/unread-count"
	KeyNotifications           Key = "notifications"
)

// MessagesKey is "conversations/<id>/messages" or "groups/<id>/messages".
func MessagesKey(room trailclient.Room) Key {
	prefix := "conversations/"
	if room.Kind == trailclient.RoomKindGroup {
		prefix = "groups/"
	}
	return Key(prefix + strconv.FormatInt(room.ID, 10) + "/messages")
}

// MessagesRoom reverses MessagesKey.
func MessagesRoom(key Key) (trailclient.Room, bool) {
	kind, rest, ok := strings.Cut(string(key), "/")
	if !ok {
		return trailclient.Room{}, false
	}
	rawID, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "messages" {
		return trailclient.Room{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return trailclient.Room{}, false
	}
	switch kind {
	case "conversations":
		return trailclient.ConversationRoom(id), true
	case "groups":
		return trailclient.GroupRoom(id), true
	default:
		return trailclient.Room{}, false
	}
}
