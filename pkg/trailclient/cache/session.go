package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
)

const defaultPageSize = 50

// API is the subset of trailclient.Client the session drives.
type API interface {
	ListConversations(ctx context.Context) ([]trailclient.ConversationSummary, error)
	ListMessages(ctx context.Context, room trailclient.Room, opts trailclient.ListOptions) (*trailclient.MessagePage, error)
	SendMessage(ctx context.Context, room trailclient.Room, text string) (*trailclient.Message, error)
	DeleteMessage(ctx context.Context, room trailclient.Room, messageID int64) error
	MarkAsRead(ctx context.Context, conversationID int64) (*trailclient.ReadMarker, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
	UnreadCount(ctx context.Context) (int, error)
	ListNotifications(ctx context.Context, unreadOnly bool, opts trailclient.ListOptions) (*trailclient.NotificationPage, error)
	MarkNotificationRead(ctx context.Context, notificationID int64) (*trailclient.Notification, error)
}

var _ API = (*trailclient.Client)(nil)

// Session binds the standard keys to API calls and runs user actions as
// optimistic mutations.
type Session struct {
	api      API
	cache    *Cache
	pageSize int
	now      func() time.Time
}

func NewSession(api API, cache *Cache) *Session {
	return &Session{
		api:      api,
		cache:    cache,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

func (s *Session) Cache() *Cache {
	return s.cache
}

func (s *Session) WatchConversations() {
	s.cache.Register(KeyConversations, func(ctx context.Context) (any, error) {
		return s.api.ListConversations(ctx)
	})
}

func (s *Session) WatchUnreadCount() {
	s.cache.Register(KeyConversationUnreadCount, func(ctx context.Context) (any, error) {
		return s.api.UnreadCount(ctx)
	})
}

// WatchMessages holds the newest page of room; values are newest first.
func (s *Session) WatchMessages(room trailclient.Room) Key {
	key := MessagesKey(room)
	s.cache.Register(key, func(ctx context.Context) (any, error) {
		page, err := s.api.ListMessages(ctx, room, trailclient.ListOptions{Page: 1, Limit: s.pageSize})
		if err != nil {
			return nil, err
		}
		return page.Messages, nil
	})
	return key
}

func (s *Session) WatchNotifications() {
	s.cache.Register(KeyNotifications, func(ctx context.Context) (any, error) {
		page, err := s.api.ListNotifications(ctx, false, trailclient.ListOptions{Page: 1, Limit: s.pageSize})
		if err != nil {
			return nil, err
		}
		return page.Notifications, nil
	})
}

// SendMessage shows a temporary copy at the head of the room's messages and
// swaps it for the persisted message once the server confirms it. If the
// message:new push already brought the persisted copy, the temporary one is
// just dropped.
func (s *Session) SendMessage(ctx context.Context, room trailclient.Room, senderID int64, text string) (*trailclient.Message, error) {
	temp := trailclient.Message{
		SenderID:  senderID,
		Content:   text,
		CreatedAt: s.now().UTC(),
		TempID:    uuid.NewString(),
	}
	if room.Kind == trailclient.RoomKindGroup {
		temp.GroupID = room.ID
	} else {
		temp.ConversationID = room.ID
	}

	invalidate := []Key(nil)
	if room.Kind == trailclient.RoomKindConversation {
		invalidate = []Key{KeyConversations}
	}
	result, err := s.cache.Mutate(ctx, Mutation{
		Key: MessagesKey(room),
		Apply: func(current any) any {
			messages, _ := current.([]trailclient.Message)
			return append([]trailclient.Message{temp}, messages...)
		},
		Commit: func(ctx context.Context) (any, error) {
			return s.api.SendMessage(ctx, room, text)
		},
		Reconcile: func(current any, result any) any {
			persisted, ok := result.(*trailclient.Message)
			messages, _ := current.([]trailclient.Message)
			if !ok || persisted == nil {
				return current
			}
			return replaceTemp(messages, temp.TempID, *persisted)
		},
		Invalidate: invalidate,
	})
	if err != nil {
		return nil, err
	}
	message, _ := result.(*trailclient.Message)
	return message, nil
}

func (s *Session) DeleteMessage(ctx context.Context, room trailclient.Room, messageID int64) error {
	_, err := s.cache.Mutate(ctx, Mutation{
		Key: MessagesKey(room),
		Apply: func(current any) any {
			return withoutMessage(current, messageID)
		},
		Commit: func(ctx context.Context) (any, error) {
			return nil, s.api.DeleteMessage(ctx, room, messageID)
		},
	})
	return err
}

// MarkAsRead zeroes the conversation's unread count in the list right away.
func (s *Session) MarkAsRead(ctx context.Context, conversationID int64) error {
	_, err := s.cache.Mutate(ctx, Mutation{
		Key: KeyConversations,
		Apply: func(current any) any {
			conversations, ok := current.([]trailclient.ConversationSummary)
			if !ok {
				return current
			}
			out := make([]trailclient.ConversationSummary, len(conversations))
			copy(out, conversations)
			for i := range out {
				if out[i].ID == conversationID {
					out[i].UnreadCount = 0
				}
			}
			return out
		},
		Commit: func(ctx context.Context) (any, error) {
			return s.api.MarkAsRead(ctx, conversationID)
		},
		Invalidate: []Key{KeyConversationUnreadCount, KeyNotifications},
	})
	return err
}

func (s *Session) DeleteConversation(ctx context.Context, conversationID int64) error {
	_, err := s.cache.Mutate(ctx, Mutation{
		Key: KeyConversations,
		Apply: func(current any) any {
			conversations, ok := current.([]trailclient.ConversationSummary)
			if !ok {
				return current
			}
			out := make([]trailclient.ConversationSummary, 0, len(conversations))
			for _, conversation := range conversations {
				if conversation.ID != conversationID {
					out = append(out, conversation)
				}
			}
			return out
		},
		Commit: func(ctx context.Context) (any, error) {
			return nil, s.api.DeleteConversation(ctx, conversationID)
		},
		Invalidate: []Key{KeyConversationUnreadCount},
	})
	if err == nil {
		s.cache.Release(MessagesKey(trailclient.ConversationRoom(conversationID)))
	}
	return err
}

func (s *Session) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	_, err := s.cache.Mutate(ctx, Mutation{
		Key: KeyNotifications,
		Apply: func(current any) any {
			notifications, ok := current.([]trailclient.Notification)
			if !ok {
				return current
			}
			out := make([]trailclient.Notification, len(notifications))
			copy(out, notifications)
			for i := range out {
				if out[i].ID == notificationID {
					out[i].IsRead = true
				}
			}
			return out
		},
		Commit: func(ctx context.Context) (any, error) {
			return s.api.MarkNotificationRead(ctx, notificationID)
		},
	})
	return err
}

func replaceTemp(messages []trailclient.Message, tempID string, persisted trailclient.Message) []trailclient.Message {
	out := make([]trailclient.Message, 0, len(messages))
	seen := false
	for _, m := range messages {
		if m.ID == persisted.ID && m.TempID == "" {
			seen = true
			break
		}
	}
	for _, m := range messages {
		if m.TempID == tempID {
			if !seen {
				out = append(out, persisted)
				seen = true
			}
			continue
		}
		out = append(out, m)
	}
	return out
}
