package cache

import (
	"context"
	"errors"

	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
)

// HandleEvent turns a push event into invalidations of the keys it names.
// Push only accelerates what the poller would do, so a dropped event costs
// at most one poll interval.
func (c *Cache) HandleEvent(ctx context.Context, event trailclient.Event) error {
	switch event.Type {
	case trailclient.EventMessageNew:
		room, err := trailclient.ParseRoom(event.Room)
		if err != nil {
			return err
		}
		return c.invalidateRoom(ctx, room)

	case trailclient.EventMessageDeleted:
		deleted, err := event.DeletedMessage()
		if err != nil {
			return err
		}
		roomKey := deleted.Room
		if roomKey == "" {
			roomKey = event.Room
		}
		room, err := trailclient.ParseRoom(roomKey)
		if err != nil {
			return err
		}
		c.Update(MessagesKey(room), func(current any) any {
			return withoutMessage(current, deleted.MessageID)
		})
		if room.Kind == trailclient.RoomKindConversation {
			return errors.Join(
				c.Invalidate(ctx, KeyConversations),
				c.Invalidate(ctx, KeyConversationUnreadCount),
			)
		}
		return nil

	case trailclient.EventConversationDeleted:
		conversationID, err := event.DeletedConversationID()
		if err != nil {
			return err
		}
		c.Release(MessagesKey(trailclient.ConversationRoom(conversationID)))
		return errors.Join(
			c.Invalidate(ctx, KeyConversations),
			c.Invalidate(ctx, KeyConversationUnreadCount),
		)

	case trailclient.EventNotification:
		return c.Invalidate(ctx, KeyNotifications)

	case trailclient.EventConnected:
		// Events missed while disconnected are recovered by refetching
		// everything held.
		var errs []error
		for _, key := range c.Held() {
			errs = append(errs, c.Refetch(ctx, key))
		}
		return errors.Join(errs...)
	}
	return nil
}

func (c *Cache) invalidateRoom(ctx context.Context, room trailclient.Room) error {
	err := c.Invalidate(ctx, MessagesKey(room))
	if room.Kind != trailclient.RoomKindConversation {
		return err
	}
	return errors.Join(
		err,
		c.Invalidate(ctx, KeyConversations),
		c.Invalidate(ctx, KeyConversationUnreadCount),
	)
}

func withoutMessage(current any, messageID int64) any {
	messages, ok := current.([]trailclient.Message)
	if !ok {
		return current
	}
	out := make([]trailclient.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID != messageID {
			out = append(out, m)
		}
	}
	return out
}
