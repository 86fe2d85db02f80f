package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/metrics"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/repository"
)

const DefaultMaxMessageLength = 4000

// ChatService is the message dispatcher: it validates and persists writes,
// then publishes the confirmed state to live sessions.
type ChatService struct {
	store            repository.Store
	membership       *MembershipService
	notifications    *NotificationService
	broadcaster      Broadcaster
	locks            *roomLocks
	maxMessageLength int
	now              func() time.Time
}

type ChatDelivery struct {
	Room         models.RoomID
	Message      *models.ChatMessage
	RecipientIDs []int64
}

type ConversationResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Message      *models.ChatMessage  `json:"message,omitempty"`
	Created      bool                 `json:"created"`
}

func NewChatService(
	store repository.Store,
	membership *MembershipService,
	notifications *NotificationService,
	broadcaster Broadcaster,
	maxMessageLength int,
) *ChatService {
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &ChatService{
		store:            store,
		membership:       membership,
		notifications:    notifications,
		broadcaster:      broadcaster,
		locks:            newRoomLocks(),
		maxMessageLength: maxMessageLength,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) ListConversations(ctx context.Context, actorID int64) ([]models.ConversationSummary, error) {
	if actorID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.store.Conversations().ListForParticipant(ctx, actorID)
}

// CreateConversation returns the conversation between the actor and
// recipient, creating it on first contact. A non-empty initialMessage is
// sent through the normal dispatch path.
func (s *ChatService) CreateConversation(
	ctx context.Context,
	actorID int64,
	recipientID int64,
	initialMessage string,
) (*ConversationResult, error) {
	if actorID <= 0 || recipientID <= 0 || recipientID == actorID {
		return nil, ErrInvalidInput
	}

	if _, err := s.store.Users().GetByID(ctx, recipientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	conversation, created, err := s.store.Conversations().CreateOrGet(ctx, actorID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	room := conversation.Room()
	s.broadcaster.JoinUser(actorID, room)
	s.broadcaster.JoinUser(recipientID, room)

	result := &ConversationResult{Conversation: conversation, Created: created}
	if strings.TrimSpace(initialMessage) == "" {
		return result, nil
	}

	delivery, err := s.SendMessage(ctx, actorID, room, initialMessage)
	if err != nil {
		return nil, err
	}
	result.Message = delivery.Message

	refreshed, err := s.store.Conversations().GetByID(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	result.Conversation = refreshed
	return result, nil
}

// ListMessages returns live messages newest first.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	room models.RoomID,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	if _, err := s.membership.Authorize(ctx, actorID, room); err != nil {
		return nil, 0, err
	}

	return s.store.Messages().ListByRoom(ctx, room, limit, (page-1)*limit)
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	room models.RoomID,
	content string,
) (*ChatDelivery, error) {
	if !room.Valid() {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > s.maxMessageLength {
		return nil, ErrInvalidInput
	}

	access, err := s.membership.Authorize(ctx, actorID, room)
	if err != nil {
		return nil, err
	}

	members, err := s.membership.Members(ctx, access)
	if err != nil {
		return nil, err
	}
	recipients := lo.Without(members, actorID)

	message, err := s.persistAndPublish(ctx, actorID, room, trimmed)
	if err != nil {
		return nil, err
	}

	if s.notifications != nil {
		if err := s.notifications.FanOut(ctx, message, recipients); err != nil {
			logging.Warn().
				Err(err).
				Str("room", room.Key()).
				Int64("message_id", message.ID).
				Msg("notification fan-out incomplete")
		}
	}

	return &ChatDelivery{
		Room:         room,
		Message:      message,
		RecipientIDs: recipients,
	}, nil
}

// inRoom runs fn under the room lock of this process and of the store, so
// every instance sharing the database publishes a room's events in the
// order they were persisted.
func (s *ChatService) inRoom(ctx context.Context, room models.RoomID, fn func(repository.Store) error) error {
	unlock := s.locks.lock(room.Key())
	defer unlock()
	return s.store.LockRoom(ctx, room.Key(), fn)
}

// persistAndPublish holds the room lock from the insert until the event is
// published, so publish order equals persisted id order within the room.
func (s *ChatService) persistAndPublish(
	ctx context.Context,
	actorID int64,
	room models.RoomID,
	content string,
) (*models.ChatMessage, error) {
	started := time.Now()

	var message *models.ChatMessage
	err := s.inRoom(ctx, room, func(locked repository.Store) error {
		err := locked.InTx(ctx, func(tx repository.Store) error {
			created, err := tx.Messages().Create(ctx, room, actorID, content)
			if err != nil {
				return fmt.Errorf("create message: %w", err)
			}
			if room.Kind == models.RoomKindConversation {
				if err := tx.Conversations().UpdateLastMessage(ctx, room.ID, created.Content, created.CreatedAt); err != nil {
					return fmt.Errorf("update last message: %w", err)
				}
			}
			message = created
			return nil
		})
		if err != nil {
			return err
		}

		s.broadcaster.PublishToRoom(ctx, room, models.Event{
			Type: models.EventMessageNew,
			Data: message,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordDispatch(string(room.Kind), time.Since(started))
	return message, nil
}

// DeleteMessage soft-deletes a message. The sender may always delete their
// own message; group owners, moderators and platform admins may delete any
// channel message.
func (s *ChatService) DeleteMessage(
	ctx context.Context,
	identity models.Identity,
	room models.RoomID,
	messageID int64,
) error {
	if messageID <= 0 || !room.Valid() {
		return ErrInvalidInput
	}

	access, err := s.membership.Authorize(ctx, identity.UserID, room)
	if err != nil && !(errors.Is(err, ErrForbidden) && identity.IsAdmin()) {
		return err
	}

	message, err := s.store.Messages().GetByID(ctx, room, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	allowed := message.SenderID == identity.UserID || identity.IsAdmin()
	if !allowed && room.Kind == models.RoomKindGroup {
		allowed = access.CanModerate(identity)
	}
	if !allowed {
		return ErrForbidden
	}

	err = s.inRoom(ctx, room, func(locked repository.Store) error {
		err := locked.InTx(ctx, func(tx repository.Store) error {
			if err := tx.Messages().SoftDelete(ctx, room, messageID); err != nil {
				return err
			}
			if room.Kind == models.RoomKindConversation {
				return tx.Conversations().RefreshLastMessage(ctx, room.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.broadcaster.PublishToRoom(ctx, room, models.Event{
			Type: models.EventMessageDeleted,
			Data: models.MessageDeletedData{Room: room.Key(), MessageID: messageID},
		})
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// DeleteConversation removes the conversation for both participants. There is
// no undo.
func (s *ChatService) DeleteConversation(ctx context.Context, actorID, conversationID int64) error {
	if conversationID <= 0 {
		return ErrInvalidInput
	}

	room := models.ConversationRoom(conversationID)
	if _, err := s.membership.Authorize(ctx, actorID, room); err != nil {
		return err
	}

	err := s.inRoom(ctx, room, func(locked repository.Store) error {
		if err := locked.Conversations().Delete(ctx, conversationID); err != nil {
			return err
		}

		s.broadcaster.PublishToRoom(ctx, room, models.Event{
			Type: models.EventConversationDeleted,
			Data: models.ConversationDeletedData{ConversationID: conversationID},
		})
		s.broadcaster.EvictRoom(room)
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	logging.Info().
		Int64("conversation_id", conversationID).
		Int64("user_id", actorID).
		Msg("conversation deleted")
	return nil
}

// MarkAsRead advances the caller's read marker to now and the latest message
// id. The marker never regresses, so repeated and concurrent calls are safe.
// Notifications for the conversation are marked read with it.
func (s *ChatService) MarkAsRead(ctx context.Context, actorID, conversationID int64) (*models.ReadMarker, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	room := models.ConversationRoom(conversationID)
	if _, err := s.membership.Authorize(ctx, actorID, room); err != nil {
		return nil, err
	}

	now := s.now()
	var marker *models.ReadMarker
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		latestID, err := tx.Messages().LatestID(ctx, room)
		if err != nil {
			return fmt.Errorf("latest message: %w", err)
		}

		marker, err = tx.ReadMarkers().Advance(ctx, models.ReadMarker{
			ConversationID:    conversationID,
			UserID:            actorID,
			LastReadAt:        now,
			LastReadMessageID: latestID,
		})
		if err != nil {
			return fmt.Errorf("advance read marker: %w", err)
		}

		if _, err := tx.Notifications().MarkConversationRead(ctx, actorID, conversationID, now); err != nil {
			return fmt.Errorf("mark notifications read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marker, nil
}

// UnreadCount is computed from read markers on every call.
func (s *ChatService) UnreadCount(ctx context.Context, actorID int64) (int, error) {
	if actorID <= 0 {
		return 0, ErrInvalidInput
	}
	return s.store.Conversations().UnreadTotal(ctx, actorID)
}

func (s *ChatService) ConversationUnreadCount(ctx context.Context, actorID, conversationID int64) (int, error) {
	room := models.ConversationRoom(conversationID)
	if _, err := s.membership.Authorize(ctx, actorID, room); err != nil {
		return 0, err
	}
	return s.store.ReadMarkers().CountUnread(ctx, conversationID, actorID)
}
