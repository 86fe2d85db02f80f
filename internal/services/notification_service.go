package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/metrics"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/repository"
)

const excerptLength = 120

type NotificationService struct {
	store       repository.Store
	broadcaster Broadcaster
	viewers     ViewTracker
	now         func() time.Time
}

func NewNotificationService(store repository.Store, broadcaster Broadcaster, viewers ViewTracker) *NotificationService {
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	if viewers == nil {
		viewers = noopBroadcaster{}
	}
	return &NotificationService{
		store:       store,
		broadcaster: broadcaster,
		viewers:     viewers,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FanOut creates one notification per recipient other than the sender and
// pushes it to the recipient's personal channel. Recipients that already
// have the room open get a record created as read and no push.
func (s *NotificationService) FanOut(ctx context.Context, message *models.ChatMessage, recipientIDs []int64) error {
	if message == nil {
		return ErrInvalidInput
	}

	room := message.Room()
	excerpt := Excerpt(message.Content)
	var errs []error

	for _, recipientID := range recipientIDs {
		if recipientID == message.SenderID || recipientID <= 0 {
			continue
		}

		viewing := s.viewers.IsViewing(recipientID, room)
		notification := &models.Notification{
			RecipientID:    recipientID,
			Kind:           models.NotificationKindNewMessage,
			ConversationID: message.ConversationID,
			GroupID:        message.GroupID,
			MessageID:      message.ID,
			SenderID:       message.SenderID,
			SenderName:     message.SenderName,
			Excerpt:        excerpt,
			IsRead:         viewing,
			CreatedAt:      s.now(),
		}
		if viewing {
			readAt := notification.CreatedAt
			notification.ReadAt = &readAt
		}

		if err := s.store.Notifications().Create(ctx, notification); err != nil {
			errs = append(errs, fmt.Errorf("notify user %d: %w", recipientID, err))
			continue
		}
		metrics.RecordNotification(viewing)

		if viewing {
			logging.Debug().
				Int64("user_id", recipientID).
				Str("room", room.Key()).
				Msg("notification suppressed for active viewer")
			continue
		}

		s.broadcaster.PublishToUser(ctx, recipientID, models.Event{
			Type: models.EventNotification,
			Data: notification,
		})
	}

	return errors.Join(errs...)
}

func (s *NotificationService) List(
	ctx context.Context,
	recipientID int64,
	unreadOnly bool,
	page int,
	limit int,
) ([]models.Notification, int, error) {
	if recipientID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}
	return s.store.Notifications().ListForRecipient(ctx, recipientID, unreadOnly, limit, (page-1)*limit)
}

// MarkRead moves a notification from unread to read. Already read
// notifications are returned unchanged.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, notificationID int64) (*models.Notification, error) {
	if recipientID <= 0 || notificationID <= 0 {
		return nil, ErrInvalidInput
	}

	notification, err := s.store.Notifications().MarkRead(ctx, recipientID, notificationID, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return notification, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	if recipientID <= 0 {
		return 0, ErrInvalidInput
	}
	return s.store.Notifications().MarkAllRead(ctx, recipientID, s.now())
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	if recipientID <= 0 {
		return 0, ErrInvalidInput
	}
	return s.store.Notifications().CountUnread(ctx, recipientID)
}

// Excerpt shortens message text for notification payloads on a rune
// boundary.
func Excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:excerptLength-1])) + "…"
}
