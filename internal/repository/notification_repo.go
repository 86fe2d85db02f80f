package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, recipient_id, kind, COALESCE(conversation_id, 0), COALESCE(group_id, 0),
	COALESCE(message_id, 0), sender_id, sender_name, excerpt, is_read, created_at, read_at`

func scanNotification(row pgx.Row, notification *models.Notification) error {
	return row.Scan(
		&notification.ID,
		&notification.RecipientID,
		&notification.Kind,
		&notification.ConversationID,
		&notification.GroupID,
		&notification.MessageID,
		&notification.SenderID,
		&notification.SenderName,
		&notification.Excerpt,
		&notification.IsRead,
		&notification.CreatedAt,
		&notification.ReadAt,
	)
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	query := `
		INSERT INTO notifications (
			recipient_id, kind, conversation_id, group_id, message_id,
			sender_id, sender_name, excerpt, is_read, read_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	return r.db.QueryRow(
		ctx,
		query,
		notification.RecipientID,
		notification.Kind,
		nullableID(notification.ConversationID),
		nullableID(notification.GroupID),
		nullableID(notification.MessageID),
		notification.SenderID,
		notification.SenderName,
		notification.Excerpt,
		notification.IsRead,
		notification.ReadAt,
	).Scan(&notification.ID, &notification.CreatedAt)
}

func (r *NotificationRepository) ListForRecipient(
	ctx context.Context,
	recipientID int64,
	unreadOnly bool,
	limit int,
	offset int,
) ([]models.Notification, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR is_read = FALSE)
	`, recipientID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		var notification models.Notification
		if err := scanNotification(rows, &notification); err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

// MarkRead is idempotent: a notification that is already read keeps its
// original read_at.
func (r *NotificationRepository) MarkRead(
	ctx context.Context,
	recipientID int64,
	notificationID int64,
	at time.Time,
) (*models.Notification, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE,
		    read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING ` + notificationColumns

	var notification models.Notification
	if err := scanNotification(r.db.QueryRow(ctx, query, notificationID, recipientID, at), &notification); err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND is_read = FALSE
	`, recipientID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) MarkConversationRead(
	ctx context.Context,
	recipientID int64,
	conversationID int64,
	at time.Time,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $3
		WHERE recipient_id = $1 AND conversation_id = $2 AND is_read = FALSE
	`, recipientID, conversationID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE
	`, recipientID).Scan(&count)
	return count, err
}
