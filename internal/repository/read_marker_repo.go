package repository

import (
	"context"

	"github.com/trailcrew/TrailCrewBack/internal/models"
)

type ReadMarkerRepository struct {
	db DBTX
}

func NewReadMarkerRepository(db DBTX) *ReadMarkerRepository {
	return &ReadMarkerRepository{db: db}
}

// Advance upserts the marker and never moves either watermark backwards, so
// concurrent writers converge on the later value.
func (r *ReadMarkerRepository) Advance(ctx context.Context, marker models.ReadMarker) (*models.ReadMarker, error) {
	query := `
		INSERT INTO read_markers (conversation_id, user_id, last_read_at, last_read_message_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET
			last_read_at = GREATEST(read_markers.last_read_at, EXCLUDED.last_read_at),
			last_read_message_id = GREATEST(read_markers.last_read_message_id, EXCLUDED.last_read_message_id)
		RETURNING conversation_id, user_id, last_read_at, last_read_message_id
	`

	var stored models.ReadMarker
	err := r.db.QueryRow(
		ctx,
		query,
		marker.ConversationID,
		marker.UserID,
		marker.LastReadAt,
		marker.LastReadMessageID,
	).Scan(
		&stored.ConversationID,
		&stored.UserID,
		&stored.LastReadAt,
		&stored.LastReadMessageID,
	)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *ReadMarkerRepository) Get(ctx context.Context, conversationID, userID int64) (*models.ReadMarker, error) {
	var marker models.ReadMarker
	err := r.db.QueryRow(ctx, `
		SELECT conversation_id, user_id, last_read_at, last_read_message_id
		FROM read_markers
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(
		&marker.ConversationID,
		&marker.UserID,
		&marker.LastReadAt,
		&marker.LastReadMessageID,
	)
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

func (r *ReadMarkerRepository) CountUnread(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		LEFT JOIN read_markers rm ON rm.conversation_id = m.conversation_id AND rm.user_id = $2
		WHERE m.conversation_id = $1
		  AND m.sender_id <> $2
		  AND m.deleted_at IS NULL
		  AND m.id > COALESCE(rm.last_read_message_id, 0)
	`, conversationID, userID).Scan(&count)
	return count, err
}
