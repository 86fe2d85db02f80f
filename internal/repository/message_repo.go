package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// roomColumn picks the parent column for a room kind. The value is never
// user input, so it is safe to splice into SQL.
func roomColumn(room models.RoomID) (string, error) {
	switch room.Kind {
	case models.RoomKindConversation:
		return "conversation_id", nil
	case models.RoomKindGroup:
		return "group_id", nil
	default:
		return "", fmt.Errorf("%w: %s", models.ErrInvalidRoomKey, room.Key())
	}
}

const messageSelect = `
	SELECT m.id, COALESCE(m.conversation_id, 0), COALESCE(m.group_id, 0), m.sender_id,
		u.display_name, m.content, m.created_at, m.deleted_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func scanMessage(row pgx.Row, message *models.ChatMessage) error {
	return row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.GroupID,
		&message.SenderID,
		&message.SenderName,
		&message.Content,
		&message.CreatedAt,
		&message.DeletedAt,
	)
}

func (r *MessageRepository) Create(
	ctx context.Context,
	room models.RoomID,
	senderID int64,
	content string,
) (*models.ChatMessage, error) {
	column, err := roomColumn(room)
	if err != nil {
		return nil, err
	}

	query := `
		WITH inserted AS (
			INSERT INTO messages (` + column + `, sender_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, conversation_id, group_id, sender_id, content, created_at, deleted_at
		)
		SELECT i.id, COALESCE(i.conversation_id, 0), COALESCE(i.group_id, 0), i.sender_id,
			u.display_name, i.content, i.created_at, i.deleted_at
		FROM inserted i
		JOIN users u ON u.id = i.sender_id
	`

	var message models.ChatMessage
	if err := scanMessage(r.db.QueryRow(ctx, query, room.ID, senderID, content), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, room models.RoomID, messageID int64) (*models.ChatMessage, error) {
	column, err := roomColumn(room)
	if err != nil {
		return nil, err
	}

	query := messageSelect + `WHERE m.id = $1 AND m.` + column + ` = $2 AND m.deleted_at IS NULL`

	var message models.ChatMessage
	if err := scanMessage(r.db.QueryRow(ctx, query, messageID, room.ID), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByRoom returns live messages newest first.
func (r *MessageRepository) ListByRoom(
	ctx context.Context,
	room models.RoomID,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	column, err := roomColumn(room)
	if err != nil {
		return nil, 0, err
	}

	var total int
	totalQuery := `SELECT COUNT(*) FROM messages WHERE ` + column + ` = $1 AND deleted_at IS NULL`
	if err := r.db.QueryRow(ctx, totalQuery, room.ID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := messageSelect + `
		WHERE m.` + column + ` = $1 AND m.deleted_at IS NULL
		ORDER BY m.id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, room.ID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := scanMessage(rows, &message); err != nil {
			return nil, 0, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (r *MessageRepository) LatestID(ctx context.Context, room models.RoomID) (int64, error) {
	column, err := roomColumn(room)
	if err != nil {
		return 0, err
	}

	var latest int64
	err = r.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM messages WHERE `+column+` = $1`, room.ID).Scan(&latest)
	return latest, err
}

func (r *MessageRepository) SoftDelete(ctx context.Context, room models.RoomID, messageID int64) error {
	column, err := roomColumn(room)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET deleted_at = NOW()
		WHERE id = $1 AND `+column+` = $2 AND deleted_at IS NULL
	`, messageID, room.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
