package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, participant_a_id, participant_b_id, last_message_text, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.ParticipantAID,
		&conversation.ParticipantBID,
		&conversation.LastMessageText,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// CreateOrGet stores the pair ordered so (a, b) and (b, a) hit the same row.
// The boolean reports whether the row was inserted by this call.
func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	firstID int64,
	secondID int64,
) (*models.Conversation, bool, error) {
	low, high := firstID, secondID
	if high < low {
		low, high = high, low
	}

	query := `
		INSERT INTO conversations (participant_a_id, participant_b_id)
		VALUES ($1, $2)
		ON CONFLICT (participant_a_id, participant_b_id)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, participant_a_id, participant_b_id, last_message_text, last_message_at,
			created_at, updated_at, (xmax = 0) AS inserted
	`

	var conversation models.Conversation
	var inserted bool
	err := r.db.QueryRow(ctx, query, low, high).Scan(
		&conversation.ID,
		&conversation.ParticipantAID,
		&conversation.ParticipantBID,
		&conversation.LastMessageText,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, err
	}

	return &conversation, inserted, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	participantID int64,
) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND (participant_a_id = $2 OR participant_b_id = $2)
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID, participantID))
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id,
			c.participant_a_id,
			c.participant_b_id,
			c.last_message_text,
			c.last_message_at,
			c.created_at,
			c.updated_at,
			u.id,
			u.display_name,
			lm.id,
			lm.sender_id,
			lm.sender_name,
			lm.content,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		JOIN users u
			ON u.id = CASE WHEN c.participant_a_id = $1 THEN c.participant_b_id ELSE c.participant_a_id END
		LEFT JOIN read_markers rm
			ON rm.conversation_id = c.id AND rm.user_id = $1
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, su.display_name AS sender_name, m.content, m.created_at
			FROM messages m
			JOIN users su ON su.id = m.sender_id
			WHERE m.conversation_id = c.id AND m.deleted_at IS NULL
			ORDER BY m.id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.sender_id <> $1
			  AND m.deleted_at IS NULL
			  AND m.id > COALESCE(rm.last_read_message_id, 0)
		) uc ON TRUE
		WHERE c.participant_a_id = $1 OR c.participant_b_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageSenderName sql.NullString
		var messageContent sql.NullString
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.ParticipantAID,
			&summary.ParticipantBID,
			&summary.LastMessageText,
			&summary.LastMessageAt,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.Participant.ID,
			&summary.Participant.DisplayName,
			&messageID,
			&messageSenderID,
			&messageSenderName,
			&messageContent,
			&messageCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.ChatMessage{
				ID:             messageID.Int64,
				ConversationID: summary.ID,
				SenderID:       messageSenderID.Int64,
				SenderName:     messageSenderName.String,
				Content:        messageContent.String,
				CreatedAt:      messageCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) ListIDsForParticipant(ctx context.Context, participantID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id
		FROM conversations
		WHERE participant_a_id = $1 OR participant_b_id = $1
		ORDER BY id
	`, participantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *ConversationRepository) UpdateLastMessage(
	ctx context.Context,
	conversationID int64,
	text string,
	at time.Time,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_text = $2,
		    last_message_at = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, conversationID, text, at)
	return err
}

// RefreshLastMessage recomputes the last message snapshot from the newest
// live message, or clears it when none is left.
func (r *ConversationRepository) RefreshLastMessage(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations c
		SET last_message_text = lm.content,
		    last_message_at = lm.created_at
		FROM (SELECT $1::BIGINT AS conversation_id) target
		LEFT JOIN LATERAL (
			SELECT m.content, m.created_at
			FROM messages m
			WHERE m.conversation_id = target.conversation_id AND m.deleted_at IS NULL
			ORDER BY m.id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.id = target.conversation_id
	`, conversationID)
	return err
}

// Delete removes the conversation for both participants. Messages, read
// markers and notifications go with it through ON DELETE CASCADE.
func (r *ConversationRepository) Delete(ctx context.Context, conversationID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ConversationRepository) UnreadTotal(ctx context.Context, participantID int64) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM conversations c
		JOIN messages m ON m.conversation_id = c.id
		LEFT JOIN read_markers rm ON rm.conversation_id = c.id AND rm.user_id = $1
		WHERE (c.participant_a_id = $1 OR c.participant_b_id = $1)
		  AND m.sender_id <> $1
		  AND m.deleted_at IS NULL
		  AND m.id > COALESCE(rm.last_read_message_id, 0)
	`, participantID).Scan(&total)
	return total, err
}
