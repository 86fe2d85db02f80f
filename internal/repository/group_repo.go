package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

// GroupRepository reads group membership owned by the groups feature.
// Chat never writes these tables.
type GroupRepository struct {
	db DBTX
}

func NewGroupRepository(db DBTX) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) GetChannel(ctx context.Context, groupID int64) (*models.GroupChannel, error) {
	var channel models.GroupChannel
	err := r.db.QueryRow(ctx, `
		SELECT id, id, name, created_at
		FROM hiking_groups
		WHERE id = $1
	`, groupID).Scan(&channel.ID, &channel.GroupID, &channel.Name, &channel.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *GroupRepository) GetMembership(ctx context.Context, groupID, userID int64) (*models.GroupMembership, error) {
	var membership models.GroupMembership
	err := r.db.QueryRow(ctx, `
		SELECT group_id, user_id, role
		FROM group_members
		WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&membership.GroupID, &membership.UserID, &membership.Role)
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (r *GroupRepository) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *GroupRepository) ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id
	`, groupID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
