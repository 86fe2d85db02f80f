package models

import "time"

const (
	GroupRoleOwner     = "owner"
	GroupRoleModerator = "moderator"
	GroupRoleMember    = "member"
)

// GroupChannel is the chat channel of a hiking group. Membership is the
// group's membership; there is no separate join step.
type GroupChannel struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"group_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type GroupMembership struct {
	GroupID int64  `json:"group_id"`
	UserID  int64  `json:"user_id"`
	Role    string `json:"role"`
}

func (m *GroupMembership) CanModerate() bool {
	return m != nil && (m.Role == GroupRoleOwner || m.Role == GroupRoleModerator)
}
