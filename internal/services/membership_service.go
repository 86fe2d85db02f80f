package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/repository"
)

// MembershipService maps users to the rooms they receive events for. Group
// channel membership is the group's membership.
type MembershipService struct {
	store repository.Store
}

// RoomAccess is the caller's standing in a room. Exactly one of Conversation
// or Membership is set.
type RoomAccess struct {
	Room         models.RoomID
	Conversation *models.Conversation
	Membership   *models.GroupMembership
}

func (a *RoomAccess) CanModerate(identity models.Identity) bool {
	if identity.IsAdmin() {
		return true
	}
	return a != nil && a.Membership.CanModerate()
}

func NewMembershipService(store repository.Store) *MembershipService {
	return &MembershipService{store: store}
}

// RoomsForUser lists every room implied by the user's current conversations
// and group memberships, read fresh from the store.
func (s *MembershipService) RoomsForUser(ctx context.Context, userID int64) ([]models.RoomID, error) {
	if userID <= 0 {
		return nil, ErrInvalidInput
	}

	conversationIDs, err := s.store.Conversations().ListIDsForParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	groupIDs, err := s.store.Groups().ListGroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	rooms := make([]models.RoomID, 0, len(conversationIDs)+len(groupIDs))
	rooms = append(rooms, lo.Map(conversationIDs, func(id int64, _ int) models.RoomID {
		return models.ConversationRoom(id)
	})...)
	rooms = append(rooms, lo.Map(groupIDs, func(id int64, _ int) models.RoomID {
		return models.GroupRoom(id)
	})...)
	return rooms, nil
}

func (s *MembershipService) IsMember(ctx context.Context, userID int64, room models.RoomID) (bool, error) {
	_, err := s.Authorize(ctx, userID, room)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Authorize resolves the caller's access to room. A room that does not exist
// is ErrNotFound; one the caller does not belong to is ErrForbidden.
func (s *MembershipService) Authorize(ctx context.Context, userID int64, room models.RoomID) (*RoomAccess, error) {
	return authorizeRoom(ctx, s.store, userID, room)
}

// Members lists the user ids that belong to the room.
func (s *MembershipService) Members(ctx context.Context, access *RoomAccess) ([]int64, error) {
	switch access.Room.Kind {
	case models.RoomKindConversation:
		return []int64{access.Conversation.ParticipantAID, access.Conversation.ParticipantBID}, nil
	case models.RoomKindGroup:
		ids, err := s.store.Groups().ListMemberIDs(ctx, access.Room.ID)
		if err != nil {
			return nil, fmt.Errorf("list group members: %w", err)
		}
		return ids, nil
	default:
		return nil, ErrInvalidInput
	}
}

func authorizeRoom(ctx context.Context, store repository.Store, userID int64, room models.RoomID) (*RoomAccess, error) {
	if userID <= 0 || !room.Valid() {
		return nil, ErrInvalidInput
	}

	switch room.Kind {
	case models.RoomKindConversation:
		conversation, err := store.Conversations().GetByID(ctx, room.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if !conversation.HasParticipant(userID) {
			return nil, ErrForbidden
		}
		return &RoomAccess{Room: room, Conversation: conversation}, nil
	case models.RoomKindGroup:
		if _, err := store.Groups().GetChannel(ctx, room.ID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		membership, err := store.Groups().GetMembership(ctx, room.ID, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrForbidden
			}
			return nil, err
		}
		return &RoomAccess{Room: room, Membership: membership}, nil
	default:
		return nil, ErrInvalidInput
	}
}
