package services

import (
	"context"

	"github.com/trailcrew/TrailCrewBack/internal/models"
)

// Broadcaster delivers transient events to live sessions. Publishing never
// fails from the caller's point of view: the persisted record is the source
// of truth and a missed push is recovered by the next poll.
type Broadcaster interface {
	PublishToRoom(ctx context.Context, room models.RoomID, event models.Event)
	PublishToUser(ctx context.Context, userID int64, event models.Event)
	JoinUser(userID int64, room models.RoomID)
	EvictRoom(room models.RoomID)
}

// ViewTracker reports whether any live session of userID has room open.
type ViewTracker interface {
	IsViewing(userID int64, room models.RoomID) bool
}

type noopBroadcaster struct{}

func (noopBroadcaster) PublishToRoom(context.Context, models.RoomID, models.Event) {}
func (noopBroadcaster) PublishToUser(context.Context, int64, models.Event)         {}
func (noopBroadcaster) JoinUser(int64, models.RoomID)                              {}
func (noopBroadcaster) EvictRoom(models.RoomID)                                    {}
func (noopBroadcaster) IsViewing(int64, models.RoomID) bool                        { return false }
