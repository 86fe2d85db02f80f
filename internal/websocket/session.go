package chatws

import (
	"sort"
	"sync"

	"github.com/trailcrew/TrailCrewBack/internal/models"
)

// Session is one live connection. Its rooms map is owned by the Gateway and
// only touched under the gateway lock.
type Session struct {
	ID     string
	UserID int64
	Role   string

	send      chan []byte
	rooms     map[string]*subscription
	closeOnce sync.Once
	done      chan struct{}
}

type subscription struct {
	room    models.RoomID
	implied bool
	viewing bool
}

func newSession(id string, identity models.Identity, buffer int) *Session {
	return &Session{
		ID:     id,
		UserID: identity.UserID,
		Role:   identity.Role,
		send:   make(chan []byte, buffer),
		rooms:  make(map[string]*subscription),
		done:   make(chan struct{}),
	}
}

func (s *Session) Identity() models.Identity {
	return models.Identity{UserID: s.UserID, Role: s.Role}
}

// Outbound is drained by the session's single writer. It is closed when
// the session is removed from the gateway.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed when the session is removed from the gateway.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// enqueue must be called with the gateway lock held so it never races
// close.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.send)
	})
}

func (s *Session) roomKeysLocked() []string {
	keys := make([]string, 0, len(s.rooms))
	for key := range s.rooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
