package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ConversationStore interface {
	CreateOrGet(ctx context.Context, firstID, secondID int64) (*models.Conversation, bool, error)
	GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error)
	GetByIDForParticipant(ctx context.Context, conversationID, participantID int64) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, participantID int64) ([]models.ConversationSummary, error)
	ListIDsForParticipant(ctx context.Context, participantID int64) ([]int64, error)
	UpdateLastMessage(ctx context.Context, conversationID int64, text string, at time.Time) error
	RefreshLastMessage(ctx context.Context, conversationID int64) error
	Delete(ctx context.Context, conversationID int64) error
	UnreadTotal(ctx context.Context, participantID int64) (int, error)
}

type MessageStore interface {
	Create(ctx context.Context, room models.RoomID, senderID int64, content string) (*models.ChatMessage, error)
	GetByID(ctx context.Context, room models.RoomID, messageID int64) (*models.ChatMessage, error)
	ListByRoom(ctx context.Context, room models.RoomID, limit, offset int) ([]models.ChatMessage, int, error)
	LatestID(ctx context.Context, room models.RoomID) (int64, error)
	SoftDelete(ctx context.Context, room models.RoomID, messageID int64) error
}

type ReadMarkerStore interface {
	Advance(ctx context.Context, marker models.ReadMarker) (*models.ReadMarker, error)
	Get(ctx context.Context, conversationID, userID int64) (*models.ReadMarker, error)
	CountUnread(ctx context.Context, conversationID, userID int64) (int, error)
}

type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListForRecipient(ctx context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, recipientID, notificationID int64, at time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error)
	MarkConversationRead(ctx context.Context, recipientID, conversationID int64, at time.Time) (int64, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
}

type GroupStore interface {
	GetChannel(ctx context.Context, groupID int64) (*models.GroupChannel, error)
	GetMembership(ctx context.Context, groupID, userID int64) (*models.GroupMembership, error)
	ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// Store is the persistence boundary used by the chat services. InTx runs fn
// against a Store bound to a single transaction; nested calls reuse it.
// LockRoom runs fn while holding a lock on key that every instance sharing
// the database honours.
type Store interface {
	Conversations() ConversationStore
	Messages() MessageStore
	ReadMarkers() ReadMarkerStore
	Notifications() NotificationStore
	Groups() GroupStore
	Users() UserStore
	InTx(ctx context.Context, fn func(Store) error) error
	LockRoom(ctx context.Context, key string, fn func(Store) error) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore runs against the pool, one acquired connection or one
// transaction. Only the pool form has pool set; the transaction form has no
// begin.
type PgStore struct {
	pool  *pgxpool.Pool
	begin beginner
	db    DBTX
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, begin: pool, db: pool}
}

func (s *PgStore) Conversations() ConversationStore { return NewConversationRepository(s.db) }
func (s *PgStore) Messages() MessageStore           { return NewMessageRepository(s.db) }
func (s *PgStore) ReadMarkers() ReadMarkerStore     { return NewReadMarkerRepository(s.db) }
func (s *PgStore) Notifications() NotificationStore { return NewNotificationRepository(s.db) }
func (s *PgStore) Groups() GroupStore               { return NewGroupRepository(s.db) }
func (s *PgStore) Users() UserStore                 { return NewUserRepository(s.db) }

func (s *PgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.begin == nil {
		return fn(s)
	}

	tx, err := s.begin.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&PgStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const (
	roomLockSQL   = `SELECT pg_advisory_lock(hashtextextended($1, 0))`
	roomUnlockSQL = `SELECT pg_advisory_unlock(hashtextextended($1, 0))`
	roomTxLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
)

var errRoomUnlock = errors.New("unlock room")

// LockRoom holds a Postgres advisory lock on key while fn runs. From the pool
// it pins one connection so fn and its transactions share the lock holder;
// inside a transaction the lock is released at commit or rollback.
func (s *PgStore) LockRoom(ctx context.Context, key string, fn func(Store) error) error {
	if s.begin == nil {
		if _, err := s.db.Exec(ctx, roomTxLockSQL, key); err != nil {
			return fmt.Errorf("lock room %s: %w", key, err)
		}
		return fn(s)
	}
	if s.pool == nil {
		return withRoomLock(ctx, s.db, key, func() error { return fn(s) })
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	bound := &PgStore{begin: conn, db: conn}
	err = withRoomLock(ctx, conn, key, func() error { return fn(bound) })
	if errors.Is(err, errRoomUnlock) {
		// A connection that may still hold the lock must not go back to the
		// pool.
		_ = conn.Conn().Close(context.WithoutCancel(ctx))
	}
	return err
}

func withRoomLock(ctx context.Context, db DBTX, key string, fn func() error) error {
	if _, err := db.Exec(ctx, roomLockSQL, key); err != nil {
		return fmt.Errorf("lock room %s: %w", key, err)
	}
	runErr := fn()
	if _, err := db.Exec(context.WithoutCancel(ctx), roomUnlockSQL, key); err != nil {
		return errors.Join(runErr, fmt.Errorf("%w %s: %w", errRoomUnlock, key, err))
	}
	return runErr
}
