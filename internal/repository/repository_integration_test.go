package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

// integrationTestPool connects to TEST_DB_URL, which must point at a
// migrated database. Tests skip when it is unset or unreachable.
func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("TEST_DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("TEST_DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func createTestUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, display_name)
		VALUES ($1, $2)
		RETURNING id
	`, fmt.Sprintf("chat-test-%s-%d@example.com", name, time.Now().UnixNano()), name).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM messages WHERE sender_id = $1", id)
		_, _ = pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", id)
	})
	return id
}

func TestConversationCreateOrGetIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := NewPgStore(pool)

	alice := createTestUser(t, ctx, pool, "alice")
	bob := createTestUser(t, ctx, pool, "bob")

	first, created, err := store.Conversations().CreateOrGet(ctx, alice, bob)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := store.Conversations().CreateOrGet(ctx, bob, alice)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	ids, err := store.Conversations().ListIDsForParticipant(ctx, bob)
	require.NoError(t, err)
	require.Contains(t, ids, first.ID)
}

func TestMessagesAndReadMarkers(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := NewPgStore(pool)

	alice := createTestUser(t, ctx, pool, "alice")
	bob := createTestUser(t, ctx, pool, "bob")
	conversation, _, err := store.Conversations().CreateOrGet(ctx, alice, bob)
	require.NoError(t, err)
	room := models.ConversationRoom(conversation.ID)

	var sent []*models.ChatMessage
	for _, text := range []string{"Trailhead at 7?", "Bring poles", "See you"} {
		message, err := store.Messages().Create(ctx, room, alice, text)
		require.NoError(t, err)
		sent = append(sent, message)
	}
	_, err = store.Messages().Create(ctx, room, bob, "ok")
	require.NoError(t, err)

	messages, total, err := store.Messages().ListByRoom(ctx, room, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, "ok", messages[0].Content)
	require.Equal(t, "Trailhead at 7?", messages[3].Content)

	unread, err := store.ReadMarkers().CountUnread(ctx, conversation.ID, bob)
	require.NoError(t, err)
	require.Equal(t, 3, unread, "own messages never count")

	later := time.Now().UTC()
	_, err = store.ReadMarkers().Advance(ctx, models.ReadMarker{
		ConversationID: conversation.ID, UserID: bob, LastReadAt: later, LastReadMessageID: sent[1].ID,
	})
	require.NoError(t, err)

	// An older write from another device must not move the marker back.
	marker, err := store.ReadMarkers().Advance(ctx, models.ReadMarker{
		ConversationID: conversation.ID, UserID: bob, LastReadAt: later.Add(-time.Hour), LastReadMessageID: sent[0].ID,
	})
	require.NoError(t, err)
	require.Equal(t, sent[1].ID, marker.LastReadMessageID)
	require.WithinDuration(t, later, marker.LastReadAt, time.Millisecond)

	unread, err = store.ReadMarkers().CountUnread(ctx, conversation.ID, bob)
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	require.NoError(t, store.Messages().SoftDelete(ctx, room, sent[2].ID))
	unread, err = store.ReadMarkers().CountUnread(ctx, conversation.ID, bob)
	require.NoError(t, err)
	require.Zero(t, unread)

	err = store.Messages().SoftDelete(ctx, room, sent[2].ID)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := NewPgStore(pool)

	alice := createTestUser(t, ctx, pool, "alice")
	bob := createTestUser(t, ctx, pool, "bob")
	conversation, _, err := store.Conversations().CreateOrGet(ctx, alice, bob)
	require.NoError(t, err)
	room := models.ConversationRoom(conversation.ID)

	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx Store) error {
		if _, err := tx.Messages().Create(ctx, room, alice, "never stored"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := store.Messages().ListByRoom(ctx, room, 10, 0)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestRefreshLastMessageSkipsDeletedMessages(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	store := NewPgStore(pool)

	alice := createTestUser(t, ctx, pool, "alice")
	bob := createTestUser(t, ctx, pool, "bob")
	conversation, _, err := store.Conversations().CreateOrGet(ctx, alice, bob)
	require.NoError(t, err)
	room := models.ConversationRoom(conversation.ID)

	hello, err := store.Messages().Create(ctx, room, alice, "Hello")
	require.NoError(t, err)
	secret, err := store.Messages().Create(ctx, room, alice, "secret oops")
	require.NoError(t, err)
	require.NoError(t, store.Conversations().UpdateLastMessage(ctx, conversation.ID, secret.Content, secret.CreatedAt))

	require.NoError(t, store.Messages().SoftDelete(ctx, room, secret.ID))
	require.NoError(t, store.Conversations().RefreshLastMessage(ctx, conversation.ID))

	refreshed, err := store.Conversations().GetByID(ctx, conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastMessageText)
	require.Equal(t, "Hello", *refreshed.LastMessageText)
	require.WithinDuration(t, hello.CreatedAt, *refreshed.LastMessageAt, time.Millisecond)

	require.NoError(t, store.Messages().SoftDelete(ctx, room, hello.ID))
	require.NoError(t, store.Conversations().RefreshLastMessage(ctx, conversation.ID))
	refreshed, err = store.Conversations().GetByID(ctx, conversation.ID)
	require.NoError(t, err)
	require.Nil(t, refreshed.LastMessageText)
	require.Nil(t, refreshed.LastMessageAt)
}

func TestLockRoomSerializesAcrossStores(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)

	alice := createTestUser(t, ctx, pool, "alice")
	bob := createTestUser(t, ctx, pool, "bob")
	conversation, _, err := NewPgStore(pool).Conversations().CreateOrGet(ctx, alice, bob)
	require.NoError(t, err)
	room := models.ConversationRoom(conversation.ID)

	stores := []*PgStore{NewPgStore(pool), NewPgStore(pool)}
	var inside, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		store := stores[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.LockRoom(ctx, room.Key(), func(locked Store) error {
				if inside.Add(1) > 1 {
					overlaps.Add(1)
				}
				defer inside.Add(-1)

				time.Sleep(10 * time.Millisecond)
				return locked.InTx(ctx, func(tx Store) error {
					_, err := tx.Messages().Create(ctx, room, alice, "step")
					return err
				})
			})
			if err != nil {
				t.Errorf("LockRoom: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, overlaps.Load())
	_, total, err := stores[0].Messages().ListByRoom(ctx, room, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 8, total)
}
