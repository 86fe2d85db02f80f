package chatws

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
	"github.com/trailcrew/TrailCrewBack/internal/mocks"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"go.uber.org/mock/gomock"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func newNATSGateway(t *testing.T, url, subject string, opts Options) (*Gateway, *mocks.MockRoomResolver) {
	t.Helper()
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockRoomResolver(ctrl)
	broker, err := NewNATSBroker(url, subject)
	require.NoError(t, err)
	g, err := NewGateway(mocks.NewMockAuthenticator(ctrl), resolver, broker, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, resolver
}

func TestLocalBrokerDeliversSynchronously(t *testing.T) {
	broker := NewLocalBroker()
	var got []Envelope
	require.NoError(t, broker.Subscribe(func(e Envelope) { got = append(got, e) }))

	require.NoError(t, broker.Publish(context.Background(), Envelope{Room: "group:1", Frame: json.RawMessage(`{}`)}))
	require.Len(t, got, 1)
	require.Equal(t, "group:1", got[0].Room)
	require.NoError(t, broker.Close())
}

func TestNATSBrokerFansOutAcrossGateways(t *testing.T) {
	url := startNATS(t)
	subject := "trailcrew.test.events"

	east, eastResolver := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	west, westResolver := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	room := models.ConversationRoom(9)

	alice := openSession(t, east, eastResolver, 1, room)
	bob := openSession(t, west, westResolver, 2, room)

	for i := int64(1); i <= 20; i++ {
		east.PublishToRoom(context.Background(), room, models.Event{
			Type: models.EventMessageNew,
			Data: models.ChatMessage{ID: i, ConversationID: 9},
		})
	}
	west.PublishToUser(context.Background(), 1, models.Event{Type: models.EventNotification})

	for _, session := range []*Session{alice, bob} {
		for i := int64(1); i <= 20; i++ {
			frame := nextFrame(t, session)
			require.Equal(t, models.EventMessageNew, frame.Type)
			var message models.ChatMessage
			require.NoError(t, json.Unmarshal(frame.Data, &message))
			require.Equal(t, i, message.ID)
		}
	}

	require.Equal(t, models.EventNotification, nextFrame(t, alice).Type)
	requireNoFrame(t, bob)
}

func TestNATSBrokerReplicatesMembershipChanges(t *testing.T) {
	url := startNATS(t)
	subject := "trailcrew.test.members"

	east, eastResolver := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	west, westResolver := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	room := models.ConversationRoom(12)

	alice := openSession(t, east, eastResolver, 1)
	bob := openSession(t, west, westResolver, 2)

	east.JoinUser(1, room)
	east.JoinUser(2, room)
	require.Eventually(t, func() bool {
		return len(east.SessionRooms(alice.ID)) == 1 && len(west.SessionRooms(bob.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"conversation:12"}, west.SessionRooms(bob.ID))

	east.PublishToRoom(context.Background(), room, models.Event{
		Type: models.EventMessageNew,
		Data: models.ChatMessage{ID: 1, ConversationID: 12},
	})
	require.Equal(t, models.EventMessageNew, nextFrame(t, bob).Type)
	require.Equal(t, models.EventMessageNew, nextFrame(t, alice).Type)

	west.EvictRoom(room)
	require.Eventually(t, func() bool {
		return len(east.SessionRooms(alice.ID)) == 0 && len(west.SessionRooms(bob.ID)) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, east.RoomSessions(room))
}

func TestNATSBrokerReplicatesViewMarks(t *testing.T) {
	url := startNATS(t)
	subject := "trailcrew.test.views"

	east, eastResolver := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	west, _ := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	room := models.ConversationRoom(7)

	viewed := func(g *Gateway) func() bool {
		return func() bool { return g.IsViewing(2, room) }
	}
	notViewed := func(g *Gateway) func() bool {
		return func() bool { return !g.IsViewing(2, room) }
	}

	bob := openSession(t, east, eastResolver, 2, room)
	require.False(t, west.IsViewing(2, room))

	require.NoError(t, east.View(bob.ID, room))
	require.Eventually(t, viewed(west), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, east.LeaveRoom(bob.ID, room))
	require.Eventually(t, notViewed(west), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, east.View(bob.ID, room))
	require.Eventually(t, viewed(west), 2*time.Second, 10*time.Millisecond)
	east.Disconnect(bob.ID)
	require.Eventually(t, notViewed(west), 2*time.Second, 10*time.Millisecond)

	phone := openSession(t, east, eastResolver, 2, room)
	require.NoError(t, east.View(phone.ID, room))

	// A gateway started later learns the views already open elsewhere.
	north, _ := newNATSGateway(t, url, subject, Options{SendBuffer: 128})
	require.Eventually(t, viewed(north), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, east.Close())
	require.Eventually(t, notViewed(north), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, notViewed(west), 2*time.Second, 10*time.Millisecond)
}

func TestRemoteViewMarksExpireWithoutRefresh(t *testing.T) {
	url := startNATS(t)
	subject := "trailcrew.test.expiry"

	west, _ := newNATSGateway(t, url, subject, Options{SendBuffer: 128, ViewTTL: 200 * time.Millisecond})
	room := models.GroupRoom(3)

	stale, err := NewNATSBroker(url, subject)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stale.Close() })
	require.NoError(t, stale.Publish(context.Background(), Envelope{
		Kind:     KindView,
		Instance: "crashed-instance",
		UserID:   5,
		Room:     room.Key(),
		Viewing:  true,
	}))

	require.Eventually(t, func() bool { return west.IsViewing(5, room) }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !west.IsViewing(5, room) }, 2*time.Second, 10*time.Millisecond)
}
