package chatws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/metrics"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

const defaultSendBuffer = 64

var ErrSessionNotFound = errors.New("session not found")

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// RoomResolver answers which rooms a user belongs to. It is read fresh on
// every connect so a reconnect never restores a stale room list.
type RoomResolver interface {
	RoomsForUser(ctx context.Context, userID int64) ([]models.RoomID, error)
	IsMember(ctx context.Context, userID int64, room models.RoomID) (bool, error)
}

type Options struct {
	SendBuffer int
	// ViewTTL expires view marks announced by other instances. Local views
	// are re-announced every third of it. Zero keeps remote marks until the
	// announcing instance clears them.
	ViewTTL time.Duration
}

type viewKey struct {
	userID int64
	room   string
}

// Gateway owns the session table. Every join, leave and disconnect mutates
// the table under mu, so a publish never iterates a half-updated room.
type Gateway struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	users    map[int64]map[string]*Session

	auth       Authenticator
	resolver   RoomResolver
	broker     Broker
	sendBuffer int

	instance    string
	viewTTL     time.Duration
	announceMu  sync.Mutex
	viewMu      sync.Mutex
	remoteViews map[viewKey]map[string]time.Time

	stop      chan struct{}
	stopOnce  sync.Once
	announcer sync.WaitGroup
}

func NewGateway(auth Authenticator, resolver RoomResolver, broker Broker, opts Options) (*Gateway, error) {
	if broker == nil {
		broker = NewLocalBroker()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	g := &Gateway{
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]map[string]*Session),
		users:       make(map[int64]map[string]*Session),
		auth:        auth,
		resolver:    resolver,
		broker:      broker,
		sendBuffer:  opts.SendBuffer,
		instance:    uuid.NewString(),
		viewTTL:     opts.ViewTTL,
		remoteViews: make(map[viewKey]map[string]time.Time),
		stop:        make(chan struct{}),
	}
	if err := broker.Subscribe(g.deliver); err != nil {
		return nil, fmt.Errorf("subscribe broker: %w", err)
	}
	// Instances already running answer with the rooms their users view.
	g.control(Envelope{Kind: KindViewSync, Instance: g.instance})

	if g.viewTTL > 0 {
		g.announcer.Add(1)
		go g.announceLoop(g.viewTTL / 3)
	}
	return g, nil
}

func (g *Gateway) Authenticate(token string) (models.Identity, error) {
	identity, err := g.auth.Authenticate(token)
	if err != nil {
		metrics.GatewayAuthRejections.Inc()
		logging.Info().Err(err).Msg("websocket authentication rejected")
		return models.Identity{}, err
	}
	return identity, nil
}

// Open registers a session for identity and joins it to every room implied
// by the user's current conversations and groups. The first frame queued is
// the connected frame.
func (g *Gateway) Open(ctx context.Context, identity models.Identity) (*Session, error) {
	rooms, err := g.resolver.RoomsForUser(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve rooms: %w", err)
	}

	session := newSession(uuid.NewString(), identity, g.sendBuffer)

	g.mu.Lock()
	g.sessions[session.ID] = session
	byUser, ok := g.users[identity.UserID]
	if !ok {
		byUser = make(map[string]*Session)
		g.users[identity.UserID] = byUser
	}
	byUser[session.ID] = session
	for _, room := range rooms {
		g.subscribeLocked(session, room, true)
	}

	keys := session.roomKeysLocked()
	connected, err := encodeFrame("", models.Event{
		Type: models.EventConnected,
		Data: models.ConnectedData{ConnID: session.ID, UserID: identity.UserID, Rooms: keys},
	})
	if err == nil {
		session.send <- connected
	}
	g.mu.Unlock()

	metrics.GatewayConnections.Inc()
	logging.Info().
		Str("conn_id", session.ID).
		Int64("user_id", identity.UserID).
		Int("rooms", len(keys)).
		Msg("websocket session opened")
	return session, nil
}

// JoinRoom subscribes a session to a room it was not given at connect time.
// The caller is responsible for the membership check.
func (g *Gateway) JoinRoom(connID string, room models.RoomID) error {
	return g.join(connID, room, false)
}

// View subscribes the session if needed and marks the room as actively
// viewed by it.
func (g *Gateway) View(connID string, room models.RoomID) error {
	return g.join(connID, room, true)
}

func (g *Gateway) join(connID string, room models.RoomID, viewing bool) error {
	if !room.Valid() {
		return models.ErrInvalidRoomKey
	}

	g.mu.Lock()
	session, ok := g.sessions[connID]
	if !ok {
		g.mu.Unlock()
		return ErrSessionNotFound
	}
	wasViewing := g.viewingLocked(session.UserID, room.Key())
	sub := g.subscribeLocked(session, room, false)
	if viewing {
		sub.viewing = true
	}
	started := viewing && !wasViewing
	g.mu.Unlock()

	if started {
		g.announceView(session.UserID, room.Key())
	}
	return nil
}

// LeaveRoom clears the active view mark. Rooms implied by membership stay
// subscribed for the life of the session; explicitly joined rooms are left.
func (g *Gateway) LeaveRoom(connID string, room models.RoomID) error {
	key := room.Key()

	g.mu.Lock()
	session, ok := g.sessions[connID]
	if !ok {
		g.mu.Unlock()
		return ErrSessionNotFound
	}
	sub, ok := session.rooms[key]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	wasViewing := g.viewingLocked(session.UserID, key)
	sub.viewing = false
	if !sub.implied {
		g.unsubscribeLocked(session, key)
	}
	stopped := wasViewing && !g.viewingLocked(session.UserID, key)
	g.mu.Unlock()

	if stopped {
		g.announceView(session.UserID, key)
	}
	return nil
}

// JoinUser subscribes every live session of userID, on every instance, to
// room as an implied membership. It is used when a conversation is created
// mid-session.
func (g *Gateway) JoinUser(userID int64, room models.RoomID) {
	if !room.Valid() {
		return
	}
	envelope := Envelope{Kind: KindJoinUser, Instance: g.instance, UserID: userID, Room: room.Key()}
	if !g.control(envelope) {
		g.joinUserLocal(userID, room)
	}
}

// EvictRoom removes room from every session on every instance.
func (g *Gateway) EvictRoom(room models.RoomID) {
	envelope := Envelope{Kind: KindEvictRoom, Instance: g.instance, Room: room.Key()}
	if !g.control(envelope) {
		g.evictRoomLocal(room.Key())
	}
}

func (g *Gateway) joinUserLocal(userID int64, room models.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, session := range g.users[userID] {
		g.subscribeLocked(session, room, true)
	}
}

func (g *Gateway) evictRoomLocal(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, session := range g.rooms[key] {
		g.unsubscribeLocked(session, key)
	}
	delete(g.rooms, key)
}

// control publishes a control envelope and reports whether the broker took
// it.
func (g *Gateway) control(envelope Envelope) bool {
	if err := g.broker.Publish(context.Background(), envelope); err != nil {
		metrics.RecordDrop(metrics.DropReasonBroker)
		logging.Warn().
			Err(err).
			Str("kind", envelope.Kind).
			Str("room", envelope.Room).
			Int64("user_id", envelope.UserID).
			Msg("publish control envelope")
		return false
	}
	return true
}

// Disconnect discards the session and all of its room memberships. It is
// safe to call more than once.
func (g *Gateway) Disconnect(connID string) {
	g.mu.Lock()
	session, ok := g.sessions[connID]
	if !ok {
		g.mu.Unlock()
		return
	}
	var viewed []string
	for key, sub := range session.rooms {
		if sub.viewing {
			viewed = append(viewed, key)
		}
	}
	g.removeLocked(session)
	var stopped []string
	for _, key := range viewed {
		if !g.viewingLocked(session.UserID, key) {
			stopped = append(stopped, key)
		}
	}
	g.mu.Unlock()

	for _, key := range stopped {
		g.announceView(session.UserID, key)
	}
	metrics.GatewayConnections.Dec()
	logging.Info().
		Str("conn_id", connID).
		Int64("user_id", session.UserID).
		Msg("websocket session closed")
}

// PublishToRoom sends event to every session subscribed to room. A room
// with no sessions is a no-op.
func (g *Gateway) PublishToRoom(ctx context.Context, room models.RoomID, event models.Event) {
	g.publish(ctx, Envelope{Room: room.Key()}, room.Key(), event, "room")
}

// PublishToUser sends event to the personal channel of userID.
func (g *Gateway) PublishToUser(ctx context.Context, userID int64, event models.Event) {
	g.publish(ctx, Envelope{UserID: userID}, "", event, "user")
}

func (g *Gateway) publish(ctx context.Context, envelope Envelope, room string, event models.Event, target string) {
	frame, err := encodeFrame(room, event)
	if err != nil {
		metrics.RecordDrop(metrics.DropReasonEncode)
		logging.Error().Err(err).Str("type", event.Type).Msg("encode event")
		return
	}
	envelope.Frame = frame

	if err := g.broker.Publish(ctx, envelope); err != nil {
		metrics.RecordDrop(metrics.DropReasonBroker)
		logging.Warn().
			Err(err).
			Str("type", event.Type).
			Str("room", envelope.Room).
			Int64("user_id", envelope.UserID).
			Msg("publish event")
		return
	}
	metrics.RecordPublish(event.Type, target)
}

func (g *Gateway) deliver(envelope Envelope) {
	switch envelope.Kind {
	case "":
	case KindJoinUser:
		room, err := models.ParseRoomKey(envelope.Room)
		if err != nil {
			logging.Warn().Err(err).Str("room", envelope.Room).Msg("discarding join envelope")
			return
		}
		g.joinUserLocal(envelope.UserID, room)
		return
	case KindEvictRoom:
		g.evictRoomLocal(envelope.Room)
		return
	case KindView:
		g.applyRemoteView(envelope)
		return
	case KindViewSync:
		if envelope.Instance != g.instance {
			go g.announceViews()
		}
		return
	case KindViewReset:
		g.dropRemoteViews(envelope.Instance)
		return
	default:
		logging.Warn().Str("kind", envelope.Kind).Msg("discarding unknown envelope")
		return
	}

	var slow []*Session

	g.mu.RLock()
	var targets map[string]*Session
	if envelope.Room != "" {
		targets = g.rooms[envelope.Room]
	} else {
		targets = g.users[envelope.UserID]
	}
	for _, session := range targets {
		if !session.enqueue(envelope.Frame) {
			slow = append(slow, session)
		}
	}
	g.mu.RUnlock()

	for _, session := range slow {
		metrics.RecordDrop(metrics.DropReasonSlowConsumer)
		logging.Warn().
			Str("conn_id", session.ID).
			Int64("user_id", session.UserID).
			Msg("disconnecting slow consumer")
		g.Disconnect(session.ID)
	}
}

// Send queues a frame for one session. A full buffer disconnects it.
func (g *Gateway) Send(connID string, frame []byte) {
	g.mu.RLock()
	session, ok := g.sessions[connID]
	delivered := ok && session.enqueue(frame)
	g.mu.RUnlock()

	if ok && !delivered {
		metrics.RecordDrop(metrics.DropReasonSlowConsumer)
		g.Disconnect(connID)
	}
}

// IsViewing reports whether any session of userID, on this or another
// instance, has room open.
func (g *Gateway) IsViewing(userID int64, room models.RoomID) bool {
	key := room.Key()

	g.mu.RLock()
	local := g.viewingLocked(userID, key)
	g.mu.RUnlock()
	if local {
		return true
	}

	g.viewMu.Lock()
	defer g.viewMu.Unlock()

	now := time.Now()
	for _, expires := range g.remoteViews[viewKey{userID: userID, room: key}] {
		if expires.IsZero() || now.Before(expires) {
			return true
		}
	}
	return false
}

func (g *Gateway) viewingLocked(userID int64, key string) bool {
	for _, session := range g.users[userID] {
		if sub, ok := session.rooms[key]; ok && sub.viewing {
			return true
		}
	}
	return false
}

// announceView publishes the current local view state of (userID, key).
// Announcements are serialized and read the state inside the critical
// section, so the last one published is never older than the last change.
func (g *Gateway) announceView(userID int64, key string) {
	g.announceMu.Lock()
	defer g.announceMu.Unlock()

	g.mu.RLock()
	viewing := g.viewingLocked(userID, key)
	g.mu.RUnlock()

	g.control(Envelope{Kind: KindView, Instance: g.instance, UserID: userID, Room: key, Viewing: viewing})
}

// announceViews re-publishes every room viewed on this instance.
func (g *Gateway) announceViews() {
	g.mu.RLock()
	viewed := make(map[viewKey]struct{})
	for _, session := range g.sessions {
		for key, sub := range session.rooms {
			if sub.viewing {
				viewed[viewKey{userID: session.UserID, room: key}] = struct{}{}
			}
		}
	}
	g.mu.RUnlock()

	for view := range viewed {
		g.announceView(view.userID, view.room)
	}
}

func (g *Gateway) announceLoop(every time.Duration) {
	defer g.announcer.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.announceViews()
		}
	}
}

func (g *Gateway) applyRemoteView(envelope Envelope) {
	if envelope.Instance == g.instance {
		return
	}
	key := viewKey{userID: envelope.UserID, room: envelope.Room}

	g.viewMu.Lock()
	defer g.viewMu.Unlock()

	marks := g.remoteViews[key]
	if !envelope.Viewing {
		delete(marks, envelope.Instance)
		if len(marks) == 0 {
			delete(g.remoteViews, key)
		}
		return
	}
	if marks == nil {
		marks = make(map[string]time.Time)
		g.remoteViews[key] = marks
	}
	var expires time.Time
	if g.viewTTL > 0 {
		expires = time.Now().Add(g.viewTTL)
	}
	marks[envelope.Instance] = expires
}

func (g *Gateway) dropRemoteViews(instance string) {
	if instance == g.instance {
		return
	}

	g.viewMu.Lock()
	defer g.viewMu.Unlock()

	for key, marks := range g.remoteViews {
		delete(marks, instance)
		if len(marks) == 0 {
			delete(g.remoteViews, key)
		}
	}
}

func (g *Gateway) IsMember(ctx context.Context, userID int64, room models.RoomID) (bool, error) {
	return g.resolver.IsMember(ctx, userID, room)
}

// SessionRooms lists the room keys a session is subscribed to, sorted.
func (g *Gateway) SessionRooms(connID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	session, ok := g.sessions[connID]
	if !ok {
		return nil
	}
	return session.roomKeysLocked()
}

// RoomSessions lists the connection ids subscribed to room, sorted.
func (g *Gateway) RoomSessions(room models.RoomID) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.rooms[room.Key()]))
	for id := range g.rooms[room.Key()] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Close disconnects every session and releases the broker. Other instances
// drop the view marks this one announced.
func (g *Gateway) Close() error {
	g.stopOnce.Do(func() { close(g.stop) })
	g.announcer.Wait()

	g.mu.Lock()
	for _, session := range g.sessions {
		g.removeLocked(session)
		metrics.GatewayConnections.Dec()
	}
	g.mu.Unlock()

	g.control(Envelope{Kind: KindViewReset, Instance: g.instance})
	return g.broker.Close()
}

func (g *Gateway) subscribeLocked(session *Session, room models.RoomID, implied bool) *subscription {
	key := room.Key()
	if sub, ok := session.rooms[key]; ok {
		sub.implied = sub.implied || implied
		return sub
	}

	sub := &subscription{room: room, implied: implied}
	session.rooms[key] = sub
	members, ok := g.rooms[key]
	if !ok {
		members = make(map[string]*Session)
		g.rooms[key] = members
	}
	members[session.ID] = session
	metrics.GatewayRoomSubscriptions.Inc()
	return sub
}

func (g *Gateway) unsubscribeLocked(session *Session, key string) {
	if _, ok := session.rooms[key]; !ok {
		return
	}
	delete(session.rooms, key)
	if members, ok := g.rooms[key]; ok {
		delete(members, session.ID)
		if len(members) == 0 {
			delete(g.rooms, key)
		}
	}
	metrics.GatewayRoomSubscriptions.Dec()
}

func (g *Gateway) removeLocked(session *Session) {
	for key := range session.rooms {
		g.unsubscribeLocked(session, key)
	}
	delete(g.sessions, session.ID)
	if byUser, ok := g.users[session.UserID]; ok {
		delete(byUser, session.ID)
		if len(byUser) == 0 {
			delete(g.users, session.UserID)
		}
	}
	session.close()
}
