package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/repository"
)

// memStore is an in-memory repository.Store with the same observable
// semantics as the pgx repositories.
type memStore struct {
	mu            sync.Mutex
	seq           int64
	clock         time.Time
	users         map[int64]*models.User
	conversations map[int64]*models.Conversation
	messages      []*models.ChatMessage
	markers       map[[2]int64]models.ReadMarker
	notifications []*models.Notification
	channels      map[int64]*models.GroupChannel
	members       map[int64]map[int64]string

	roomMu    sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		clock:         time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		users:         make(map[int64]*models.User),
		conversations: make(map[int64]*models.Conversation),
		markers:       make(map[[2]int64]models.ReadMarker),
		channels:      make(map[int64]*models.GroupChannel),
		members:       make(map[int64]map[int64]string),
		roomLocks:     make(map[string]*sync.Mutex),
	}
}

func (s *memStore) addUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, DisplayName: name, Role: "user"}
}

func (s *memStore) addGroup(groupID int64, roles map[int64]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[groupID] = &models.GroupChannel{ID: groupID, GroupID: groupID, Name: fmt.Sprintf("group %d", groupID)}
	s.members[groupID] = roles
}

func (s *memStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) Conversations() repository.ConversationStore { return memConversations{s} }
func (s *memStore) Messages() repository.MessageStore           { return memMessages{s} }
func (s *memStore) ReadMarkers() repository.ReadMarkerStore     { return memReadMarkers{s} }
func (s *memStore) Notifications() repository.NotificationStore { return memNotifications{s} }
func (s *memStore) Groups() repository.GroupStore               { return memGroups{s} }
func (s *memStore) Users() repository.UserStore                 { return memUsers{s} }

func (s *memStore) InTx(_ context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

// LockRoom stands in for the advisory lock shared by every service built on
// the same store.
func (s *memStore) LockRoom(_ context.Context, key string, fn func(repository.Store) error) error {
	s.roomMu.Lock()
	lock, ok := s.roomLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.roomLocks[key] = lock
	}
	s.roomMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(s)
}

func (s *memStore) unreadLocked(conversationID, userID int64) int {
	marker := s.markers[[2]int64{conversationID, userID}]
	count := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.SenderID != userID && !m.Deleted() && m.ID > marker.LastReadMessageID {
			count++
		}
	}
	return count
}

type memConversations struct{ s *memStore }

func (r memConversations) CreateOrGet(_ context.Context, firstID, secondID int64) (*models.Conversation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	low, high := firstID, secondID
	if high < low {
		low, high = high, low
	}
	for _, c := range r.s.conversations {
		if c.ParticipantAID == low && c.ParticipantBID == high {
			copied := *c
			return &copied, false, nil
		}
	}
	now := r.s.tick()
	c := &models.Conversation{
		ID:             r.s.nextID(),
		ParticipantAID: low,
		ParticipantBID: high,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.s.conversations[c.ID] = c
	copied := *c
	return &copied, true, nil
}

func (r memConversations) GetByID(_ context.Context, conversationID int64) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (r memConversations) GetByIDForParticipant(ctx context.Context, conversationID, participantID int64) (*models.Conversation, error) {
	c, err := r.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(participantID) {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

func (r memConversations) ListForParticipant(_ context.Context, participantID int64) ([]models.ConversationSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	summaries := make([]models.ConversationSummary, 0)
	for _, c := range r.s.conversations {
		if !c.HasParticipant(participantID) {
			continue
		}
		other := c.OtherParticipant(participantID)
		summary := models.ConversationSummary{
			Conversation: *c,
			Participant:  models.ParticipantSummary{ID: other},
			UnreadCount:  r.s.unreadLocked(c.ID, participantID),
		}
		if u, ok := r.s.users[other]; ok {
			summary.Participant.DisplayName = u.DisplayName
		}
		for i := len(r.s.messages) - 1; i >= 0; i-- {
			m := r.s.messages[i]
			if m.ConversationID == c.ID && !m.Deleted() {
				copied := *m
				summary.LastMessage = &copied
				break
			}
		}
		summaries = append(summaries, summary)
	}
	sortKey := func(c models.Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.Slice(summaries, func(i, j int) bool {
		return sortKey(summaries[i].Conversation).After(sortKey(summaries[j].Conversation))
	})
	return summaries, nil
}

func (r memConversations) ListIDsForParticipant(_ context.Context, participantID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]int64, 0)
	for id, c := range r.s.conversations {
		if c.HasParticipant(participantID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r memConversations) RefreshLastMessage(_ context.Context, conversationID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil
	}
	c.LastMessageText, c.LastMessageAt = nil, nil
	for i := len(r.s.messages) - 1; i >= 0; i-- {
		m := r.s.messages[i]
		if m.ConversationID == conversationID && !m.Deleted() {
			text, at := m.Content, m.CreatedAt
			c.LastMessageText, c.LastMessageAt = &text, &at
			break
		}
	}
	return nil
}

func (r memConversations) UpdateLastMessage(_ context.Context, conversationID int64, text string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil
	}
	c.LastMessageText = &text
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func (r memConversations) Delete(_ context.Context, conversationID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.conversations[conversationID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.s.conversations, conversationID)

	kept := r.s.messages[:0]
	for _, m := range r.s.messages {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	r.s.messages = kept

	for key := range r.s.markers {
		if key[0] == conversationID {
			delete(r.s.markers, key)
		}
	}

	notifications := r.s.notifications[:0]
	for _, n := range r.s.notifications {
		if n.ConversationID != conversationID {
			notifications = append(notifications, n)
		}
	}
	r.s.notifications = notifications
	return nil
}

func (r memConversations) UnreadTotal(_ context.Context, participantID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := 0
	for id, c := range r.s.conversations {
		if c.HasParticipant(participantID) {
			total += r.s.unreadLocked(id, participantID)
		}
	}
	return total, nil
}

type memMessages struct{ s *memStore }

func inRoom(m *models.ChatMessage, room models.RoomID) bool {
	switch room.Kind {
	case models.RoomKindConversation:
		return m.ConversationID == room.ID
	case models.RoomKindGroup:
		return m.GroupID == room.ID
	}
	return false
}

func (r memMessages) Create(_ context.Context, room models.RoomID, senderID int64, content string) (*models.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m := &models.ChatMessage{
		ID:        r.s.nextID(),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: r.s.tick(),
	}
	if room.Kind == models.RoomKindGroup {
		m.GroupID = room.ID
	} else {
		m.ConversationID = room.ID
	}
	if u, ok := r.s.users[senderID]; ok {
		m.SenderName = u.DisplayName
	}
	r.s.messages = append(r.s.messages, m)
	copied := *m
	return &copied, nil
}

func (r memMessages) GetByID(_ context.Context, room models.RoomID, messageID int64) (*models.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == messageID && inRoom(m, room) && !m.Deleted() {
			copied := *m
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memMessages) ListByRoom(_ context.Context, room models.RoomID, limit, offset int) ([]models.ChatMessage, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	live := make([]models.ChatMessage, 0)
	for i := len(r.s.messages) - 1; i >= 0; i-- {
		m := r.s.messages[i]
		if inRoom(m, room) && !m.Deleted() {
			live = append(live, *m)
		}
	}
	total := len(live)
	if offset >= total {
		return []models.ChatMessage{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return live[offset:end], total, nil
}

func (r memMessages) LatestID(_ context.Context, room models.RoomID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest int64
	for _, m := range r.s.messages {
		if inRoom(m, room) && m.ID > latest {
			latest = m.ID
		}
	}
	return latest, nil
}

func (r memMessages) SoftDelete(_ context.Context, room models.RoomID, messageID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == messageID && inRoom(m, room) && !m.Deleted() {
			now := r.s.tick()
			m.DeletedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

type memReadMarkers struct{ s *memStore }

func (r memReadMarkers) Advance(_ context.Context, marker models.ReadMarker) (*models.ReadMarker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]int64{marker.ConversationID, marker.UserID}
	stored, ok := r.s.markers[key]
	if !ok {
		stored = marker
	} else {
		if marker.LastReadAt.After(stored.LastReadAt) {
			stored.LastReadAt = marker.LastReadAt
		}
		if marker.LastReadMessageID > stored.LastReadMessageID {
			stored.LastReadMessageID = marker.LastReadMessageID
		}
	}
	r.s.markers[key] = stored
	return &stored, nil
}

func (r memReadMarkers) Get(_ context.Context, conversationID, userID int64) (*models.ReadMarker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.markers[[2]int64{conversationID, userID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &stored, nil
}

func (r memReadMarkers) CountUnread(_ context.Context, conversationID, userID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.unreadLocked(conversationID, userID), nil
}

type memNotifications struct{ s *memStore }

func (r memNotifications) Create(_ context.Context, notification *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	notification.ID = r.s.nextID()
	copied := *notification
	r.s.notifications = append(r.s.notifications, &copied)
	return nil
}

func (r memNotifications) ListForRecipient(_ context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]models.Notification, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := make([]models.Notification, 0)
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		n := r.s.notifications[i]
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		matched = append(matched, *n)
	}
	total := len(matched)
	if offset >= total {
		return []models.Notification{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r memNotifications) MarkRead(_ context.Context, recipientID, notificationID int64, at time.Time) (*models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.notifications {
		if n.ID == notificationID && n.RecipientID == recipientID {
			if !n.IsRead {
				n.IsRead = true
				readAt := at
				n.ReadAt = &readAt
			}
			copied := *n
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memNotifications) markWhere(at time.Time, match func(*models.Notification) bool) int64 {
	var changed int64
	for _, n := range r.s.notifications {
		if !n.IsRead && match(n) {
			n.IsRead = true
			readAt := at
			n.ReadAt = &readAt
			changed++
		}
	}
	return changed
}

func (r memNotifications) MarkAllRead(_ context.Context, recipientID int64, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.markWhere(at, func(n *models.Notification) bool { return n.RecipientID == recipientID }), nil
}

func (r memNotifications) MarkConversationRead(_ context.Context, recipientID, conversationID int64, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.markWhere(at, func(n *models.Notification) bool {
		return n.RecipientID == recipientID && n.ConversationID == conversationID
	}), nil
}

func (r memNotifications) CountUnread(_ context.Context, recipientID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

type memGroups struct{ s *memStore }

func (r memGroups) GetChannel(_ context.Context, groupID int64) (*models.GroupChannel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	channel, ok := r.s.channels[groupID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *channel
	return &copied, nil
}

func (r memGroups) GetMembership(_ context.Context, groupID, userID int64) (*models.GroupMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.members[groupID][userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &models.GroupMembership{GroupID: groupID, UserID: userID, Role: role}, nil
}

func (r memGroups) ListGroupIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]int64, 0)
	for groupID, roles := range r.s.members {
		if _, ok := roles[userID]; ok {
			ids = append(ids, groupID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r memGroups) ListMemberIDs(_ context.Context, groupID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]int64, 0, len(r.s.members[groupID]))
	for userID := range r.s.members[groupID] {
		ids = append(ids, userID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type memUsers struct{ s *memStore }

func (r memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

type roomEvent struct {
	Room  models.RoomID
	Event models.Event
}

type userEvent struct {
	UserID int64
	Event  models.Event
}

// recordingBroadcaster captures published events and answers IsViewing from
// a configurable set.
type recordingBroadcaster struct {
	mu         sync.Mutex
	roomEvents []roomEvent
	userEvents []userEvent
	joined     map[int64][]models.RoomID
	evicted    []models.RoomID
	viewing    map[string]bool
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{
		joined:  make(map[int64][]models.RoomID),
		viewing: make(map[string]bool),
	}
}

func viewKey(userID int64, room models.RoomID) string {
	return fmt.Sprintf("%d|%s", userID, room.Key())
}

func (b *recordingBroadcaster) setViewing(userID int64, room models.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewing[viewKey(userID, room)] = true
}

func (b *recordingBroadcaster) PublishToRoom(_ context.Context, room models.RoomID, event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roomEvents = append(b.roomEvents, roomEvent{Room: room, Event: event})
}

func (b *recordingBroadcaster) PublishToUser(_ context.Context, userID int64, event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userEvents = append(b.userEvents, userEvent{UserID: userID, Event: event})
}

func (b *recordingBroadcaster) JoinUser(userID int64, room models.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined[userID] = append(b.joined[userID], room)
}

func (b *recordingBroadcaster) EvictRoom(room models.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evicted = append(b.evicted, room)
}

func (b *recordingBroadcaster) IsViewing(userID int64, room models.RoomID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewing[viewKey(userID, room)]
}

func (b *recordingBroadcaster) eventsFor(userID int64, eventType string) []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Event
	for _, e := range b.userEvents {
		if e.UserID == userID && e.Event.Type == eventType {
			out = append(out, e.Event)
		}
	}
	return out
}

func (b *recordingBroadcaster) roomEventsOf(eventType string) []roomEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []roomEvent
	for _, e := range b.roomEvents {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type chatFixture struct {
	store         *memStore
	broadcaster   *recordingBroadcaster
	membership    *MembershipService
	notifications *NotificationService
	chat          *ChatService
}

func newChatFixture() *chatFixture {
	store := newMemStore()
	broadcaster := newRecordingBroadcaster()
	membership := NewMembershipService(store)
	notifications := NewNotificationService(store, broadcaster, broadcaster)
	return &chatFixture{
		store:         store,
		broadcaster:   broadcaster,
		membership:    membership,
		notifications: notifications,
		chat:          NewChatService(store, membership, notifications, broadcaster, 0),
	}
}
