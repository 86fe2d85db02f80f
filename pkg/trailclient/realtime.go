package trailclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"
)

// RealtimeConfig configures the websocket client. MaxReconnectAttempts < 0
// retries forever.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

var ErrNotConnected = errors.New("realtime: not connected")

type dispatcher struct {
	mu             sync.RWMutex
	handlers       map[string][]func(Event)
	all            []func(Event)
	onConnected    []func(ConnectedInfo)
	onDisconnected []func(error)
	onReconnecting []func(int, time.Duration)
}

// dispatch runs handlers on the read goroutine, so they observe events in
// arrival order.
func (d *dispatcher) dispatch(event Event) {
	d.mu.RLock()
	handlers := append(append([]func(Event){}, d.handlers[event.Type]...), d.all...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

func (d *dispatcher) emitConnected(info ConnectedInfo) {
	d.mu.RLock()
	handlers := append([]func(ConnectedInfo){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(info)
	}
}

func (d *dispatcher) emitDisconnected(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

func (d *dispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay is exponential with up to 50% jitter on the base. A connection
// that stayed up for a minute resets the attempt count.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > time.Minute {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// RealtimeClient keeps one websocket to the gateway. After a reconnect the
// server restores membership rooms and the client re-sends
// join_conversation for every room it was viewing.
type RealtimeClient struct {
	client     *Client
	config     RealtimeConfig
	dispatcher *dispatcher
	recon      *reconnector

	mu          sync.Mutex
	conn        *websocket.Conn
	state       RealtimeState
	intentional bool
	cancel      context.CancelFunc
	viewing     map[string]Room
	done        chan struct{}

	pong chan struct{}
}

func (c *Client) Realtime(config RealtimeConfig) *RealtimeClient {
	config.defaults()
	return &RealtimeClient{
		client: c,
		config: config,
		dispatcher: &dispatcher{
			handlers: make(map[string][]func(Event)),
		},
		recon: &reconnector{
			baseDelay:   config.ReconnectBaseDelay,
			maxDelay:    config.ReconnectMaxDelay,
			maxAttempts: config.MaxReconnectAttempts,
		},
		state:   StateDisconnected,
		viewing: make(map[string]Room),
		pong:    make(chan struct{}, 1),
	}
}

// On registers a handler for one event type.
func (rt *RealtimeClient) On(eventType string, h func(Event)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.handlers[eventType] = append(rt.dispatcher.handlers[eventType], h)
	rt.dispatcher.mu.Unlock()
}

// OnEvent registers a handler for every event.
func (rt *RealtimeClient) OnEvent(h func(Event)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.all = append(rt.dispatcher.all, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnConnected(h func(ConnectedInfo)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnDisconnected(h func(error)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Done is closed when the client stops for good: Close was called, the
// context ended or reconnect attempts ran out.
func (rt *RealtimeClient) Done() <-chan struct{} {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.done == nil {
		rt.done = make(chan struct{})
	}
	return rt.done
}

// Connect dials the gateway and waits for the connected frame. A rejected
// token returns an error matching ErrAuthentication and is never retried.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentional = false
	rt.mu.Unlock()

	conn, first, err := rt.dial(ctx)
	if err != nil {
		rt.setState(StateDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	rt.cancel = cancel
	if rt.done == nil || isClosed(rt.done) {
		rt.done = make(chan struct{})
	}
	rt.mu.Unlock()

	rt.attach(runCtx, conn, first)
	go rt.run(runCtx, conn)
	return nil
}

func (rt *RealtimeClient) Close() error {
	rt.mu.Lock()
	rt.intentional = true
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// JoinConversation marks room as actively viewed. Notifications for it are
// created already read while any session views it.
func (rt *RealtimeClient) JoinConversation(ctx context.Context, room Room) error {
	rt.mu.Lock()
	rt.viewing[room.Key()] = room
	rt.mu.Unlock()
	return rt.send(ctx, outboundFrame{Type: frameJoinConversation, RoomID: room.Key()})
}

func (rt *RealtimeClient) LeaveConversation(ctx context.Context, room Room) error {
	rt.mu.Lock()
	delete(rt.viewing, room.Key())
	rt.mu.Unlock()
	return rt.send(ctx, outboundFrame{Type: frameLeaveConversation, RoomID: room.Key()})
}

// SendMessage sends over the socket. The message arrives back as a
// message:new event once persisted.
func (rt *RealtimeClient) SendMessage(ctx context.Context, room Room, text string) error {
	return rt.send(ctx, outboundFrame{Type: frameSendMessage, RoomID: room.Key(), Text: text})
}

// Ping sends an application ping and waits for the pong.
func (rt *RealtimeClient) Ping(ctx context.Context) error {
	select {
	case <-rt.pong:
	default:
	}
	if err := rt.send(ctx, outboundFrame{Type: framePing}); err != nil {
		return err
	}

	timer := time.NewTimer(rt.config.PongTimeout)
	defer timer.Stop()
	select {
	case <-rt.pong:
		return nil
	case <-timer.C:
		return errors.New("realtime: pong timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rt *RealtimeClient) send(ctx context.Context, frame outboundFrame) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (rt *RealtimeClient) wsURL() (string, error) {
	u, err := url.Parse(rt.client.BaseURL())
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + "/ws"
	u.RawQuery = url.Values{"token": {rt.client.Token()}}.Encode()
	return u.String(), nil
}

// dial returns the socket and its connected frame.
func (rt *RealtimeClient) dial(ctx context.Context) (*websocket.Conn, Event, error) {
	target, err := rt.wsURL()
	if err != nil {
		return nil, Event{}, err
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: rt.config.HTTPClient})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, Event{}, &APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return nil, Event{}, fmt.Errorf("%w: websocket dial: %v", ErrTransient, err)
	}
	conn.SetReadLimit(1 << 20)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, Event{}, fmt.Errorf("%w: read connected frame: %v", ErrTransient, err)
	}
	var first Event
	if err := json.Unmarshal(data, &first); err != nil || first.Type != EventConnected {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, Event{}, fmt.Errorf("expected %q frame, got %q", EventConnected, first.Type)
	}
	if _, err := first.Connected(); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, Event{}, err
	}
	return conn, first, nil
}

// attach installs conn and hands the connected frame to OnConnected and to
// the event handlers, after the viewed rooms are re-joined.
func (rt *RealtimeClient) attach(ctx context.Context, conn *websocket.Conn, first Event) {
	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	viewing := make([]Room, 0, len(rt.viewing))
	for _, room := range rt.viewing {
		viewing = append(viewing, room)
	}
	rt.mu.Unlock()
	rt.recon.markConnected()

	for _, room := range viewing {
		_ = rt.send(ctx, outboundFrame{Type: frameJoinConversation, RoomID: room.Key()})
	}
	if info, err := first.Connected(); err == nil {
		rt.dispatcher.emitConnected(*info)
	}
	rt.dispatcher.dispatch(first)
}

func (rt *RealtimeClient) run(ctx context.Context, conn *websocket.Conn) {
	defer rt.finish()

	for {
		err := rt.serve(ctx, conn)
		if rt.stopped(ctx) {
			return
		}

		rt.mu.Lock()
		rt.conn = nil
		rt.state = StateDisconnected
		rt.mu.Unlock()
		rt.dispatcher.emitDisconnected(err)

		if !rt.config.AutoReconnect {
			return
		}
		conn = rt.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (rt *RealtimeClient) reconnect(ctx context.Context) *websocket.Conn {
	for rt.recon.shouldReconnect() {
		delay := rt.recon.nextDelay()
		rt.setState(StateReconnecting)
		rt.dispatcher.emitReconnecting(rt.recon.attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, first, err := rt.dial(ctx)
		if err == nil {
			rt.attach(ctx, conn, first)
			return conn
		}
		if !IsTransient(err) {
			rt.setState(StateDisconnected)
			rt.dispatcher.emitDisconnected(err)
			return nil
		}
	}
	rt.setState(StateDisconnected)
	return nil
}

// serve reads until the connection fails. The heartbeat closes the
// connection when a pong does not arrive in time, which ends the read.
func (rt *RealtimeClient) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go rt.heartbeat(connCtx, conn)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return err
		}

		var event Event
		if json.Unmarshal(data, &event) != nil {
			continue
		}
		if event.Type == EventPong {
			select {
			case rt.pong <- struct{}{}:
			default:
			}
		}
		rt.dispatcher.dispatch(event)
	}
}

func (rt *RealtimeClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.Ping(ctx); err != nil {
				if ctx.Err() == nil {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (rt *RealtimeClient) stopped(ctx context.Context) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.intentional || ctx.Err() != nil
}

func (rt *RealtimeClient) setState(state RealtimeState) {
	rt.mu.Lock()
	rt.state = state
	rt.mu.Unlock()
}

func (rt *RealtimeClient) finish() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.conn = nil
	rt.state = StateDisconnected
	if rt.done != nil && !isClosed(rt.done) {
		close(rt.done)
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
