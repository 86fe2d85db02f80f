package chatws

import (
	"context"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/goccy/go-json"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/metrics"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
	"golang.org/x/time/rate"
)

const frameTimeout = 10 * time.Second

// Conn is the subset of the websocket connection used by Client.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

type sender interface {
	SendMessage(ctx context.Context, actorID int64, room models.RoomID, content string) (*services.ChatDelivery, error)
}

type ClientConfig struct {
	ReadLimit     int64
	WriteTimeout  time.Duration
	RatePerSecond float64
	RateBurst     int
}

type Client struct {
	gateway *Gateway
	conn    Conn
	session *Session
	service sender
	limiter *rate.Limiter
	config  ClientConfig
}

func NewClient(gateway *Gateway, conn Conn, session *Session, service sender, config ClientConfig) *Client {
	if config.ReadLimit <= 0 {
		config.ReadLimit = 8192
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 10
	}
	return &Client{
		gateway: gateway,
		conn:    conn,
		session: session,
		service: service,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst),
		config:  config,
	}
}

// ReadPump handles client frames until the connection fails or the session
// is evicted, then removes the session.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.gateway.Disconnect(c.session.ID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.ReadLimit)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			logging.Debug().Err(err).Str("conn_id", c.session.ID).Msg("websocket read ended")
			return
		}

		if !c.limiter.Allow() {
			c.reply(errorFrame(CodeRateLimited, "too many frames"))
			continue
		}

		var incoming inboundFrame
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.reply(errorFrame(CodeInvalid, "invalid message payload"))
			continue
		}
		metrics.GatewayInboundFrames.WithLabelValues(incoming.Type).Inc()

		c.handle(ctx, incoming)
	}
}

func (c *Client) handle(ctx context.Context, incoming inboundFrame) {
	switch incoming.Type {
	case FramePing:
		pong, err := encodeFrame("", models.Event{Type: models.EventPong})
		if err == nil {
			c.reply(pong)
		}
	case FrameJoinConversation:
		room, err := models.ParseRoomKey(incoming.RoomID)
		if err != nil {
			c.replyError(err)
			return
		}
		frameCtx, cancel := context.WithTimeout(ctx, frameTimeout)
		member, err := c.gateway.IsMember(frameCtx, c.session.UserID, room)
		cancel()
		if err != nil {
			c.replyError(err)
			return
		}
		if !member {
			c.replyError(services.ErrForbidden)
			return
		}
		if err := c.gateway.View(c.session.ID, room); err != nil {
			c.replyError(err)
		}
	case FrameLeaveConversation:
		room, err := models.ParseRoomKey(incoming.RoomID)
		if err != nil {
			c.replyError(err)
			return
		}
		if err := c.gateway.LeaveRoom(c.session.ID, room); err != nil {
			c.replyError(err)
		}
	case FrameSendMessage:
		room, err := models.ParseRoomKey(incoming.RoomID)
		if err != nil {
			c.replyError(err)
			return
		}
		frameCtx, cancel := context.WithTimeout(ctx, frameTimeout)
		_, err = c.service.SendMessage(frameCtx, c.session.UserID, room, incoming.Text)
		cancel()
		if err != nil {
			logging.Debug().Err(err).Str("conn_id", c.session.ID).Str("room", room.Key()).Msg("websocket send rejected")
			c.replyError(err)
		}
	default:
		c.reply(errorFrame(CodeInvalid, "unsupported message type"))
	}
}

// WritePump is the only writer on the connection. It drains the session
// until the gateway closes it.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.session.Outbound() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.gateway.Disconnect(c.session.ID)
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) reply(frame []byte) {
	c.gateway.Send(c.session.ID, frame)
}

func (c *Client) replyError(err error) {
	code, message := errorCode(err)
	c.reply(errorFrame(code, message))
}
