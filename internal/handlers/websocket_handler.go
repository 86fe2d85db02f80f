package handlers

import (
	"context"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/middleware"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
	chatws "github.com/trailcrew/TrailCrewBack/internal/websocket"
)

type messageSender interface {
	SendMessage(ctx context.Context, actorID int64, room models.RoomID, content string) (*services.ChatDelivery, error)
}

type WebSocketHandler struct {
	gateway *chatws.Gateway
	service messageSender
	config  chatws.ClientConfig
}

func NewWebSocketHandler(gateway *chatws.Gateway, service messageSender, config chatws.ClientConfig) *WebSocketHandler {
	return &WebSocketHandler{
		gateway: gateway,
		service: service,
		config:  config,
	}
}

// WebSocketAuth resolves the bearer token before the upgrade. A rejected
// token fails the handshake with 401; the client reconnects with a fresh
// token.
func (h *WebSocketHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	identity, err := h.gateway.Authenticate(handshakeToken(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	middleware.SetIdentity(c, identity)
	return c.Next()
}

func (h *WebSocketHandler) HandleWebSocket(conn *websocket.Conn) {
	userIDStr, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		_ = conn.Close()
		return
	}

	ctx := context.Background()
	session, err := h.gateway.Open(ctx, models.Identity{UserID: userID, Role: role})
	if err != nil {
		logging.Error().Err(err).Int64("user_id", userID).Msg("open websocket session")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","data":{"code":"internal","message":"failed to open session"}}`))
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.gateway, conn, session, h.service, h.config)
	writerDone := make(chan struct{})
	go func() {
		client.WritePump()
		close(writerDone)
	}()
	client.ReadPump(ctx)
	<-writerDone
}

// handshakeToken reads the token query parameter, falling back to the
// bearer header.
func handshakeToken(c *fiber.Ctx) string {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token
	}
	token, _ := middleware.BearerToken(c)
	return token
}
