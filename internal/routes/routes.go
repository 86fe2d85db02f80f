package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trailcrew/TrailCrewBack/internal/config"
	"github.com/trailcrew/TrailCrewBack/internal/handlers"
	"github.com/trailcrew/TrailCrewBack/internal/middleware"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/repository"
	"github.com/trailcrew/TrailCrewBack/internal/services"
	chatws "github.com/trailcrew/TrailCrewBack/internal/websocket"
)

// RegisterRoutes builds the chat services over store and mounts the REST,
// websocket and metrics endpoints. The returned gateway must be closed on
// shutdown.
func RegisterRoutes(app *fiber.App, cfg *config.Config, store repository.Store, broker chatws.Broker) (*chatws.Gateway, error) {
	membershipService := services.NewMembershipService(store)
	opts := chatws.Options{SendBuffer: cfg.WSSendBuffer}
	if cfg.UsesNATS() {
		opts.ViewTTL = cfg.NATSViewTTL
	}
	gateway, err := chatws.NewGateway(
		chatws.TokenAuthenticator{Secret: cfg.JWTSecret},
		membershipService,
		broker,
		opts,
	)
	if err != nil {
		return nil, err
	}

	notificationService := services.NewNotificationService(store, gateway, gateway)
	chatService := services.NewChatService(store, membershipService, notificationService, gateway, cfg.MaxMessageLength)

	chatHandler := handlers.NewChatHandler(chatService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	wsHandler := handlers.NewWebSocketHandler(gateway, chatService, chatws.ClientConfig{
		ReadLimit:     cfg.WSReadLimit,
		WriteTimeout:  cfg.WSWriteTimeout,
		RatePerSecond: cfg.WSRatePerSecond,
		RateBurst:     cfg.WSRateBurst,
	})

	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := app.Group("/api")

	api.Use("/v1/ws", wsHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(wsHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(chatws.TokenAuthenticator{Secret: cfg.JWTSecret}))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/unread-count", chatHandler.UnreadCount)
	conversations.Get("/:id/messages", chatHandler.GetMessages(models.RoomKindConversation))
	conversations.Post("/:id/messages", chatHandler.SendMessage(models.RoomKindConversation))
	conversations.Delete("/:id/messages/:messageId", chatHandler.DeleteMessage(models.RoomKindConversation))
	conversations.Put("/:id/read", chatHandler.MarkAsRead)
	conversations.Delete("/:id", chatHandler.DeleteConversation)

	groups := authProtected.Group("/groups")
	groups.Get("/:id/messages", chatHandler.GetMessages(models.RoomKindGroup))
	groups.Post("/:id/messages", chatHandler.SendMessage(models.RoomKindGroup))
	groups.Delete("/:id/messages/:messageId", chatHandler.DeleteMessage(models.RoomKindGroup))

	notifications := authProtected.Group("/notifications")
	notifications.Get("", notificationHandler.List)
	notifications.Get("/unread-count", notificationHandler.UnreadCount)
	notifications.Put("/read-all", notificationHandler.MarkAllRead)
	notifications.Put("/:id/read", notificationHandler.MarkRead)

	return gateway, nil
}
