package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64) ([]models.ConversationSummary, error)
	CreateConversation(ctx context.Context, actorID int64, recipientID int64, initialMessage string) (*services.ConversationResult, error)
	ListMessages(ctx context.Context, actorID int64, room models.RoomID, page int, limit int) ([]models.ChatMessage, int, error)
	SendMessage(ctx context.Context, actorID int64, room models.RoomID, content string) (*services.ChatDelivery, error)
	DeleteMessage(ctx context.Context, identity models.Identity, room models.RoomID, messageID int64) error
	DeleteConversation(ctx context.Context, actorID int64, conversationID int64) error
	MarkAsRead(ctx context.Context, actorID int64, conversationID int64) (*models.ReadMarker, error)
	UnreadCount(ctx context.Context, actorID int64) (int, error)
}

// ChatHandler serves conversation and group channel endpoints. Group routes
// share the conversation handlers through the room kind.
type ChatHandler struct {
	service chatApplicationService
}

type createConversationRequest struct {
	RecipientID    int64  `json:"recipientId" validate:"required,gt=0"`
	InitialMessage string `json:"initialMessage"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

func NewChatHandler(service chatApplicationService) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}

	conversations, err := h.service.ListConversations(c.Context(), identity.UserID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}

	var req createConversationRequest
	if err := bindBody(c, &req); err != nil {
		return mapChatError(c, err)
	}

	result, err := h.service.CreateConversation(c.Context(), identity.UserID, req.RecipientID, req.InitialMessage)
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"conversation": result.Conversation,
		"message":      result.Message,
		"created":      result.Created,
	})
}

func (h *ChatHandler) GetMessages(kind models.RoomKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := parseIdentity(c)
		if err != nil {
			return mapChatError(c, err)
		}
		room, err := parseRoom(c, kind)
		if err != nil {
			return mapChatError(c, err)
		}

		page, limit := parsePage(c)
		messages, total, err := h.service.ListMessages(c.Context(), identity.UserID, room, page, limit)
		if err != nil {
			return mapChatError(c, err)
		}

		return c.JSON(fiber.Map{
			"messages":   messages,
			"pagination": buildPaginationMeta(page, limit, total),
		})
	}
}

func (h *ChatHandler) SendMessage(kind models.RoomKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := parseIdentity(c)
		if err != nil {
			return mapChatError(c, err)
		}
		room, err := parseRoom(c, kind)
		if err != nil {
			return mapChatError(c, err)
		}

		var req sendMessageRequest
		if err := bindBody(c, &req); err != nil {
			return mapChatError(c, err)
		}

		delivery, err := h.service.SendMessage(c.Context(), identity.UserID, room, req.Text)
		if err != nil {
			return mapChatError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
	}
}

func (h *ChatHandler) DeleteMessage(kind models.RoomKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := parseIdentity(c)
		if err != nil {
			return mapChatError(c, err)
		}
		room, err := parseRoom(c, kind)
		if err != nil {
			return mapChatError(c, err)
		}
		messageID, err := parseIDParam(c, "messageId")
		if err != nil {
			return mapChatError(c, err)
		}

		if err := h.service.DeleteMessage(c.Context(), identity, room, messageID); err != nil {
			return mapChatError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return mapChatError(c, err)
	}

	marker, err := h.service.MarkAsRead(c.Context(), identity.UserID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"read_marker": marker})
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return mapChatError(c, err)
	}

	if err := h.service.DeleteConversation(c.Context(), identity.UserID, conversationID); err != nil {
		return mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}

	count, err := h.service.UnreadCount(c.Context(), identity.UserID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unread_count": count})
}

func parseRoom(c *fiber.Ctx, kind models.RoomKind) (models.RoomID, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return models.RoomID{}, err
	}
	return models.RoomID{Kind: kind, ID: id}, nil
}
