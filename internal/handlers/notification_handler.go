package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

type notificationApplicationService interface {
	List(ctx context.Context, recipientID int64, unreadOnly bool, page int, limit int) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, recipientID int64, notificationID int64) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
}

type NotificationHandler struct {
	service notificationApplicationService
}

func NewNotificationHandler(service notificationApplicationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}

	page, limit := parsePage(c)
	unreadOnly := c.QueryBool("unread", false)

	notifications, total, err := h.service.List(c.Context(), identity.UserID, unreadOnly, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"notifications": notifications,
		"pagination":    buildPaginationMeta(page, limit, total),
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
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

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}
	notificationID, err := parseIDParam(c, "id")
	if err != nil {
		return mapChatError(c, err)
	}

	notification, err := h.service.MarkRead(c.Context(), identity.UserID, notificationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"notification": notification})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	identity, err := parseIdentity(c)
	if err != nil {
		return mapChatError(c, err)
	}

	updated, err := h.service.MarkAllRead(c.Context(), identity.UserID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}
