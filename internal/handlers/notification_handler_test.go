package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
)

type stubNotificationService struct {
	listResult      []models.Notification
	listTotal       int
	markErr         error
	unread          int
	updated         int64
	lastRecipientID int64
	lastUnreadOnly  bool
	lastPage        int
	lastLimit       int
	lastID          int64
}

func (s *stubNotificationService) List(_ context.Context, recipientID int64, unreadOnly bool, page int, limit int) ([]models.Notification, int, error) {
	s.lastRecipientID = recipientID
	s.lastUnreadOnly = unreadOnly
	s.lastPage = page
	s.lastLimit = limit
	return s.listResult, s.listTotal, nil
}

func (s *stubNotificationService) MarkRead(_ context.Context, recipientID int64, notificationID int64) (*models.Notification, error) {
	s.lastRecipientID = recipientID
	s.lastID = notificationID
	if s.markErr != nil {
		return nil, s.markErr
	}
	readAt := time.Now().UTC()
	return &models.Notification{ID: notificationID, RecipientID: recipientID, IsRead: true, ReadAt: &readAt}, nil
}

func (s *stubNotificationService) MarkAllRead(_ context.Context, recipientID int64) (int64, error) {
	s.lastRecipientID = recipientID
	return s.updated, nil
}

func (s *stubNotificationService) UnreadCount(_ context.Context, recipientID int64) (int, error) {
	s.lastRecipientID = recipientID
	return s.unread, nil
}

func newNotificationTestApp(handler *NotificationHandler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "42")
		return c.Next()
	})
	app.Get("/api/v1/notifications", handler.List)
	app.Get("/api/v1/notifications/unread-count", handler.UnreadCount)
	app.Put("/api/v1/notifications/read-all", handler.MarkAllRead)
	app.Put("/api/v1/notifications/:id/read", handler.MarkRead)
	return app
}

func TestListNotificationsForwardsFilter(t *testing.T) {
	service := &stubNotificationService{
		listResult: []models.Notification{{ID: 3, RecipientID: 42, Kind: models.NotificationKindNewMessage, Excerpt: "Hello"}},
		listTotal:  1,
	}
	app := newNotificationTestApp(NewNotificationHandler(service))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=true&limit=20", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !service.lastUnreadOnly || service.lastLimit != 20 || service.lastPage != 1 || service.lastRecipientID != 42 {
		t.Fatalf("unexpected forwarded query: %+v", service)
	}

	var body struct {
		Notifications []models.Notification  `json:"notifications"`
		Pagination    models.PaginationMeta `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Notifications) != 1 || body.Notifications[0].Excerpt != "Hello" || body.Pagination.TotalPages != 1 {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	service := &stubNotificationService{}
	app := newNotificationTestApp(NewNotificationHandler(service))

	resp, err := app.Test(httptest.NewRequest(http.MethodPut, "/api/v1/notifications/5/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || service.lastID != 5 {
		t.Fatalf("expected 200 for notification 5, got %d for %d", resp.StatusCode, service.lastID)
	}

	var body struct {
		Notification models.Notification `json:"notification"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !body.Notification.IsRead {
		t.Fatal("expected notification to be read")
	}
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	app := newNotificationTestApp(NewNotificationHandler(&stubNotificationService{markErr: services.ErrNotFound}))

	resp, err := app.Test(httptest.NewRequest(http.MethodPut, "/api/v1/notifications/5/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMarkAllNotificationsReadAndCount(t *testing.T) {
	service := &stubNotificationService{updated: 3, unread: 0}
	app := newNotificationTestApp(NewNotificationHandler(service))

	resp, err := app.Test(httptest.NewRequest(http.MethodPut, "/api/v1/notifications/read-all", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var updated struct {
		Updated int64 `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if updated.Updated != 3 {
		t.Fatalf("expected 3 updated, got %d", updated.Updated)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var count struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if count.UnreadCount != 0 {
		t.Fatalf("expected zero unread, got %d", count.UnreadCount)
	}
}
