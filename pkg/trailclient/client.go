// Package trailclient is the Go client for the TrailCrew chat API: REST
// calls, the realtime websocket and, in the cache subpackage, the client
// cache that keeps views consistent with the server.
//
//	client := trailclient.NewClient("https://chat.trailcrew.app", token)
//	conversations, _ := client.ListConversations(ctx)
//	msg, _ := client.SendMessage(ctx, trailclient.ConversationRoom(12), "On the ridge")
package trailclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	DefaultTimeout = 15 * time.Second
	apiPrefix      = "/api/v1"
)

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after the auth service refreshed it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation returns the existing conversation with recipientID if
// there is one. A non-empty initialMessage is sent as the first message.
func (c *Client) CreateConversation(ctx context.Context, recipientID int64, initialMessage string) (*ConversationResult, error) {
	body := map[string]any{"recipientId": recipientID}
	if initialMessage != "" {
		body["initialMessage"] = initialMessage
	}
	var out ConversationResult
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns one page of room messages, newest first.
func (c *Client) ListMessages(ctx context.Context, room Room, opts ListOptions) (*MessagePage, error) {
	var out MessagePage
	if err := c.do(ctx, http.MethodGet, room.path()+"/messages", opts.query(nil), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendMessage(ctx context.Context, room Room, text string) (*Message, error) {
	var out struct {
		Message *Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, room.path()+"/messages", nil, map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

func (c *Client) DeleteMessage(ctx context.Context, room Room, messageID int64) error {
	path := room.path() + "/messages/" + strconv.FormatInt(messageID, 10)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID int64) (*ReadMarker, error) {
	var out struct {
		ReadMarker *ReadMarker `json:"read_marker"`
	}
	path := ConversationRoom(conversationID).path() + "/read"
	if err := c.do(ctx, http.MethodPut, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.ReadMarker, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	return c.do(ctx, http.MethodDelete, ConversationRoom(conversationID).path(), nil, nil, nil)
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	return c.count(ctx, "/conversations/unread-count")
}

func (c *Client) ListNotifications(ctx context.Context, unreadOnly bool, opts ListOptions) (*NotificationPage, error) {
	query := url.Values{}
	if unreadOnly {
		query.Set("unread", "true")
	}
	var out NotificationPage
	if err := c.do(ctx, http.MethodGet, "/notifications", opts.query(query), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NotificationUnreadCount(ctx context.Context) (int, error) {
	return c.count(ctx, "/notifications/unread-count")
}

func (c *Client) MarkNotificationRead(ctx context.Context, notificationID int64) (*Notification, error) {
	var out struct {
		Notification *Notification `json:"notification"`
	}
	path := "/notifications/" + strconv.FormatInt(notificationID, 10) + "/read"
	if err := c.do(ctx, http.MethodPut, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Notification, nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPut, "/notifications/read-all", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *Client) count(ctx context.Context, path string) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (o ListOptions) query(values url.Values) url.Values {
	if values == nil {
		values = url.Values{}
	}
	if o.Page > 0 {
		values.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		values.Set("limit", strconv.Itoa(o.Limit))
	}
	return values
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
