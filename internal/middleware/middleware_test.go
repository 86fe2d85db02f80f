package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	chatws "github.com/trailcrew/TrailCrewBack/internal/websocket"
	"github.com/trailcrew/TrailCrewBack/pkg/utils"
)

const testSecret = "middleware-test-secret"

func TestAuthRequired(t *testing.T) {
	app := fiber.New()
	app.Get("/me", AuthRequired(chatws.TokenAuthenticator{Secret: testSecret}), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id"), "role": c.Locals("role")})
	})

	token, err := utils.GenerateToken("42", "admin", testSecret)
	require.NoError(t, err)
	named, err := utils.GenerateToken("alice", "member", testSecret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"missing token", "Bearer", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"non numeric subject", "Bearer " + named, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme and padding", "  bearer   " + token + " ", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			if tc.status == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				require.Equal(t, "42", body["user_id"])
				require.Equal(t, "admin", body["role"])
			}
		})
	}
}

func TestBearerTokenAndSetIdentity(t *testing.T) {
	app := fiber.New()
	app.Get("/token", func(c *fiber.Ctx) error {
		token, ok := BearerToken(c)
		if !ok {
			return c.SendStatus(fiber.StatusNoContent)
		}
		SetIdentity(c, models.Identity{UserID: 9, Role: "guide"})
		return c.JSON(fiber.Map{"token": token, "user_id": c.Locals("user_id"), "role": c.Locals("role")})
	})

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.Header.Set("Authorization", "BEARER abc.def")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, map[string]string{"token": "abc.def", "user_id": "9", "role": "guide"}, body)

	req = httptest.NewRequest(http.MethodGet, "/token", nil)
	req.Header.Set("Authorization", "Bearer a b")
	resp, err = app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRequestLoggerWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	previous := logging.Logger()
	logging.SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { logging.SetLogger(previous) })

	app := fiber.New()
	app.Use(RequestLogger())
	app.Get("/ping", func(c *fiber.Ctx) error {
		c.Locals("user_id", "7")
		return c.SendStatus(fiber.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	require.Equal(t, "req-1", resp.Header.Get(RequestIDHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "req-1", line["request_id"])
	require.Equal(t, "/ping", line["path"])
	require.Equal(t, "7", line["user_id"])
	require.EqualValues(t, fiber.StatusTeapot, line["status"])
}

func TestRequestLoggerGeneratesIDAndLogsErrors(t *testing.T) {
	var buf bytes.Buffer
	previous := logging.Logger()
	logging.SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { logging.SetLogger(previous) })

	app := fiber.New()
	app.Use(RequestLogger())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "error", line["level"])
	require.EqualValues(t, fiber.StatusServiceUnavailable, line["status"])
}
