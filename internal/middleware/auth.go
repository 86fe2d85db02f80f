package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/models"
)

// Authenticator resolves a bearer token to the caller's identity.
type Authenticator interface {
	Authenticate(token string) (models.Identity, error)
}

// AuthRequired rejects requests without a valid bearer token and stores the
// caller's identity in the request locals.
func AuthRequired(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := BearerToken(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or malformed authorization header",
			})
		}

		identity, err := auth.Authenticate(token)
		if err != nil {
			logging.Debug().Err(err).Str("path", c.Path()).Msg("bearer token rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		SetIdentity(c, identity)
		return c.Next()
	}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(c *fiber.Ctx) (string, bool) {
	fields := strings.Fields(c.Get(fiber.HeaderAuthorization))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

// SetIdentity stores the user id as a decimal string and the role, the form
// every handler reads back.
func SetIdentity(c *fiber.Ctx, identity models.Identity) {
	c.Locals("user_id", strconv.FormatInt(identity.UserID, 10))
	c.Locals("role", identity.Role)
}
