package handlers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/models"
	"github.com/trailcrew/TrailCrewBack/internal/services"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func parseLocalUserID(c *fiber.Ctx) (int64, error) {
	userIDValue := c.Locals("user_id")
	userIDStr, ok := userIDValue.(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(userIDStr, 10, 64)
}

func parseIdentity(c *fiber.Ctx) (models.Identity, error) {
	userID, err := parseLocalUserID(c)
	if err != nil || userID <= 0 {
		return models.Identity{}, services.ErrUnauthenticated
	}
	role, _ := c.Locals("role").(string)
	return models.Identity{UserID: userID, Role: role}, nil
}

func parseIDParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, services.ErrInvalidInput
	}
	return id, nil
}

// bindBody parses and validates a JSON body into dst.
func bindBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return errors.Join(services.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return errors.Join(services.ErrInvalidInput, err)
	}
	return nil
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, models.ErrInvalidRoomKey):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	default:
		logging.Error().
			Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("chat request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
