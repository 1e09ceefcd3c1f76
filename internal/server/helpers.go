package server

import (
	"errors"
	"log/slog"
	"net/url"

	"postservice/internal/middleware"
	"postservice/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// pathParam returns the decoded route parameter. Fiber reuses the request
// buffer, so the value is copied before it outlives the handler.
func pathParam(c *fiber.Ctx, name string) (string, error) {
	raw := c.Params(name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+name))
		return "", errResponseWritten
	}
	return utils.CopyString(decoded), nil
}

// respondServiceError writes a 400 for validation failures. Everything else is
// logged in full and answered with a generic 500 carrying message.
func respondServiceError(c *fiber.Ctx, message string, err error) error {
	if models.IsValidationError(err) {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}
	middleware.Logger.ErrorContext(c.UserContext(), message,
		slog.String("path", c.Path()),
		slog.String("error", err.Error()),
	)
	return models.RespondWithError(c, fiber.StatusInternalServerError,
		models.NewInternalError(message, err))
}
