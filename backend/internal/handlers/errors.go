package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/user/agentdesk/backend/internal/models"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// classify maps a domain error to its HTTP status and code.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}
	var authErr *models.AuthError
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &authErr):
		body.Code, body.Reason = "AuthError", string(authErr.Reason)
		return fiber.StatusUnauthorized, body
	case errors.Is(err, models.ErrAuth):
		body.Code = "AuthError"
		return fiber.StatusUnauthorized, body
	case errors.Is(err, models.ErrValidation):
		body.Code = "ValidationError"
		return fiber.StatusBadRequest, body
	case errors.Is(err, models.ErrInsufficientBalance):
		body.Code = "InsufficientBalance"
		return fiber.StatusPaymentRequired, body
	case errors.Is(err, models.ErrNotFound):
		body.Code = "NotFound"
		return fiber.StatusNotFound, body
	case errors.Is(err, models.ErrBusy):
		body.Code = "Busy"
		return fiber.StatusConflict, body
	case errors.Is(err, models.ErrInternalInconsistency):
		body.Error, body.Code = "internal inconsistency", "InternalInconsistency"
		return fiber.StatusInternalServerError, body
	case errors.As(err, &fiberErr):
		body.Error, body.Code = fiberErr.Message, "HTTPError"
		return fiberErr.Code, body
	}
	body.Error, body.Code = "internal error", "Internal"
	return fiber.StatusInternalServerError, body
}

// ErrorHandler renders errors returned from handlers. Server-side failures are logged with
// the full error; clients only see the code.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	logger = logger.With(slog.String("component", "http"))
	return func(c *fiber.Ctx, err error) error {
		status, body := classify(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("code", body.Code),
				slog.String("error", err.Error()),
			)
		}
		return c.Status(status).JSON(body)
	}
}
