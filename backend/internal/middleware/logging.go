package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs one line per request after the handler chain has run.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Let the app's error handler write the response so the status is final.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				c.Status(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		}
		if agent, ok := AgentFrom(c); ok {
			attrs = append(attrs, slog.String("agent_id", agent.ID.String()))
		}
		switch {
		case status >= 500:
			logger.Error("request", attrs...)
		case status >= 400:
			logger.Info("request", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
		return nil
	}
}
