package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled by dashboards and scrapers and only logged at debug
var quietPaths = map[string]struct{}{
	"/metrics":    {},
	"/health":     {},
	"/api/status": {},
	"/api/stats":  {},
}

// LoggingMiddleware logs HTTP requests, with the level following the status
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		path := c.Path()
		status := c.Response().StatusCode()

		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest && status != fiber.StatusUpgradeRequired:
			level = slog.LevelWarn
		default:
			if _, quiet := quietPaths[path]; quiet {
				level = slog.LevelDebug
			}
		}

		logger.Log(context.Background(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
