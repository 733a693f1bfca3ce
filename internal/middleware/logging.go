// Package middleware provides Echo middleware for logging, security and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// healthPaths are logged at debug level so liveness checks do not flood the log.
var healthPaths = map[string]bool{
	"/healthz":      true,
	"/proxy/status": true,
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at warn level; health checks at debug.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case healthPaths[req.URL.Path]:
				level = slog.LevelDebug
			}

			// Query strings are omitted: booking lookups carry visitor e-mails.
			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
