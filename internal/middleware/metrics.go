// Package middleware provides the Gin middleware stack of the passport API:
// request ids, metrics with access logging, bearer authentication, role guards
// and assembly rate limiting.
package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// by route template and writes one access log line per request. Register it after
// RequestIDMiddleware so the log line carries the request id.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())

		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelInfo
		}
		Logger(c).Log(c.Request.Context(), level, "request completed",
			"method", c.Request.Method,
			"route", path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}
