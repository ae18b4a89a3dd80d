package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request id string.
	RequestIDKey = "request_id"

	// LoggerKey is the gin.Context key holding the request-scoped *slog.Logger.
	LoggerKey = "logger"
)

// RequestIDMiddleware reuses an inbound X-Request-ID or generates a UUID, echoes
// it on the response and stores a logger tagged with it for handlers.
func RequestIDMiddleware(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Set(LoggerKey, base.With("request_id", id))
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// Logger returns the request-scoped logger, or the default logger outside a request.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
