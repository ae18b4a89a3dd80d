// Package respond maps core errors onto HTTP responses.
package respond

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/middleware"
)

// Error writes the status matching err and aborts the chain. Unclassified
// errors are logged and reported as 500 without their message.
func Error(c *gin.Context, err error) {
	var (
		verr *apperr.ValidationError
		nerr *apperr.NotFoundError
		cerr *apperr.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Message}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
	case errors.Is(err, apperr.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &nerr):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":  nerr.Entity + " not found",
			"entity": nerr.Entity,
			"id":     nerr.ID,
		})
	case errors.Is(err, apperr.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &cerr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":  cerr.Entity + " already exists",
			"entity": cerr.Entity,
			"key":    cerr.Key,
		})
	case errors.Is(err, apperr.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		middleware.Logger(c).Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
