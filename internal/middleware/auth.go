package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/auth"
	"github.com/ai4hf/passport/internal/roles"
)

const (
	// ActorKey holds the authenticated audit.Actor.
	ActorKey = "actor"
	// RolesKey holds the actor's roles.Set.
	RolesKey = "roles"
)

// TokenValidator is satisfied by *auth.TokenService.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AuthMiddleware requires a valid bearer token and stores the actor and roles.
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must start with 'Bearer '"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token is empty"})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			Logger(c).Debug("rejected bearer token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		actor := audit.Actor{ID: claims.PersonID(), Name: claims.Name}
		c.Set(ActorKey, actor)
		c.Set(RolesKey, claims.Roles)
		c.Set(LoggerKey, Logger(c).With("actor", actor.ID))
		c.Next()
	}
}

// ActorFrom returns the authenticated actor.
func ActorFrom(c *gin.Context) (audit.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return audit.Actor{}, false
	}
	a, ok := v.(audit.Actor)
	return a, ok
}

// RequireAnyRole aborts with 403 unless the actor holds at least one of rs.
func RequireAnyRole(rs ...roles.Role) gin.HandlerFunc {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = string(r)
	}
	return func(c *gin.Context) {
		v, ok := c.Get(RolesKey)
		held, _ := v.(roles.Set)
		if ok {
			for _, r := range rs {
				if held.Has(r) {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "Missing required role",
			"details": "Requires one of: " + strings.Join(names, ", "),
		})
	}
}
