// Package api wires together all HTTP routes of the passport service.
//
// Route grouping:
//   - /health and /ready are unauthenticated probes.
//   - Everything under /api/v1 requires a bearer token. Assembly (POST and
//     PUT /passports, recompute) is rate limited per actor when a limiter is
//     configured. Approval, signing and deletion additionally require a study
//     role carried in the token.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai4hf/passport/internal/api/auditlogs"
	"github.com/ai4hf/passport/internal/api/passports"
	relationsapi "github.com/ai4hf/passport/internal/api/relations"
	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/middleware"
	"github.com/ai4hf/passport/internal/relations"
	"github.com/ai4hf/passport/internal/roles"
	"github.com/ai4hf/passport/internal/storage"
)

// Version is reported by /version. It is overridden at build time.
var Version = "dev"

// Pinger is satisfied by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// LedgerBook is the audit view served by the passport and audit log routes.
type LedgerBook interface {
	passports.LogBook
	auditlogs.Book
}

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	DB        Pinger
	Passports passports.Service
	Book      LedgerBook
	Bindings  *relations.Bindings
	Auditor   relationsapi.Auditor
	// InTx makes relation writes and their audit entries atomic. Optional.
	InTx   audit.Transactor
	Tokens middleware.TokenValidator
	// Limiter throttles assembly. Nil disables rate limiting.
	Limiter middleware.Limiter
	// Archive is probed by /ready when signing is enabled. Optional.
	Archive storage.Storage
	Logger  *slog.Logger
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware(logger))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Archive))
	router.GET("/version", versionHandler())

	passportHandlers := passports.NewHandlers(deps.Passports, deps.Book)
	auditHandlers := auditlogs.NewHandlers(deps.Book)
	relationHandlers := relationsapi.NewHandlers(deps.Bindings, deps.Auditor, deps.InTx)

	throttle := func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		throttle = middleware.RateLimitMiddleware(deps.Limiter, cfg.RateLimit.AssembliesPerMinute)
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(deps.Tokens))
	{
		p := apiV1.Group("/passports")
		p.POST("", throttle, passportHandlers.Create())
		p.PUT("", throttle, passportHandlers.Assemble())
		p.GET("", passportHandlers.List())
		p.GET("/:id", passportHandlers.Get())
		p.GET("/:id/audit-log-book", passportHandlers.AuditLogBook())
		p.POST("/:id/recompute", throttle, passportHandlers.Recompute())
		p.POST("/:id/approve",
			middleware.RequireAnyRole(roles.StudyOwner, roles.QualityAssuranceSpecialist),
			passportHandlers.Approve())
		p.POST("/:id/sign",
			middleware.RequireAnyRole(roles.StudyOwner),
			passportHandlers.Sign())
		p.DELETE("/:id",
			middleware.RequireAnyRole(roles.StudyOwner, roles.OrganizationAdmin),
			passportHandlers.Delete())

		a := apiV1.Group("/audit-logs")
		a.GET("", auditHandlers.List())
		a.GET("/:id", auditHandlers.Get())
		a.GET("/:id/passports", auditHandlers.Passports())
		a.POST("/:id/passports",
			middleware.RequireAnyRole(roles.StudyOwner, roles.QualityAssuranceSpecialist),
			auditHandlers.Link())

		relationHandlers.Register(apiV1.Group("/relations"))
	}

	return router
}

// healthCheckHandler reports liveness, including database reachability.
// GET /health
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessProbeKey never exists; a NotFound answer proves the archive is reachable.
const readinessProbeKey = ".readiness-probe"

// readinessHandler additionally probes the signature archive when one is configured.
// GET /ready
func readinessHandler(db Pinger, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			rc, err := archive.Download(c.Request.Context(), readinessProbeKey)
			if err == nil {
				rc.Close()
			} else if !errors.Is(err, storage.ErrNotFound) {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
