// Package api wires together all HTTP routes of the ops console.
//
// Route groups:
//   - /health, /ready and /version are unauthenticated probes.
//   - /api/v1/auth/login and /api/v1/auth/register are unauthenticated and
//     rate limited per client IP.
//   - Every other /api/v1 route requires a session token. The account behind
//     the token is reloaded on each request, and admin-only groups are gated
//     with middleware.RequireAction before the handler's own service check.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/api/admin"
	"github.com/opsconsole/opsconsole/internal/api/files"
	"github.com/opsconsole/opsconsole/internal/api/session"
	"github.com/opsconsole/opsconsole/internal/api/system"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
	"github.com/opsconsole/opsconsole/internal/storage"
)

// readinessProbe is a file name looked up (never created) to check that the
// workspace backend is reachable.
const readinessProbe = ".readiness-probe"

// Pinger reports whether the account store is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the components the router serves. Limiter may be nil to
// disable rate limiting.
type Dependencies struct {
	DB            Pinger
	Workspace     storage.Workspace
	Directory     *services.Directory
	Authenticator *auth.Authenticator
	Tokens        *auth.TokenManager
	Files         *services.FileService
	Accounts      *services.AccountService
	Audit         *services.AuditViewer
	System        *services.SystemService
	Limiter       middleware.Limiter
	Version       string
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Workspace))
	router.GET("/version", versionHandler(deps.Version))

	sessionHandlers := session.NewHandlers(deps.Authenticator, deps.Tokens, deps.Directory)
	fileHandlers := files.NewHandlers(deps.Files)
	systemHandlers := system.NewHandlers(deps.System)
	userHandlers := admin.NewUserHandlers(deps.Accounts)
	auditHandlers := admin.NewAuditHandlers(deps.Audit)

	v1 := router.Group("/api/v1")

	public := v1.Group("/auth")
	if deps.Limiter != nil {
		public.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}
	public.POST("/login", sessionHandlers.LoginHandler())
	public.POST("/register", sessionHandlers.RegisterHandler())

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(deps.Tokens, deps.Directory))
	{
		authed.POST("/auth/logout", sessionHandlers.LogoutHandler())
		authed.GET("/me", sessionHandlers.MeHandler())

		sys := authed.Group("/system", middleware.RequireAction(auth.ActionViewSystem))
		sys.GET("/metrics", systemHandlers.MetricsHandler())
		sys.GET("/processes", systemHandlers.ProcessesHandler())

		// write and delete permissions are checked per operation by FileService
		f := authed.Group("/files", middleware.RequireAction(auth.ActionReadFile))
		f.GET("", fileHandlers.ListHandler())
		f.POST("", fileHandlers.CreateHandler())
		f.GET("/:name", fileHandlers.ReadHandler())
		f.PUT("/:name", fileHandlers.WriteHandler())
		f.DELETE("/:name", fileHandlers.DeleteHandler())

		authed.GET("/audit", middleware.RequireAction(auth.ActionViewAuditLog), auditHandlers.ListAuditHandler())

		users := authed.Group("/users", middleware.RequireAction(auth.ActionManageAccounts))
		users.GET("", userHandlers.ListUsersHandler())
		users.POST("/:id/approve", userHandlers.ApproveUserHandler())
		users.PUT("/:id/role", userHandlers.SetRoleHandler())
		users.DELETE("/:id", userHandlers.DeleteUserHandler())
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
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

// readinessHandler additionally probes the workspace backend, so a readiness
// gate fails while file operations would error.
func readinessHandler(db Pinger, workspace storage.Workspace) gin.HandlerFunc {
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

		if _, err := workspace.Stat(c.Request.Context(), readinessProbe); err != nil && !errors.Is(err, storage.ErrNotExist) {
			checks["workspace"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "workspace backend not ready",
			})
			return
		}
		checks["workspace"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}
