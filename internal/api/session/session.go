// Package session implements the login, registration, logout and identity
// endpoints under /api/v1/auth and /api/v1/me.
package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/api/httperr"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// Handlers serves the session endpoints.
type Handlers struct {
	authn     *auth.Authenticator
	tokens    *auth.TokenManager
	directory *services.Directory
}

// NewHandlers creates the session handlers.
func NewHandlers(authn *auth.Authenticator, tokens *auth.TokenManager, directory *services.Directory) *Handlers {
	return &Handlers{authn: authn, tokens: tokens, directory: directory}
}

// Credentials is the login and registration request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      auth.Principal `json:"user"`
}

// @Summary      Log in
// @Description  Exchange a username and password for a session token. Unknown users and wrong passwords both return 401; accounts awaiting approval return 403.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  Credentials  true  "Username and password"
// @Success      200  {object}  LoginResponse
// @Failure      400  {object}  map[string]interface{}  "Malformed body"
// @Failure      401  {object}  map[string]interface{}  "invalid credentials"
// @Failure      403  {object}  map[string]interface{}  "account pending admin approval"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates a user and issues a session token
// POST /api/v1/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request body")
			return
		}

		p, err := h.authn.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		token, expiresAt, err := h.tokens.Issue(p)
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue session"})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			ExpiresAt: expiresAt.UTC(),
			User:      p,
		})
	}
}

// @Summary      Register
// @Description  Create a pending account. An admin must approve it before it can log in.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  Credentials  true  "Desired username and password"
// @Success      201  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "username cannot be empty"
// @Failure      409  {object}  map[string]interface{}  "username already exists"
// @Router       /api/v1/auth/register [post]
// RegisterHandler creates a pending account
// POST /api/v1/auth/register
func (h *Handlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request body")
			return
		}

		msg, err := h.directory.Register(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			httperr.Respond(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}

// LogoutHandler records the end of the session. Tokens are stateless, so the
// client discards its token.
// POST /api/v1/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		h.authn.Logout(c.Request.Context(), p)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// MeHandler returns the caller's current identity and permissions.
// GET /api/v1/me
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)

		allowed := []string{}
		for _, a := range auth.AllActions() {
			if p.Can(a) {
				allowed = append(allowed, a.String())
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"user":        p,
			"permissions": allowed,
		})
	}
}
