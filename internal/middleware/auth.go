package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
)

// PrincipalKey is the gin.Context key holding the authenticated auth.Principal.
const PrincipalKey = "principal"

// AccountLoader fetches the current state of an account, returning
// apperr.ErrNotFound for deleted accounts.
type AccountLoader interface {
	FindByID(ctx context.Context, id int64) (*models.Account, error)
}

// AuthMiddleware requires a valid session token in the Authorization header.
//
// The token only identifies the account. Its role and approval are reloaded
// from the directory on every request, so a role change, a deletion or a
// revoked approval applies to sessions that are already open.
func AuthMiddleware(tokens *auth.TokenManager, accounts AccountLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := tokens.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		id, err := claims.AccountID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		account, err := accounts.FindByID(c.Request.Context(), id)
		if errors.Is(err, apperr.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Account no longer exists"})
			return
		}
		if err != nil {
			slog.Error("failed to load session account", "account_id", id, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}

		if !account.Approved {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": apperr.ErrPendingApproval.Error()})
			return
		}

		c.Set(PrincipalKey, auth.PrincipalFor(account))
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}
