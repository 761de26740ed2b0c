// Package middleware (rbac.go) gates route groups on the role policy.
//
// The decision is made against the role loaded by AuthMiddleware for this
// request, not a role embedded in the token, so an admin demoted mid-session
// loses access on the next request. Services repeat the check for every
// operation; this gate only rejects a whole route group early.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/auth"
)

// RequireAction aborts with 403 unless the principal may perform action.
// A request without a principal (AuthMiddleware missing) gets 401.
func RequireAction(action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if !p.Can(action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  apperr.ErrPermissionDenied.Error(),
				"action": action.String(),
			})
			return
		}

		c.Next()
	}
}
