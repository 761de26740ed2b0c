package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/api/httperr"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// AuditHandlers serves the audit log viewer.
type AuditHandlers struct {
	viewer *services.AuditViewer
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(viewer *services.AuditViewer) *AuditHandlers {
	return &AuditHandlers{viewer: viewer}
}

// ListAuditHandler returns the raw audit lines, oldest first
// GET /api/v1/audit
func (h *AuditHandlers) ListAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		lines, err := h.viewer.Lines(c.Request.Context(), p)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lines": lines})
	}
}
