// Package system implements the host inspection endpoints under /api/v1/system.
package system

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/api/httperr"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// Handlers serves the host inspection endpoints.
type Handlers struct {
	system *services.SystemService
}

// NewHandlers creates the host inspection handlers.
func NewHandlers(system *services.SystemService) *Handlers {
	return &Handlers{system: system}
}

// @Summary      Host metrics
// @Description  CPU, memory and disk utilisation of the console host. When sampling fails the readings are zero and "error" describes the failure.
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  sysinfo.Metrics
// @Failure      403  {object}  map[string]interface{}  "Permission denied"
// @Router       /api/v1/system/metrics [get]
// MetricsHandler returns a utilisation snapshot
// GET /api/v1/system/metrics
func (h *Handlers) MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		m, err := h.system.Metrics(c.Request.Context(), p)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// ProcessesHandler returns the head of the host process table
// GET /api/v1/system/processes
func (h *Handlers) ProcessesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		lines, err := h.system.Processes(c.Request.Context(), p)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"processes": lines})
	}
}
