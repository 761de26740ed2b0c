// users.go implements the account administration endpoints: listing,
// approval, role assignment and deletion.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/api/httperr"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// UserHandlers handles account administration endpoints
type UserHandlers struct {
	accounts *services.AccountService
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(accounts *services.AccountService) *UserHandlers {
	return &UserHandlers{accounts: accounts}
}

// SetRoleRequest is the body of PUT /api/v1/users/:id/role.
type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// parseAccountID reads the :id path parameter, aborting with 400 if it is not
// a positive integer.
func parseAccountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		httperr.BadRequest(c, "Invalid user ID")
		return 0, false
	}
	return id, true
}

// @Summary      List users
// @Description  All accounts in ascending id order, without password hashes. Admin only.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "users: []models.AccountSummary"
// @Failure      403  {object}  map[string]interface{}  "permission denied"
// @Router       /api/v1/users [get]
// ListUsersHandler lists all accounts
// GET /api/v1/users
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		users, err := h.accounts.List(c.Request.Context(), p)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// ApproveUserHandler lets a pending account log in
// POST /api/v1/users/:id/approve
func (h *UserHandlers) ApproveUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseAccountID(c)
		if !ok {
			return
		}

		p, _ := middleware.PrincipalFrom(c)
		if err := h.accounts.Approve(c.Request.Context(), p, id); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User approved"})
	}
}

// @Summary      Set user role
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  int             true  "User ID"
// @Param        body  body  SetRoleRequest  true  "user or admin"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "invalid role"
// @Router       /api/v1/users/{id}/role [put]
// SetRoleHandler changes an account's role
// PUT /api/v1/users/:id/role
func (h *UserHandlers) SetRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseAccountID(c)
		if !ok {
			return
		}

		var req SetRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "role is required")
			return
		}

		p, _ := middleware.PrincipalFrom(c)
		if err := h.accounts.SetRole(c.Request.Context(), p, id, models.Role(req.Role)); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Role updated"})
	}
}

// DeleteUserHandler removes an account
// DELETE /api/v1/users/:id
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseAccountID(c)
		if !ok {
			return
		}

		p, _ := middleware.PrincipalFrom(c)
		if err := h.accounts.Delete(c.Request.Context(), p, id); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	}
}
