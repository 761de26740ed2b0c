// Package files implements the shared workspace endpoints under /api/v1/files.
package files

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/api/httperr"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// Handlers serves the workspace endpoints. Permission checks, name
// validation and auditing happen in services.FileService.
type Handlers struct {
	files *services.FileService
}

// NewHandlers creates the workspace handlers.
func NewHandlers(files *services.FileService) *Handlers {
	return &Handlers{files: files}
}

// CreateRequest is the body of POST /api/v1/files.
type CreateRequest struct {
	Name string `json:"name"`
}

// WriteRequest is the body of PUT /api/v1/files/:name. A missing content
// field is distinct from an empty string.
type WriteRequest struct {
	Content *string `json:"content"`
}

// @Summary      List files
// @Tags         Files
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "files: []storage.FileInfo"
// @Router       /api/v1/files [get]
// ListHandler lists the workspace
// GET /api/v1/files
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		files, err := h.files.List(c.Request.Context(), p)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": files})
	}
}

// @Summary      Create file
// @Description  Create an empty file. Fails with 409 if the name is taken.
// @Tags         Files
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateRequest  true  "File name"
// @Success      201  {object}  map[string]interface{}  "message, name"
// @Failure      400  {object}  map[string]interface{}  "invalid filename"
// @Failure      409  {object}  map[string]interface{}  "already exists"
// @Router       /api/v1/files [post]
// CreateHandler creates an empty file
// POST /api/v1/files
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request body")
			return
		}

		p, _ := middleware.PrincipalFrom(c)
		if err := h.files.Create(c.Request.Context(), p, req.Name); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "File created", "name": req.Name})
	}
}

// @Summary      Read file
// @Description  Return the content of a file with its SHA-256 checksum.
// @Tags         Files
// @Security     Bearer
// @Produce      json
// @Param        name  path  string  true  "File name"
// @Success      200  {object}  services.FileContent
// @Failure      400  {object}  map[string]interface{}  "invalid filename"
// @Failure      404  {object}  map[string]interface{}  "not found"
// @Router       /api/v1/files/{name} [get]
// ReadHandler returns a file's content and checksum
// GET /api/v1/files/:name
func (h *Handlers) ReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		content, err := h.files.Read(c.Request.Context(), p, c.Param("name"))
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, content)
	}
}

// @Summary      Write file
// @Description  Replace the content of an existing file. Missing files are never created. Admin only.
// @Tags         Files
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        name  path  string        true  "File name"
// @Param        body  body  WriteRequest  true  "New content"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "no content provided"
// @Failure      403  {object}  map[string]interface{}  "permission denied"
// @Failure      404  {object}  map[string]interface{}  "not found"
// @Router       /api/v1/files/{name} [put]
// WriteHandler overwrites a file
// PUT /api/v1/files/:name
func (h *Handlers) WriteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WriteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request body")
			return
		}

		p, _ := middleware.PrincipalFrom(c)
		if err := h.files.Write(c.Request.Context(), p, c.Param("name"), req.Content); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "File saved"})
	}
}

// @Summary      Delete file
// @Description  Remove a file from the workspace. Admin only.
// @Tags         Files
// @Security     Bearer
// @Produce      json
// @Param        name  path  string  true  "File name"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "invalid filename"
// @Failure      403  {object}  map[string]interface{}  "permission denied"
// @Failure      404  {object}  map[string]interface{}  "not found"
// @Router       /api/v1/files/{name} [delete]
// DeleteHandler removes a file. Admin only.
// DELETE /api/v1/files/:name
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := middleware.PrincipalFrom(c)
		if err := h.files.Delete(c.Request.Context(), p, c.Param("name")); err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
	}
}
