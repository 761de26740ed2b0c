// Package httperr turns service errors into JSON error responses.
package httperr

import (
	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/apperr"
)

// Respond aborts the request with the status apperr.HTTPStatus assigns to
// err. Store and filesystem faults are reported as a generic message; their
// detail is attached to the context for the request log.
func Respond(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if apperr.IsOperationFailed(err) {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "Operation failed"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// BadRequest aborts with 400 and msg.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(400, gin.H{"error": msg})
}
