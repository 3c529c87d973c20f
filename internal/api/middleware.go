package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit caps request bodies at 1MB. The store rejects empty
// content but sets no upper bound on its length, so this cap is the only
// limit on content size.
const DefaultBodyLimit = 1 * 1024 * 1024

// MaxBodySizeMiddleware returns middleware that rejects oversized request
// bodies before they reach a handler.
func MaxBodySizeMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			ErrorResponse(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body too large: maximum %d bytes", maxBytes))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
