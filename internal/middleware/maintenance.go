package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/castline/backend/pkg/response"
)

// Maintenance rejects every request with 503 while enabled.
func Maintenance(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled {
			response.ServiceUnavailable(c, "maintenance mode is enabled")
			c.Abort()
			return
		}
		c.Next()
	}
}
