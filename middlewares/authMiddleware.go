package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vastramandir/storefront_backend/utils"
)

// RequireAdmin guards admin routes; the session must already be in the context.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, ok := utils.GetUsernameFromContext(c.Request.Context())
		if !ok || username == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Access Denied", "code": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
