package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
)

type SessionValidator func(ctx context.Context, token string) (*models.Session, error)

func SessionMiddleware() gin.HandlerFunc {
	return SessionMiddlewareWith(models.ValidateSession)
}

// SessionMiddlewareWith puts the admin session in the request context when a token is sent.
// Requests without a token pass through; RequireAdmin rejects them on admin routes.
func SessionMiddlewareWith(validate SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c.Request)
		if token == "" {
			c.Next()
			return
		}
		session, err := validate(c.Request.Context(), token)
		if err != nil || session == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetSessionIdInContext(ctx, session.SessionId)
		ctx = utils.SetUsernameInContext(ctx, session.Username)
		ctx = utils.SetAdminNameInContext(ctx, session.Name)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("token")); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// CartMiddleware carries the shopper's x-cart-id header into the context.
func CartMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cartId := strings.TrimSpace(c.GetHeader("x-cart-id")); cartId != "" {
			c.Request = c.Request.WithContext(utils.SetCartIdInContext(c.Request.Context(), cartId))
		}
		c.Next()
	}
}
