// Package middleware holds the gin middleware shared by the HTTP routes.
package middleware

import (
	"strings"

	"classifieds-messaging/backend/pkg/errors"
	"classifieds-messaging/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "userId"

// Authenticator resolves a bearer token to a user id
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// JWTAuthMiddleware checks that the request has a valid JWT and stores the user id
func JWTAuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.Error(errors.NewUnauthorizedError("unauthenticated", "Authorization header is required"))
			c.Abort()
			return
		}

		// Strip "Bearer " prefix if present
		if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
			token = token[7:]
		}

		userID, err := auth.Authenticate(token)
		if err != nil {
			logger.FromGin(c).Warn("Invalid JWT token", "error", err.Error())
			c.Error(errors.NewUnauthorizedError("unauthenticated", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		reqLogger := logger.FromGin(c).WithUserID(userID)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), reqLogger))

		c.Next()
	}
}

// UserID returns the id stored by JWTAuthMiddleware
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
