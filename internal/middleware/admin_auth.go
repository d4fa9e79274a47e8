package middleware

import (
	"net/http"
	"strings"

	"bridge-relayer/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminAuthMiddleware admin JWT check
type AdminAuthMiddleware struct {
	jwtSecret []byte
	logger    *logrus.Entry
}

// NewAdminAuthMiddleware creates the middleware.
func NewAdminAuthMiddleware(jwtSecret []byte, logger *logrus.Entry) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// RequireAdminAuth requires a valid "Authorization: Bearer <admin token>" header.
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(fields).Warn("Admin auth failed - missing Authorization header")
			abortUnauthorized(c, http.StatusUnauthorized, "Authentication required", "MISSING_AUTH_HEADER")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(fields).Warn("Admin auth failed - invalid Authorization format")
			abortUnauthorized(c, http.StatusUnauthorized, "Invalid authorization format, need Bearer token", "INVALID_AUTH_FORMAT")
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			a.logger.WithFields(fields).Warn("Admin auth failed - empty token")
			abortUnauthorized(c, http.StatusUnauthorized, "Empty token", "EMPTY_TOKEN")
			return
		}

		claims, err := handlers.ValidateAdminToken(a.jwtSecret, tokenString)
		if err != nil {
			a.logger.WithFields(fields).WithError(err).Warn("Admin auth failed - invalid token")
			abortUnauthorized(c, http.StatusUnauthorized, "Invalid or expired token", "INVALID_TOKEN")
			return
		}

		c.Set("admin_username", claims.Username)
		c.Set("admin_role", claims.Role)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
