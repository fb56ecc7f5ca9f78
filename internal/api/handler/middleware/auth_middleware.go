package middleware

import (
	"net/http"
	"strings"

	"flowengine"
	"flowengine/pkg"

	"github.com/gin-gonic/gin"
)

// Identity used in dev mode when the caller sends no headers.
const (
	DevUserID         = "dev-user"
	DevOrganizationID = "default"
)

func AuthMiddleware(cfg flowengine.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Mode == "dev" {
			c.Set(pkg.ContextUserID, headerOr(c, "X-User-ID", DevUserID))
			c.Set(pkg.ContextOrganizationID, headerOr(c, "X-Organization-ID", DevOrganizationID))
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Authorization header required"})
			c.Abort()
			return
		}

		// Bearer token format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := pkg.ValidateToken(parts[1], cfg.JWTConfig.Secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(pkg.ContextUserID, claims.UserID)
		c.Set(pkg.ContextOrganizationID, claims.OrganizationID)
		c.Set(pkg.ContextUserRole, claims.Role)
		c.Next()
	}
}

func headerOr(c *gin.Context, name, fallback string) string {
	if v := c.GetHeader(name); v != "" {
		return v
	}
	return fallback
}
