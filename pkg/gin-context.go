package pkg

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID         = "userID"
	ContextOrganizationID = "organizationID"
	ContextUserRole       = "userRole"
)

// GetUserID reads the authenticated user. It answers 401 itself when absent.
func GetUserID(c *gin.Context) (string, bool) {
	return getString(c, ContextUserID)
}

// GetOrganizationID reads the caller's organization. It answers 401 itself when absent.
func GetOrganizationID(c *gin.Context) (string, bool) {
	return getString(c, ContextOrganizationID)
}

func getString(c *gin.Context, key string) (string, bool) {
	value := c.GetString(key)
	if value == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated"})
		return "", false
	}
	return value, true
}
