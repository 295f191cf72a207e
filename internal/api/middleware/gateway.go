package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GatewayAuth trusts user info from gateway headers (X-User-ID, X-User-Email, X-User-Role).
// It is used when the API runs behind a gateway that already authenticated the caller.
//
// When AUTH_MODE=gateway, the API trusts these headers unconditionally.
// This should ONLY be used with proper network isolation.
func GatewayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-User-ID") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentication required",
				"details": "Missing X-User-ID header from gateway",
			})
			return
		}
		setGatewayUser(c)
		c.Next()
	}
}

// OptionalGatewayAuth is like GatewayAuth but doesn't fail if headers are missing
func OptionalGatewayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-User-ID") != "" {
			setGatewayUser(c)
		}
		c.Next()
	}
}

func setGatewayUser(c *gin.Context) {
	userIDStr := c.GetHeader("X-User-ID")
	// numeric IDs are linked to sessions; opaque IDs are only logged
	if id, err := strconv.ParseUint(userIDStr, 10, 64); err == nil {
		c.Set("user_id", uint(id))
	}
	c.Set("user_id_str", userIDStr)
	c.Set("user_email", c.GetHeader("X-User-Email"))
	c.Set("user_role", c.GetHeader("X-User-Role"))
}

// GetUserID returns the numeric user ID set by the auth middleware
func GetUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// GetUserIDFromGateway retrieves the user ID from gateway headers
// Returns the string ID and a boolean indicating if it was found
func GetUserIDFromGateway(c *gin.Context) (string, bool) {
	userIDStr, exists := c.Get("user_id_str")
	if !exists {
		return "", false
	}
	id, ok := userIDStr.(string)
	return id, ok
}
