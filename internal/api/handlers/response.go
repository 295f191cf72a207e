package handlers

import (
	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope every JSON endpoint answers with
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details string      `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, APIResponse{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, errMsg, details string) {
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Error: errMsg, Details: details})
}
