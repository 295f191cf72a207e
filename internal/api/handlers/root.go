package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const apiDescription = "Generates neuro-adaptive audio modulation schedules for focus, relaxation and sleep sessions"

// RootHandler describes the API
type RootHandler struct {
	title   string
	version string
}

func NewRootHandler(title, version string) *RootHandler {
	return &RootHandler{title: title, version: version}
}

func (h *RootHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        h.title,
		"version":     h.version,
		"description": apiDescription,
		"docs":        "/health",
	})
}

// NotFound answers unknown routes
func NotFound(c *gin.Context) {
	respondError(c, http.StatusNotFound, "Endpoint error", fmt.Sprintf("Endpoint %s doesn't exist", c.Request.URL.Path))
}
