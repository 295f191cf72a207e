package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/neurotune/neurotune-api/internal/logger"
)

// Pinger checks a dependency is reachable
type Pinger func() error

type HealthHandler struct {
	pingDB Pinger
	engine StateReporter
}

// StateReporter exposes the generation engine lifecycle
type StateReporter interface {
	State() engine.State
}

func NewHealthHandler(pingDB Pinger, eng StateReporter) *HealthHandler {
	return &HealthHandler{pingDB: pingDB, engine: eng}
}

// HealthCheck reports database and engine status. A degraded engine still
// serves catalog schedules, so only the database decides the status code.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	if err := h.pingDB(); err != nil {
		logger.Error("Database health check failed", err, logger.WithContext(c))
		dbStatus = "error"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	state := h.engine.State()
	if state != engine.StateReady && code == http.StatusOK {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"engine":   state.String(),
		"database": dbStatus,
	})
}
