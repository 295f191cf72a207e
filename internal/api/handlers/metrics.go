package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neurotune/neurotune-api/internal/engine"
)

// EngineStats exposes generation counters
type EngineStats interface {
	StateReporter
	Stats() engine.Stats
	Options() engine.Options
}

type MetricsHandler struct {
	startTime time.Time
	version   string
	engine    EngineStats
}

func NewMetricsHandler(version string, eng EngineStats) *MetricsHandler {
	return &MetricsHandler{
		startTime: time.Now(),
		version:   version,
		engine:    eng,
	}
}

const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
)

// formatUptime formats the uptime duration with seconds rounded to 2 decimal places
func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % secondsPerMinute
	seconds := d.Seconds() - float64(hours*secondsPerHour) - float64(minutes*secondsPerMinute)

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%.2fs", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%.2fs", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", seconds)
}

type MetricsResponse struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version"`
	StartTime string        `json:"start_time"`
	System    SystemMetrics `json:"system"`
	Engine    EngineMetrics `json:"engine"`
}

type EngineMetrics struct {
	State           string       `json:"state"`
	Model           string       `json:"model,omitempty"`
	Workers         int          `json:"workers"`
	MaxRetries      int          `json:"max_retries"`
	TimeoutSeconds  float64      `json:"timeout_seconds"`
	TimeoutFallback bool         `json:"timeout_fallback"`
	StrictTiming    bool         `json:"strict_timing"`
	Stats           engine.Stats `json:"stats"`
}

type SystemMetrics struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
	MemTotalMB   uint64 `json:"mem_total_mb"`
	NumGC        uint32 `json:"num_gc"`
}

const (
	bytesToMB = 1024 * 1024
)

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)
	opts := h.engine.Options()

	metrics := MetricsResponse{
		Status:    "healthy",
		Uptime:    formatUptime(uptime),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		StartTime: h.startTime.UTC().Format(time.RFC3339),
		System: SystemMetrics{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			MemAllocMB:   m.Alloc / bytesToMB,
			MemTotalMB:   m.TotalAlloc / bytesToMB,
			NumGC:        m.NumGC,
		},
		Engine: EngineMetrics{
			State:           h.engine.State().String(),
			Model:           opts.Model,
			Workers:         opts.Workers,
			MaxRetries:      opts.MaxRetries,
			TimeoutSeconds:  opts.Timeout.Seconds(),
			TimeoutFallback: opts.TimeoutFallback,
			StrictTiming:    opts.StrictTiming,
			Stats:           h.engine.Stats(),
		},
	}

	c.JSON(http.StatusOK, metrics)
}
