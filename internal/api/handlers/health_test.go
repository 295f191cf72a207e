package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateOnly engine.State

func (s stateOnly) State() engine.State { return engine.State(s) }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		state      engine.State
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{"all good", nil, engine.StateReady, http.StatusOK, "healthy", "ok"},
		{"engine loading", nil, engine.StateLoading, http.StatusOK, "degraded", "ok"},
		{"engine failed", nil, engine.StateFailed, http.StatusOK, "degraded", "ok"},
		{"database down", errors.New("refused"), engine.StateReady, http.StatusServiceUnavailable, "unhealthy", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(func() error { return tt.pingErr }, stateOnly(tt.state))
			r := gin.New()
			r.GET("/health", h.HealthCheck)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.wantCode, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantDB, body["database"])
			assert.Equal(t, tt.state.String(), body["engine"])
		})
	}
}

func TestRootAndNotFound(t *testing.T) {
	r := gin.New()
	r.GET("/", NewRootHandler("Neurotune API", "1.2.3").Index)
	r.NoRoute(NotFound)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Neurotune API"`)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Endpoint error","details":"Endpoint /nope doesn't exist"}`, w.Body.String())
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5.00s", formatUptime(5*time.Second))
	assert.Equal(t, "2m3.50s", formatUptime(2*time.Minute+3500*time.Millisecond))
	assert.Equal(t, "1h0m1.00s", formatUptime(time.Hour+time.Second))
}

func TestGetMetrics(t *testing.T) {
	gen := &fakeGenerator{}
	h := NewMetricsHandler("9.9.9", gen)
	r := gin.New()
	r.GET("/api/metrics", h.GetMetrics)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "9.9.9", resp.Version)
	assert.Equal(t, "ready", resp.Engine.State)
	assert.Equal(t, 2, resp.Engine.MaxRetries)
	assert.Equal(t, 15.0, resp.Engine.TimeoutSeconds)
	assert.True(t, resp.Engine.StrictTiming)
	assert.NotZero(t, resp.System.NumGoroutine)
}
