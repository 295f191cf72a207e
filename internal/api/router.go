package api

import (
	"github.com/gin-gonic/gin"
	"github.com/neurotune/neurotune-api/internal/api/handlers"
	apimiddleware "github.com/neurotune/neurotune-api/internal/api/middleware"
	"github.com/neurotune/neurotune-api/internal/config"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/neurotune/neurotune-api/internal/metrics"
)

// Engine is what the HTTP layer needs from the generation engine
type Engine interface {
	handlers.ScheduleGenerator
	handlers.EngineStats
}

// Dependencies are the collaborators the router wires into handlers
type Dependencies struct {
	Config   *config.Config
	Version  string
	Engine   Engine
	Sessions handlers.SessionStore
	PingDB   handlers.Pinger
	Metrics  metrics.Recorder
}

var _ Engine = (*engine.Engine)(nil)

func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking(recorder))

	router.Use(apimiddleware.CORS(cfg.AllowedOrigins))

	if cfg.IsGatewayMode() {
		router.Use(apimiddleware.OptionalGatewayAuth())
	} else {
		router.Use(apimiddleware.NoAuth())
	}

	router.NoRoute(handlers.NotFound)

	rootHandler := handlers.NewRootHandler(cfg.APITitle, deps.Version)
	router.GET("/", rootHandler.Index)

	healthHandler := handlers.NewHealthHandler(deps.PingDB, deps.Engine)
	router.GET("/health", healthHandler.HealthCheck)

	metricsHandler := handlers.NewMetricsHandler(deps.Version, deps.Engine)
	router.GET("/api/metrics", metricsHandler.GetMetrics)

	sessions := router.Group("/sessions")
	if cfg.IsGatewayMode() {
		sessions.Use(apimiddleware.GatewayAuth())
	}
	{
		sessionHandler := handlers.NewSessionHandler(deps.Engine, deps.Sessions)
		sessions.POST("/start", sessionHandler.StartSession)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.POST("/:id/end", sessionHandler.EndSession)

		socketHandler := handlers.NewSessionSocketHandler(deps.Sessions, apimiddleware.OriginAllowed(cfg.AllowedOrigins))
		sessions.GET("/ws/:id", socketHandler.Connect)
	}

	return router
}
