package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/neurotune/neurotune-api/internal/api"
	"github.com/neurotune/neurotune-api/internal/config"
	"github.com/neurotune/neurotune-api/internal/database"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/neurotune/neurotune-api/internal/llm"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/metrics"
	"github.com/neurotune/neurotune-api/internal/observability"
	"github.com/neurotune/neurotune-api/internal/repository"
)

const (
	sentryFlushTimeout   = 2 * time.Second
	shutdownTimeout      = 10 * time.Second
	readHeaderTimeout    = 10 * time.Second
	engineLoadTimeout    = 2 * time.Minute
	engineRetryBaseDelay = 5 * time.Second
	engineRetryMaxDelay  = time.Minute
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

// GetVersion returns the current release version
func GetVersion() string {
	return releaseVersion
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	initSentry(cfg)
	defer sentry.Flush(sentryFlushTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer := observability.InitializeLangfuse(ctx, cfg)
	recorder := metrics.Multi{
		metrics.NewSentryMetrics(cfg.SentryDSN != ""),
		metrics.NewClient(ctx, cfg.Environment),
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		fatal("Failed to connect to database", err)
	}
	if err := database.Migrate(db); err != nil {
		fatal("Failed to run migrations", err)
	}

	provider, err := llm.NewProviderFactory(cfg.OpenAIAPIKey, cfg.GeminiAPIKey, llm.Settings{
		BaseURL:      cfg.LLMBaseURL,
		Model:        cfg.LLMModel,
		MaxNewTokens: cfg.LLMMaxNewTokens,
		Temperature:  cfg.LLMTemperature,
		TopP:         cfg.LLMTopP,
		MaxParallel:  cfg.LLMWorkers,
		VerifyOnLoad: cfg.LLMVerifyOnLoad,
	}).GetProvider(cfg.LLMProvider)
	if err != nil {
		fatal("Failed to configure LLM provider", err)
	}

	eng := engine.New(provider, engine.Options{
		Model:              cfg.LLMModel,
		MaxRetries:         cfg.LLMMaxRetries,
		Timeout:            cfg.LLMTimeout,
		TimeoutFallback:    cfg.LLMTimeoutFallback,
		Workers:            cfg.LLMWorkers,
		StrictTiming:       cfg.ScheduleStrictTiming,
		AlignmentTolerance: cfg.ScheduleAlignmentTolerance,
		StructuredOutput:   cfg.LLMStructuredOutput,
	}, engine.WithRecorder(recorder), engine.WithTracer(tracer))

	// The HTTP server comes up while the model loads; /health reports the engine state.
	go loadEngine(ctx, eng)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.SetupRouter(api.Dependencies{
		Config:   cfg,
		Version:  GetVersion(),
		Engine:   eng,
		Sessions: repository.NewSessionRepository(db),
		PingDB:   func() error { return database.Ping(db) },
		Metrics:  recorder,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info("🚀 Starting server", logger.Fields{"port": cfg.Port, "version": releaseVersion, "provider": provider.Name()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Failed to start server", err)
		}
	}()

	waitForShutdown(cancel, srv, tracer)
}

func initSentry(cfg *config.Config) {
	if cfg.SentryDSN == "" {
		logger.Warn("⚠️  Sentry not configured (SENTRY_DSN not set)", nil)
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "neurotune-api@" + releaseVersion,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		EnableLogs:       true,
		Debug:            !cfg.IsProduction(),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if event.Request != nil {
				event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
			}
			return event
		},
	}); err != nil {
		logger.Warn("Failed to initialize Sentry", logger.Fields{"error": err.Error()})
		return
	}
	logger.Info("✅ Sentry initialized", logger.Fields{"environment": cfg.Environment, "release": releaseVersion})
}

// loadEngine keeps retrying until the engine is ready or ctx is cancelled
func loadEngine(ctx context.Context, eng *engine.Engine) {
	delay := engineRetryBaseDelay
	for {
		loadCtx, cancel := context.WithTimeout(ctx, engineLoadTimeout)
		err := eng.Load(loadCtx)
		cancel()
		if err == nil {
			return
		}

		logger.Warn("Engine load failed, retrying", logger.Fields{"error": err.Error(), "retry_in": delay.String()})
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, engineRetryMaxDelay)
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the server
func waitForShutdown(cancel context.CancelFunc, srv *http.Server, tracer *observability.LangfuseClient) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server", nil)
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", err, nil)
	}
	tracer.Flush(ctx)
}

func fatal(msg string, err error) {
	sentry.CaptureException(err)
	sentry.Flush(sentryFlushTimeout)
	logger.Error(msg, err, nil)
	logger.Sync()
	os.Exit(1)
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string)
	sensitiveKeys := map[string]bool{
		"authorization": true,
		"cookie":        true,
		"x-api-key":     true,
		"x-user-id":     true,
	}

	for k, v := range headers {
		if sensitiveKeys[strings.ToLower(k)] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
