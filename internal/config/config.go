package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultConfigDir  = "configs"
	defaultConfigName = "config"

	AuthModeNone    = "none"
	AuthModeGateway = "gateway"
)

// Config holds the application configuration.
// Values come from defaults, then an optional config.yml, then the environment.
type Config struct {
	// Environment
	Environment string
	Port        string
	LogLevel    string
	APITitle    string
	APIVersion  string

	// Persistence
	DatabaseURL string

	// HTTP
	AllowedOrigins []string

	// Auth mode
	// - "none": No auth (self-hosted, local dev)
	// - "gateway": Trust X-User-* headers from an upstream gateway
	AuthMode string

	// LLM
	LLMProvider         string
	LLMModel            string
	LLMBaseURL          string // OpenAI-compatible server (vLLM, llama.cpp)
	OpenAIAPIKey        string
	GeminiAPIKey        string
	LLMMaxNewTokens     int
	LLMTemperature      float64
	LLMTopP             float64
	LLMTimeout          time.Duration
	LLMMaxRetries       int
	LLMWorkers          int
	LLMTimeoutFallback  bool
	LLMStructuredOutput bool
	LLMVerifyOnLoad     bool

	// Schedule validation
	ScheduleStrictTiming       bool
	ScheduleAlignmentTolerance float64

	// Observability
	SentryDSN         string // Sentry DSN for error tracking
	LangfusePublicKey string // Langfuse public key
	LangfuseSecretKey string // Langfuse secret key
	LangfuseHost      string // Langfuse host URL (cloud or self-hosted)
	LangfuseEnabled   bool   // Feature flag for Langfuse
}

var defaults = map[string]any{
	"ENVIRONMENT":                  "development",
	"PORT":                         "8080",
	"LOG_LEVEL":                    "info",
	"API_TITLE":                    "Neurotune API",
	"API_VERSION":                  "1.0.0",
	"DATABASE_URL":                 "sqlite://neurotune.db",
	"ALLOWED_ORIGINS":              "http://localhost:3000",
	"AUTH_MODE":                    AuthModeNone,
	"LLM_PROVIDER":                 "openai",
	"LLM_MODEL":                    "deepseek-ai/DeepSeek-R1-Distill-Llama-8B",
	"LLM_BASE_URL":                 "",
	"OPENAI_API_KEY":               "",
	"GEMINI_API_KEY":               "",
	"LLM_MAX_NEW_TOKENS":           2048,
	"LLM_TEMPERATURE":              0.6,
	"LLM_TOP_P":                    0.95,
	"LLM_TIMEOUT_SECONDS":          15,
	"LLM_MAX_RETRIES":              2,
	"LLM_WORKERS":                  4,
	"LLM_TIMEOUT_FALLBACK":         true,
	"LLM_STRUCTURED_OUTPUT":        false,
	"LLM_VERIFY_ON_LOAD":           false,
	"SCHEDULE_STRICT_TIMING":       true,
	"SCHEDULE_ALIGNMENT_TOLERANCE": 0.1,
	"SENTRY_DSN":                   "",
	"LANGFUSE_PUBLIC_KEY":          "",
	"LANGFUSE_SECRET_KEY":          "",
	"LANGFUSE_HOST":                "https://cloud.langfuse.com",
	"LANGFUSE_ENABLED":             false,
}

// Load reads configuration. A missing config file is not an error; an unreadable one is.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(defaultConfigDir)
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || os.Getenv("CONFIG_FILE") != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{
		Environment:    v.GetString("ENVIRONMENT"),
		Port:           v.GetString("PORT"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		APITitle:       v.GetString("API_TITLE"),
		APIVersion:     v.GetString("API_VERSION"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		AuthMode:       strings.ToLower(v.GetString("AUTH_MODE")),

		LLMProvider:         strings.ToLower(v.GetString("LLM_PROVIDER")),
		LLMModel:            v.GetString("LLM_MODEL"),
		LLMBaseURL:          v.GetString("LLM_BASE_URL"),
		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		GeminiAPIKey:        v.GetString("GEMINI_API_KEY"),
		LLMMaxNewTokens:     v.GetInt("LLM_MAX_NEW_TOKENS"),
		LLMTemperature:      v.GetFloat64("LLM_TEMPERATURE"),
		LLMTopP:             v.GetFloat64("LLM_TOP_P"),
		LLMTimeout:          time.Duration(v.GetFloat64("LLM_TIMEOUT_SECONDS") * float64(time.Second)),
		LLMMaxRetries:       v.GetInt("LLM_MAX_RETRIES"),
		LLMWorkers:          v.GetInt("LLM_WORKERS"),
		LLMTimeoutFallback:  v.GetBool("LLM_TIMEOUT_FALLBACK"),
		LLMStructuredOutput: v.GetBool("LLM_STRUCTURED_OUTPUT"),
		LLMVerifyOnLoad:     v.GetBool("LLM_VERIFY_ON_LOAD"),

		ScheduleStrictTiming:       v.GetBool("SCHEDULE_STRICT_TIMING"),
		ScheduleAlignmentTolerance: v.GetFloat64("SCHEDULE_ALIGNMENT_TOLERANCE"),

		SentryDSN:         v.GetString("SENTRY_DSN"),
		LangfusePublicKey: v.GetString("LANGFUSE_PUBLIC_KEY"),
		LangfuseSecretKey: v.GetString("LANGFUSE_SECRET_KEY"),
		LangfuseHost:      v.GetString("LANGFUSE_HOST"),
		LangfuseEnabled:   v.GetBool("LANGFUSE_ENABLED"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must not be empty"))
	}
	if c.AuthMode != AuthModeNone && c.AuthMode != AuthModeGateway {
		errs = append(errs, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeNone, AuthModeGateway, c.AuthMode))
	}
	switch c.LLMProvider {
	case "openai", "local", "gemini":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be openai, local or gemini, got %q", c.LLMProvider))
	}
	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL must not be empty"))
	}
	if c.LLMMaxNewTokens <= 0 {
		errs = append(errs, errors.New("LLM_MAX_NEW_TOKENS must be positive"))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, errors.New("LLM_TEMPERATURE must be within [0, 2]"))
	}
	if c.LLMTopP <= 0 || c.LLMTopP > 1 {
		errs = append(errs, errors.New("LLM_TOP_P must be within (0, 1]"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT_SECONDS must be positive"))
	}
	if c.LLMMaxRetries < 0 {
		errs = append(errs, errors.New("LLM_MAX_RETRIES must not be negative"))
	}
	if c.LLMWorkers <= 0 {
		errs = append(errs, errors.New("LLM_WORKERS must be positive"))
	}
	if c.ScheduleAlignmentTolerance < 0 || c.ScheduleAlignmentTolerance >= 1 {
		errs = append(errs, errors.New("SCHEDULE_ALIGNMENT_TOLERANCE must be within [0, 1)"))
	}

	return errors.Join(errs...)
}

// IsGatewayMode returns true if running behind an auth gateway
func (c *Config) IsGatewayMode() bool {
	return c.AuthMode == AuthModeGateway
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
