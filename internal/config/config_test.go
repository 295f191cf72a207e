package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no configs/config.yml is picked up
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite://neurotune.db", cfg.DatabaseURL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, AuthModeNone, cfg.AuthMode)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "deepseek-ai/DeepSeek-R1-Distill-Llama-8B", cfg.LLMModel)
	assert.Equal(t, 2048, cfg.LLMMaxNewTokens)
	assert.InDelta(t, 0.6, cfg.LLMTemperature, 1e-9)
	assert.InDelta(t, 0.95, cfg.LLMTopP, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 2, cfg.LLMMaxRetries)
	assert.Equal(t, 4, cfg.LLMWorkers)
	assert.True(t, cfg.LLMTimeoutFallback)
	assert.False(t, cfg.LLMStructuredOutput)
	assert.True(t, cfg.ScheduleStrictTiming)
	assert.InDelta(t, 0.1, cfg.ScheduleAlignmentTolerance, 1e-9)
	assert.False(t, cfg.IsGatewayMode())
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9000")
	t.Setenv("AUTH_MODE", "Gateway")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LLM_TIMEOUT_SECONDS", "2.5")
	t.Setenv("LLM_TIMEOUT_FALLBACK", "false")
	t.Setenv("SCHEDULE_STRICT_TIMING", "false")
	t.Setenv("LLM_BASE_URL", "http://vllm:8000/v1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.IsGatewayMode())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2500*time.Millisecond, cfg.LLMTimeout)
	assert.False(t, cfg.LLMTimeoutFallback)
	assert.False(t, cfg.ScheduleStrictTiming)
	assert.Equal(t, "http://vllm:8000/v1", cfg.LLMBaseURL)
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "neurotune.yml")
	require.NoError(t, os.WriteFile(path, []byte("LLM_WORKERS: 8\nLLM_MODEL: gemini-2.5-flash\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LLM_MODEL", "gpt-4o-mini")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.LLMWorkers)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel, "environment wins over the file")
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	isolate(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                       "8080",
			DatabaseURL:                "sqlite://x.db",
			AuthMode:                   AuthModeNone,
			LLMProvider:                "openai",
			LLMModel:                   "m",
			LLMMaxNewTokens:            16,
			LLMTemperature:             0.6,
			LLMTopP:                    0.95,
			LLMTimeout:                 time.Second,
			LLMWorkers:                 1,
			ScheduleAlignmentTolerance: 0.1,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty database", func(c *Config) { c.DatabaseURL = "" }},
		{"bad auth mode", func(c *Config) { c.AuthMode = "jwt" }},
		{"bad provider", func(c *Config) { c.LLMProvider = "anthropic" }},
		{"empty model", func(c *Config) { c.LLMModel = "" }},
		{"zero tokens", func(c *Config) { c.LLMMaxNewTokens = 0 }},
		{"temperature too high", func(c *Config) { c.LLMTemperature = 3 }},
		{"top_p zero", func(c *Config) { c.LLMTopP = 0 }},
		{"zero timeout", func(c *Config) { c.LLMTimeout = 0 }},
		{"negative retries", func(c *Config) { c.LLMMaxRetries = -1 }},
		{"zero workers", func(c *Config) { c.LLMWorkers = 0 }},
		{"tolerance one", func(c *Config) { c.ScheduleAlignmentTolerance = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
