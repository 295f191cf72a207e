package llm

import (
	"context"
	"errors"
)

// ErrProviderNotLoaded is returned by Complete when Load has not succeeded yet
var ErrProviderNotLoaded = errors.New("llm provider not loaded")

// Provider is an inference backend that turns a prompt into raw completion text.
// Output is untrusted: callers sanitize and validate it.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string

	// Load prepares the provider for use. It is idempotent.
	Load(ctx context.Context) error

	// Complete returns only the newly generated text for the request, never the prompt.
	// Implementations must be safe for concurrent calls once loaded.
	Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error)
}

// ConcurrencyLimiter is implemented by providers that cannot serve unlimited parallel completions.
type ConcurrencyLimiter interface {
	MaxConcurrency() int
}

// Settings holds sampling and connection parameters shared by all providers
type Settings struct {
	APIKey       string
	BaseURL      string // OpenAI-compatible server (vLLM, llama.cpp, ...); empty for api.openai.com
	Model        string
	MaxNewTokens int
	Temperature  float64
	TopP         float64
	// MaxParallel limits concurrent completions; 0 means unlimited
	MaxParallel int
	// VerifyOnLoad makes Load check that the model is served
	VerifyOnLoad bool
}

// CompletionRequest contains everything needed for one completion
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	// Optional structured output schema; providers that support it constrain decoding with it
	OutputSchema *OutputSchema
}

// OutputSchema defines the expected JSON output structure
type OutputSchema struct {
	Name        string
	Description string
	Schema      map[string]any // JSON Schema object
}

// CompletionResponse is the raw text produced by the model plus accounting data
type CompletionResponse struct {
	Text  string
	Model string
	Usage TokenUsage
}

// TokenUsage reports token counts for one completion
type TokenUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// AsMap converts usage to the map form used by logging and tracing
func (u TokenUsage) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"input_tokens":     u.InputTokens,
		"output_tokens":    u.OutputTokens,
		"total_tokens":     u.TotalTokens,
		"reasoning_tokens": u.ReasoningTokens,
	}
}
