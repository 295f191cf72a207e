package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIProvider(t *testing.T) {
	provider := NewOpenAIProvider(Settings{APIKey: "test-api-key", Model: "gpt-4o-mini", MaxParallel: 2})
	require.NotNil(t, provider)
	assert.Equal(t, "openai", provider.Name())
	assert.Equal(t, 2, provider.MaxConcurrency())
	assert.NotNil(t, provider.client)
}

func TestOpenAIProvider_BuildRequestParams(t *testing.T) {
	provider := NewOpenAIProvider(Settings{
		APIKey:       "test-key",
		Model:        "deepseek-r1",
		MaxNewTokens: 2048,
		Temperature:  0.6,
		TopP:         0.95,
	})

	t.Run("sampling parameters", func(t *testing.T) {
		params := provider.buildRequestParams(&CompletionRequest{Prompt: "make a schedule"})
		assert.Equal(t, "deepseek-r1", params.Model)
		assert.Len(t, params.Messages, 1)
		assert.Equal(t, int64(2048), params.MaxCompletionTokens.Value)
		assert.Equal(t, 0.6, params.Temperature.Value)
		assert.Equal(t, 0.95, params.TopP.Value)
		assert.Nil(t, params.ResponseFormat.OfJSONSchema)
	})

	t.Run("system prompt and schema", func(t *testing.T) {
		params := provider.buildRequestParams(&CompletionRequest{
			Prompt:       "make a schedule",
			SystemPrompt: "be terse",
			OutputSchema: ScheduleOutputSchema(),
		})
		assert.Len(t, params.Messages, 2)
		require.NotNil(t, params.ResponseFormat.OfJSONSchema)
		assert.Equal(t, "modulation_schedule", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	})
}

func TestOpenAIProvider_CompleteRequiresLoad(t *testing.T) {
	provider := NewOpenAIProvider(Settings{APIKey: "k", Model: "m"})
	_, err := provider.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrProviderNotLoaded)
}

// fakeChatServer serves the subset of the OpenAI API the provider uses
func fakeChatServer(t *testing.T, content string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "local-model", "object": "model", "created": 0, "owned_by": "test"})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "local-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "local-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 30, "total_tokens": 42},
		})
	})
	return httptest.NewServer(mux), &calls
}

func TestOpenAIProvider_CompleteAgainstCompatibleServer(t *testing.T) {
	srv, calls := fakeChatServer(t, "<think>plan</think>{\"ok\":true}")
	defer srv.Close()

	provider := NewOpenAIProvider(Settings{BaseURL: srv.URL + "/v1", Model: "local-model", VerifyOnLoad: true})
	assert.Equal(t, "local", provider.Name())

	require.NoError(t, provider.Load(context.Background()))
	require.NoError(t, provider.Load(context.Background()), "load is idempotent")

	resp, err := provider.Complete(context.Background(), &CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "<think>plan</think>{\"ok\":true}", resp.Text)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
	assert.Equal(t, 1, *calls)
}
