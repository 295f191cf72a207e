package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiProvider_Name(t *testing.T) {
	provider := NewGeminiProvider(Settings{})
	assert.Equal(t, "gemini", provider.Name())
}

func TestGeminiProvider_LoadWithoutKey(t *testing.T) {
	provider := NewGeminiProvider(Settings{Model: "gemini-2.5-flash"})
	assert.Error(t, provider.Load(context.Background()))

	_, err := provider.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrProviderNotLoaded)
}

func TestGeminiProvider_BuildConfig(t *testing.T) {
	provider := NewGeminiProvider(Settings{MaxNewTokens: 1024, Temperature: 0.5, TopP: 0.9})

	config := provider.buildConfig(&CompletionRequest{Prompt: "p", SystemPrompt: "sys"})
	assert.Equal(t, int32(1024), config.MaxOutputTokens)
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.5, *config.Temperature, 0.0001)
	require.NotNil(t, config.SystemInstruction)
	assert.Empty(t, config.ResponseMIMEType)

	config = provider.buildConfig(&CompletionRequest{Prompt: "p", OutputSchema: ScheduleOutputSchema()})
	assert.Equal(t, "application/json", config.ResponseMIMEType)
	require.NotNil(t, config.ResponseSchema)
	assert.Equal(t, genai.TypeObject, config.ResponseSchema.Type)
	assert.Contains(t, config.ResponseSchema.Properties, "steps")
}

func TestExtractGeminiText(t *testing.T) {
	tests := []struct {
		name    string
		result  *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{name: "nil response", result: nil, wantErr: true},
		{name: "no candidates", result: &genai.GenerateContentResponse{}, wantErr: true},
		{
			name:    "no parts",
			result:  &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
			wantErr: true,
		},
		{
			name: "joins text and skips thoughts",
			result: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{
					{Text: "reasoning", Thought: true},
					{Text: `{"a":`},
					{Text: `1}`},
				}},
			}}},
			want: `{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractGeminiText(tt.result)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
