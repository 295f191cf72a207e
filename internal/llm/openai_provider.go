package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	providerNameOpenAI = "openai"
	providerNameLocal  = "local"

	// placeholder key for OpenAI-compatible servers that do not check auth
	localAPIKey = "EMPTY"
)

// OpenAIProvider implements Provider with the Chat Completions API.
// With a BaseURL it talks to any OpenAI-compatible server, which is how
// self-hosted reasoning models are reached.
type OpenAIProvider struct {
	client   *openai.Client
	settings Settings
	name     string

	mu     sync.Mutex
	loaded bool
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(settings Settings) *OpenAIProvider {
	name := providerNameOpenAI
	opts := []option.RequestOption{
		// retries are owned by the generation engine
		option.WithMaxRetries(0),
	}

	apiKey := settings.APIKey
	if settings.BaseURL != "" {
		name = providerNameLocal
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
		if apiKey == "" {
			apiKey = localAPIKey
		}
	}
	opts = append(opts, option.WithAPIKey(apiKey))

	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client:   &client,
		settings: settings,
		name:     name,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// MaxConcurrency implements ConcurrencyLimiter
func (p *OpenAIProvider) MaxConcurrency() int {
	return p.settings.MaxParallel
}

// Load optionally verifies the configured model is served. Repeated calls after success are no-ops.
func (p *OpenAIProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}

	if p.settings.VerifyOnLoad {
		if _, err := p.client.Models.Get(ctx, p.settings.Model); err != nil {
			return fmt.Errorf("model %s not available on %s: %w", p.settings.Model, p.name, err)
		}
	}

	p.loaded = true
	logger.Info("🤖 LLM provider ready", logger.Fields{
		"provider": p.name,
		"model":    p.settings.Model,
		"base_url": p.settings.BaseURL,
	})
	return nil
}

func (p *OpenAIProvider) isLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Complete sends one chat completion and returns the assistant text
func (p *OpenAIProvider) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	if !p.isLoaded() {
		return nil, ErrProviderNotLoaded
	}

	span := sentry.StartSpan(ctx, "openai.complete")
	defer span.Finish()
	span.SetTag("model", p.settings.Model)
	span.SetTag("provider", p.name)

	params := p.buildRequestParams(request)

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(span.Context(), params)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, fmt.Errorf("%s completion failed after %v: %w", p.name, time.Since(start), err)
	}

	if len(resp.Choices) == 0 {
		span.Status = sentry.SpanStatusInternalError
		return nil, fmt.Errorf("%s response contained no choices", p.name)
	}

	usage := TokenUsage{
		InputTokens:     int(resp.Usage.PromptTokens),
		OutputTokens:    int(resp.Usage.CompletionTokens),
		TotalTokens:     int(resp.Usage.TotalTokens),
		ReasoningTokens: int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
	}
	span.SetData("tokens", usage.AsMap())
	span.Status = sentry.SpanStatusOK

	logger.Debug("Completion received", logger.Fields{
		"provider":      p.name,
		"model":         resp.Model,
		"duration_ms":   time.Since(start).Milliseconds(),
		"output_chars":  len(resp.Choices[0].Message.Content),
		"output_tokens": usage.OutputTokens,
	})

	return &CompletionResponse{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: usage,
	}, nil
}

func (p *OpenAIProvider) buildRequestParams(request *CompletionRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(request.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    p.settings.Model,
		Messages: messages,
	}
	if p.settings.MaxNewTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.settings.MaxNewTokens))
	}
	if p.settings.Temperature > 0 {
		params.Temperature = openai.Float(p.settings.Temperature)
	}
	if p.settings.TopP > 0 {
		params.TopP = openai.Float(p.settings.TopP)
	}

	if request.OutputSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        request.OutputSchema.Name,
					Description: openai.String(request.OutputSchema.Description),
					Schema:      request.OutputSchema.Schema,
					Strict:      openai.Bool(false),
				},
			},
		}
	}

	return params
}
