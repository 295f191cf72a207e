package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/models"
	"google.golang.org/genai"
)

const (
	providerNameGemini = "gemini"
	mimeTypeJSON       = "application/json"
)

// GeminiProvider implements the Provider interface using Google's Gemini API.
// The client is created in Load because construction needs a context.
type GeminiProvider struct {
	settings Settings

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(settings Settings) *GeminiProvider {
	return &GeminiProvider{settings: settings}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return providerNameGemini
}

// MaxConcurrency implements ConcurrencyLimiter
func (p *GeminiProvider) MaxConcurrency() int {
	return p.settings.MaxParallel
}

// Load creates the Gemini client once
func (p *GeminiProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}
	if p.settings.APIKey == "" {
		return errors.New("gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.settings.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if p.settings.VerifyOnLoad {
		if _, err := client.Models.Get(ctx, p.settings.Model, nil); err != nil {
			return fmt.Errorf("gemini model %s not available: %w", p.settings.Model, err)
		}
	}

	p.client = client
	logger.Info("🤖 LLM provider ready", logger.Fields{"provider": providerNameGemini, "model": p.settings.Model})
	return nil
}

func (p *GeminiProvider) loadedClient() *genai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Complete runs one GenerateContent call and returns the concatenated text parts
func (p *GeminiProvider) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	client := p.loadedClient()
	if client == nil {
		return nil, ErrProviderNotLoaded
	}

	span := sentry.StartSpan(ctx, "gemini.complete")
	defer span.Finish()
	span.SetTag("model", p.settings.Model)
	span.SetTag("provider", providerNameGemini)

	start := time.Now()
	result, err := client.Models.GenerateContent(span.Context(), p.settings.Model, genai.Text(request.Prompt), p.buildConfig(request))
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, fmt.Errorf("gemini completion failed after %v: %w", time.Since(start), err)
	}

	text, err := extractGeminiText(result)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	var usage TokenUsage
	if result.UsageMetadata != nil {
		usage = TokenUsage{
			InputTokens:     int(result.UsageMetadata.PromptTokenCount),
			OutputTokens:    int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:     int(result.UsageMetadata.TotalTokenCount),
			ReasoningTokens: int(result.UsageMetadata.ThoughtsTokenCount),
		}
	}
	span.SetData("tokens", usage.AsMap())
	span.Status = sentry.SpanStatusOK

	logger.Debug("Completion received", logger.Fields{
		"provider":     providerNameGemini,
		"model":        p.settings.Model,
		"duration_ms":  time.Since(start).Milliseconds(),
		"output_chars": len(text),
	})

	return &CompletionResponse{Text: text, Model: p.settings.Model, Usage: usage}, nil
}

func (p *GeminiProvider) buildConfig(request *CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if request.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}
	if p.settings.MaxNewTokens > 0 {
		config.MaxOutputTokens = int32(p.settings.MaxNewTokens)
	}
	if p.settings.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(p.settings.Temperature))
	}
	if p.settings.TopP > 0 {
		config.TopP = genai.Ptr(float32(p.settings.TopP))
	}

	if request.OutputSchema != nil {
		config.ResponseMIMEType = mimeTypeJSON
		config.ResponseSchema = scheduleSchemaForGemini()
	}
	return config
}

// extractGeminiText joins the text parts of the first candidate, skipping thought parts
func extractGeminiText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 {
		return "", errors.New("no candidates in Gemini response")
	}

	candidate := result.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no parts in Gemini response (finish reason: %s)", candidate.FinishReason)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// scheduleSchemaForGemini mirrors GetScheduleOutputSchema in Gemini's schema type
func scheduleSchemaForGemini() *genai.Schema {
	number := func(lo, hi float64, typ genai.Type) *genai.Schema {
		return &genai.Schema{Type: typ, Minimum: genai.Ptr(lo), Maximum: genai.Ptr(hi)}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"intent":             {Type: genai.TypeString},
			"total_duration_sec": number(models.MinTotalDuration, models.MaxTotalDuration, genai.TypeInteger),
			"steps": {
				Type:     genai.TypeArray,
				MinItems: genai.Ptr[int64](models.MinSteps),
				MaxItems: genai.Ptr[int64](models.MaxSteps),
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"timestamp_sec":     {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0)},
						"target_bpm":        number(models.MinTargetBPM, models.MaxTargetBPM, genai.TypeInteger),
						"binaural_freq":     number(models.MinBinauralFreq, models.MaxBinauralFreq, genai.TypeNumber),
						"ramp_duration_sec": number(models.MinRampDurationSec, models.MaxRampDurationSec, genai.TypeNumber),
						"layer": {
							Type: genai.TypeString,
							Enum: []string{string(models.LayerBinaural), string(models.LayerIsochronic), string(models.LayerAmbient)},
						},
					},
					Required:         []string{"timestamp_sec", "target_bpm", "binaural_freq", "ramp_duration_sec", "layer"},
					PropertyOrdering: []string{"timestamp_sec", "target_bpm", "binaural_freq", "ramp_duration_sec", "layer"},
				},
			},
		},
		Required:         []string{"intent", "total_duration_sec", "steps"},
		PropertyOrdering: []string{"intent", "total_duration_sec", "steps"},
	}
}
