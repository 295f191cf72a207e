package llm

import (
	"fmt"
	"strings"
)

// ProviderFactory creates providers based on model name or explicit provider choice
type ProviderFactory struct {
	openaiAPIKey string
	geminiAPIKey string
	settings     Settings
}

// NewProviderFactory creates a new provider factory. settings.APIKey is ignored;
// each provider gets its own key.
func NewProviderFactory(openaiAPIKey, geminiAPIKey string, settings Settings) *ProviderFactory {
	return &ProviderFactory{
		openaiAPIKey: openaiAPIKey,
		geminiAPIKey: geminiAPIKey,
		settings:     settings,
	}
}

// GetProvider returns the provider for an explicit name, or infers one from the model
func (f *ProviderFactory) GetProvider(providerName string) (Provider, error) {
	if providerName != "" {
		return f.getProviderByName(providerName)
	}
	return f.getProviderByModel(f.settings.Model)
}

func (f *ProviderFactory) getProviderByName(providerName string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case providerNameOpenAI:
		if f.settings.BaseURL == "" && f.openaiAPIKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		return f.openAI(), nil

	case providerNameLocal:
		if f.settings.BaseURL == "" {
			return nil, fmt.Errorf("local provider requires LLM_BASE_URL")
		}
		return f.openAI(), nil

	case providerNameGemini:
		if f.geminiAPIKey == "" {
			return nil, fmt.Errorf("gemini API key not configured")
		}
		return f.gemini(), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s (allowed: openai, local, gemini)", providerName)
	}
}

func (f *ProviderFactory) getProviderByModel(model string) (Provider, error) {
	if strings.HasPrefix(strings.ToLower(model), "gemini") {
		return f.getProviderByName(providerNameGemini)
	}
	if f.settings.BaseURL != "" {
		return f.getProviderByName(providerNameLocal)
	}
	return f.getProviderByName(providerNameOpenAI)
}

func (f *ProviderFactory) openAI() *OpenAIProvider {
	s := f.settings
	s.APIKey = f.openaiAPIKey
	return NewOpenAIProvider(s)
}

func (f *ProviderFactory) gemini() *GeminiProvider {
	s := f.settings
	s.APIKey = f.geminiAPIKey
	s.BaseURL = ""
	return NewGeminiProvider(s)
}
