package generator

import (
	"fmt"
	"strings"
)

const (
	deepseekBaseURL = "https://api.deepseek.com/v1"
	sarvamBaseURL   = "https://api.sarvam.ai/v1"
	sarvamModel     = "sarvam-m"
	sarvamKeyHeader = "api-subscription-key"
)

// NewLLM builds the client for cfg.Provider.
func NewLLM(cfg LLMSettings) (LLMClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case "mock":
		return MockLLM{}, nil
	case "", "openai":
		return NewOpenAILLMFromConfig(&cfg)
	case "deepseek":
		// DeepSeek exposes an OpenAI-compatible API.
		if cfg.BaseURL == "" {
			cfg.BaseURL = deepseekBaseURL
		}
		return NewOpenAILLMFromConfig(&cfg)
	case "sarvam":
		if cfg.BaseURL == "" {
			cfg.BaseURL = sarvamBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = sarvamModel
		}
		if cfg.APIKeyHeader == "" {
			cfg.APIKeyHeader = sarvamKeyHeader
		}
		return NewOpenAILLMFromConfig(&cfg)
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}

// Factory builds one Agent per account key from shared settings.
type Factory struct {
	Settings LLMSettings
}

// ForKey returns an Agent that authenticates with apiKey.
func (f Factory) ForKey(apiKey string) (*Agent, error) {
	cfg := f.Settings
	cfg.APIKey = apiKey
	llm, err := NewLLM(cfg)
	if err != nil {
		return nil, err
	}
	return NewAgent(llm)
}
