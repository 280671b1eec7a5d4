package generator

import "context"

// LLMClient abstracts the chat model so it can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings configures a concrete client. APIKeyHeader, when set, sends
// the key in that header as well as the bearer token.
type LLMSettings struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	APIKeyHeader string
	Temperature  float64
	MaxTokens    int
}
