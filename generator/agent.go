package generator

import (
	"context"
	"errors"
)

// Agent turns a topic into post content through an LLMClient.
type Agent struct {
	llm LLMClient
}

func NewAgent(llm LLMClient) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm}, nil
}

// Generate runs one completion and recovers the post from its output.
// Each call is one attempt; retries belong to the caller.
func (a *Agent) Generate(ctx context.Context, spec Spec) (Content, error) {
	raw, err := a.llm.Complete(ctx, BuildBlogPrompt(spec))
	if err != nil {
		return Content{}, err
	}
	return PostProcess(raw, spec)
}
