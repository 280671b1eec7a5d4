package generator

import (
	"context"
	"fmt"
	"strings"
)

// MockLLM returns a canned post built from the prompt. It makes no
// network calls and is meant for local runs.
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	title := "Generated post"
	if first, _, ok := strings.Cut(prompt.User, "\n"); ok {
		if start, end := strings.Index(first, `"`), strings.LastIndex(first, `"`); start != -1 && end > start {
			title = first[start+1 : end]
		}
	}
	return fmt.Sprintf("```json\n{\"seoTitle\": %q, \"metaDescription\": %q, \"slug\": \"\", \"content\": %q, \"tags\": [\"draft\"], \"featuredImagePrompt\": \"\"}\n```",
		title,
		"A short overview of "+title+".",
		"## Overview\n\nThis is placeholder content about "+title+".\n\n## FAQ\n\nNothing yet.",
	), nil
}
