package generator

import (
	"fmt"
	"strings"
)

// Prompt is the message set sent to the LLM.
type Prompt struct {
	System string
	User   string
}

const systemPrompt = "You are an expert SEO blog writer. Respond with ONLY a single valid JSON object. " +
	"No code fences, no explanations before or after. Output starts with { and ends with }. " +
	"String values must not contain literal newlines; use \\n escapes instead."

// BuildBlogPrompt asks for a complete post about spec as one JSON object.
func BuildBlogPrompt(spec Spec) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Write a comprehensive, SEO-optimized blog post about: %q.\n", spec.Title))
	if spec.Category != "" {
		sb.WriteString(fmt.Sprintf("Category: %s\n", spec.Category))
	}
	if len(spec.Keywords) > 0 {
		sb.WriteString(fmt.Sprintf("Keywords: %s\n", strings.Join(spec.Keywords, ", ")))
	}
	if spec.Audience != "" {
		sb.WriteString(fmt.Sprintf("Target audience: %s\n", spec.Audience))
	}
	sb.WriteString("\nThe post should be 1200-1500 words with H2/H3 headings, an FAQ section and a strong call to action.\n")
	sb.WriteString("Write in a human, engaging tone.\n\n")
	sb.WriteString("Respond with a JSON object with exactly these keys:\n")
	sb.WriteString(`{
  "seoTitle": "SEO-optimized title",
  "metaDescription": "meta description under 160 characters",
  "slug": "url-friendly-slug",
  "content": "full post in Markdown",
  "tags": ["tag1", "tag2", "tag3"],
  "featuredImagePrompt": "detailed prompt for a featured image"
}`)

	return Prompt{
		System: systemPrompt,
		User:   sb.String(),
	}
}
