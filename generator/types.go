package generator

// Spec describes the topic a blog post is written for.
type Spec struct {
	Title    string
	Category string
	Keywords []string
	Audience string
}

// Content is the post recovered from the model output, after fallbacks.
// Body is Markdown.
type Content struct {
	Title           string
	MetaDescription string
	Slug            string
	Body            string
	Tags            []string
	ImagePrompt     string
}
