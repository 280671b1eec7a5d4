package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from the
// model output.
var ErrNoJSON = errors.New("could not recover a JSON object from model output")

var (
	leadingFence  = regexp.MustCompile("(?i)^\\s*```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```\\s*$")
	slugUnsafe    = regexp.MustCompile(`[^a-z0-9]+`)
)

// ExtractJSON recovers the first JSON object in raw. It tolerates code
// fences, prose around the object, literal control characters inside
// strings and trailing junk. As a last resort the known fields are
// pulled out one by one.
func ExtractJSON(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrNoJSON
	}
	text = leadingFence.ReplaceAllString(text, "")
	text = strings.TrimSpace(trailingFence.ReplaceAllString(text, ""))

	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, ErrNoJSON
	}
	text = text[start:]
	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}

	sanitized := escapeControlChars(text)
	if obj, ok := decodeObject(sanitized); ok {
		return obj, nil
	}

	if end := balancedEnd(sanitized); end > 0 {
		if obj, ok := decodeObject(sanitized[:end]); ok {
			return obj, nil
		}
	}

	if obj := extractFields(sanitized); obj != nil {
		return obj, nil
	}
	return nil, ErrNoJSON
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// balancedEnd returns the index just past the brace closing the object
// that starts at s[0], or -1.
func balancedEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func extractFields(s string) map[string]any {
	str := func(key string) (string, bool) {
		re := regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
		m := re.FindStringSubmatch(s)
		if m == nil {
			return "", false
		}
		v := strings.ReplaceAll(m[1], `\n`, "\n")
		return strings.ReplaceAll(v, `\"`, `"`), true
	}
	arr := func(key string) []any {
		re := regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*\[([^\]]*)\]`)
		m := re.FindStringSubmatch(s)
		if m == nil {
			return []any{}
		}
		out := []any{}
		for _, item := range regexp.MustCompile(`"([^"]*)"`).FindAllStringSubmatch(m[1], -1) {
			out = append(out, item[1])
		}
		return out
	}

	title, hasTitle := str("seoTitle")
	content, hasContent := str("content")
	if !hasTitle && !hasContent {
		return nil
	}
	meta, _ := str("metaDescription")
	slug, _ := str("slug")
	image, _ := str("featuredImagePrompt")
	return map[string]any{
		"seoTitle":            title,
		"metaDescription":     meta,
		"slug":                slug,
		"content":             content,
		"tags":                arr("tags"),
		"featuredImagePrompt": image,
	}
}

// PostProcess recovers the post from raw model output and fills the
// fields the model left out from the topic. An empty body fails the
// attempt.
func PostProcess(raw string, spec Spec) (Content, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return Content{}, err
	}

	c := Content{
		Title:           firstString(obj, "seoTitle", "title"),
		MetaDescription: firstString(obj, "metaDescription", "description"),
		Slug:            firstString(obj, "slug"),
		Body:            strings.TrimSpace(firstString(obj, "content", "body")),
		Tags:            stringList(obj["tags"]),
		ImagePrompt:     firstString(obj, "featuredImagePrompt", "imagePrompt"),
	}
	if c.Body == "" {
		return Content{}, fmt.Errorf("model returned no content for %q", spec.Title)
	}
	if c.Title == "" {
		c.Title = spec.Title
	}
	if c.Slug == "" {
		c.Slug = Slugify(c.Title)
	}
	if c.ImagePrompt == "" {
		c.ImagePrompt = spec.Title
	}
	return c, nil
}

// Slugify lowercases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
