package publisher

import (
	"bytes"
	"time"

	"github.com/yuin/goldmark"

	"auto_blog_publisher/model"
	"auto_blog_publisher/payload"
)

// BuildRecord flattens a draft into the field set offered to body
// templates. Several aliases are provided per field so templates written
// for different CMS conventions map by name.
func BuildRecord(d model.Draft, postedBy string) (payload.Object, error) {
	html, err := mdToHTML(d.Body)
	if err != nil {
		return nil, err
	}

	published := payload.Null()
	if d.PublishedAt != nil {
		published = payload.String(d.PublishedAt.UTC().Format(time.RFC3339))
	}

	return payload.Object{
		"seoTitle":            payload.String(d.Title),
		"title":               payload.String(d.Title),
		"content":             payload.String(html),
		"body":                payload.String(html),
		"markdown":            payload.String(d.Body),
		"slug":                payload.String(d.Slug),
		"metaDescription":     payload.String(d.MetaDescription),
		"description":         payload.String(d.MetaDescription),
		"meta_description":    payload.String(d.MetaDescription),
		"tags":                payload.Strings(d.Tags),
		"featuredImageUrl":    payload.String(d.ImageURL),
		"featuredImagePrompt": payload.String(d.ImagePrompt),
		"publishedAt":         published,
		"topicId":             payload.String(d.TopicID),
		"postedBy":            payload.String(postedBy),
		"posted_by":           payload.String(postedBy),
		"author":              payload.String(postedBy),
	}, nil
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
