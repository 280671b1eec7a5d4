package model

import (
	"time"

	"auto_blog_publisher/payload"
)

type DraftStatus string

const (
	DraftGenerated DraftStatus = "GENERATED"
	DraftRejected  DraftStatus = "REJECTED"
	DraftPublished DraftStatus = "PUBLISHED"
)

// Draft is generated content awaiting review or already published.
type Draft struct {
	ID              string      `json:"id" bson:"_id"`
	TopicID         string      `json:"topicId" bson:"topicId"`
	AccountID       string      `json:"accountId" bson:"accountId"`
	Title           string      `json:"title" bson:"title"`
	MetaDescription string      `json:"metaDescription" bson:"metaDescription"`
	Slug            string      `json:"slug" bson:"slug"`
	Body            string      `json:"body" bson:"body"`
	Tags            []string    `json:"tags" bson:"tags"`
	ImagePrompt     string      `json:"imagePrompt" bson:"imagePrompt"`
	ImageURL        string      `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Status          DraftStatus `json:"status" bson:"status"`
	Comment         string      `json:"comment,omitempty" bson:"comment,omitempty"`
	PublishedAt     *time.Time  `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
	// ExternalResponse is the decoded body of the last successful publish
	// call. Stores persist it separately from the bson mapping.
	ExternalResponse payload.Object `json:"externalResponse,omitempty" bson:"-"`
	CreatedAt        time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// DraftEdits carries operator edits; nil fields are left unchanged.
type DraftEdits struct {
	Title           *string   `json:"title,omitempty"`
	MetaDescription *string   `json:"metaDescription,omitempty"`
	Slug            *string   `json:"slug,omitempty"`
	Body            *string   `json:"body,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
	ImageURL        *string   `json:"imageUrl,omitempty"`
}

func (e DraftEdits) Empty() bool {
	return e.Title == nil && e.MetaDescription == nil && e.Slug == nil &&
		e.Body == nil && e.Tags == nil && e.ImageURL == nil
}

// Apply returns a copy of d with the edits applied.
func (e DraftEdits) Apply(d Draft) Draft {
	if e.Title != nil {
		d.Title = *e.Title
	}
	if e.MetaDescription != nil {
		d.MetaDescription = *e.MetaDescription
	}
	if e.Slug != nil {
		d.Slug = *e.Slug
	}
	if e.Body != nil {
		d.Body = *e.Body
	}
	if e.Tags != nil {
		d.Tags = append([]string(nil), (*e.Tags)...)
	}
	if e.ImageURL != nil {
		d.ImageURL = *e.ImageURL
	}
	return d
}
