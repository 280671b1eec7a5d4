package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDraftEditsApply(t *testing.T) {
	title := "New title"
	tags := []string{"go", "llm"}
	edits := DraftEdits{Title: &title, Tags: &tags}

	d := Draft{ID: "d1", Title: "Old", Slug: "old", Tags: []string{"x"}}
	got := edits.Apply(d)

	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "old", got.Slug)
	assert.Equal(t, []string{"go", "llm"}, got.Tags)
	assert.Equal(t, "Old", d.Title, "original must not change")

	tags[0] = "mutated"
	assert.Equal(t, "go", got.Tags[0])

	assert.False(t, edits.Empty())
	assert.True(t, DraftEdits{}.Empty())
}
