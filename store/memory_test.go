package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_blog_publisher/model"
	"auto_blog_publisher/payload"
)

var base = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestCreateTopicDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	scheduled, err := s.CreateTopic(ctx, model.Topic{AccountID: "a", Title: "x", DueAt: at(0)})
	require.NoError(t, err)
	assert.NotEmpty(t, scheduled.ID)
	assert.Equal(t, model.SchedulingScheduled, scheduled.SchedulingState)
	assert.Equal(t, model.GenerationPending, scheduled.GenerationState)

	unscheduled, err := s.CreateTopic(ctx, model.Topic{AccountID: "a", Title: "y"})
	require.NoError(t, err)
	assert.Equal(t, model.SchedulingNone, unscheduled.SchedulingState)
}

func TestFindDueOrdersAndFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mk := func(id string, due *time.Time, state model.SchedulingState, gen model.GenerationState) {
		_, err := s.CreateTopic(ctx, model.Topic{ID: id, AccountID: "a", DueAt: due, SchedulingState: state, GenerationState: gen})
		require.NoError(t, err)
	}
	mk("later", at(-time.Minute), model.SchedulingScheduled, model.GenerationPending)
	mk("earlier", at(-time.Hour), model.SchedulingScheduled, model.GenerationPending)
	mk("future", at(time.Hour), model.SchedulingScheduled, model.GenerationPending)
	mk("done", at(-time.Hour), model.SchedulingDone, model.GenerationGenerated)
	mk("failed", at(-time.Hour), model.SchedulingFailed, model.GenerationPending)
	mk("generated", at(-time.Hour), model.SchedulingScheduled, model.GenerationGenerated)
	mk("none", nil, model.SchedulingNone, model.GenerationPending)

	due, err := s.FindDue(ctx, base, base.Add(-15*time.Minute))
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"earlier", "later"}, ids)
}

func TestClaimIsConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	topic, err := s.CreateTopic(ctx, model.Topic{AccountID: "a", DueAt: at(-time.Minute)})
	require.NoError(t, err)

	claim := model.ClaimFor(topic, base)
	ok, err := s.Claim(ctx, claim)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, claim)
	require.NoError(t, err)
	assert.False(t, ok, "second claim from the same read must lose")

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchedulingRunning, got.SchedulingState)
	assert.Equal(t, model.SchedulingScheduled, got.ClaimedFrom)

	due, err := s.FindDue(ctx, base, base.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due, "a fresh claim is not reselected")
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	topic, err := s.CreateTopic(ctx, model.Topic{AccountID: "a", DueAt: at(-time.Minute)})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Claim(ctx, model.ClaimFor(topic, base.Add(time.Duration(i)*time.Millisecond)))
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStaleClaimIsRecoverable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	topic, err := s.CreateTopic(ctx, model.Topic{AccountID: "a", DueAt: at(-time.Hour)})
	require.NoError(t, err)

	ok, err := s.Claim(ctx, model.ClaimFor(topic, base.Add(-30*time.Minute)))
	require.NoError(t, err)
	require.True(t, ok)

	due, err := s.FindDue(ctx, base, base.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	reclaim := model.ClaimFor(due[0], base)
	assert.Equal(t, model.SchedulingScheduled, reclaim.From)
	ok, err = s.Claim(ctx, reclaim)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Finish(ctx, model.Finish{TopicID: topic.ID, ClaimedAt: base.Add(-30 * time.Minute), To: model.SchedulingDone, At: base})
	require.NoError(t, err)
	assert.False(t, ok, "the superseded claim cannot finish")

	ok, err = s.Finish(ctx, model.Finish{TopicID: topic.ID, ClaimedAt: base, To: model.SchedulingDone, Generated: true, Attempts: 1, At: base})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchedulingDone, got.SchedulingState)
	assert.Equal(t, model.GenerationGenerated, got.GenerationState)
	assert.Nil(t, got.ClaimedAt)
}

func TestRetryTopic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	topic, err := s.CreateTopic(ctx, model.Topic{
		AccountID: "a", DueAt: at(-time.Hour),
		SchedulingState: model.SchedulingFailed, LastError: "boom", Attempts: 3,
	})
	require.NoError(t, err)

	require.NoError(t, s.RetryTopic(ctx, topic.ID, base))
	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchedulingScheduled, got.SchedulingState)
	assert.Empty(t, got.LastError)
	assert.Zero(t, got.Attempts)

	assert.ErrorIs(t, s.RetryTopic(ctx, topic.ID, base), model.ErrNotFound, "only FAILED topics reset")
	assert.ErrorIs(t, s.RetryTopic(ctx, "missing", base), model.ErrNotFound)
}

func TestFindPendingPrefersDueThenUnscheduled(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mk := func(id, account string, due *time.Time, created time.Duration) {
		_, err := s.CreateTopic(ctx, model.Topic{ID: id, AccountID: account, DueAt: due, CreatedAt: base.Add(created)})
		require.NoError(t, err)
	}
	mk("none-old", "a", nil, -3*time.Hour)
	mk("none-new", "a", nil, -time.Hour)
	mk("due", "a", at(-time.Minute), 0)
	mk("future", "a", at(time.Hour), 0)
	mk("other", "b", nil, -5*time.Hour)

	got, err := s.FindPending(ctx, "a", base, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, topic := range got {
		ids = append(ids, topic.ID)
	}
	assert.Equal(t, []string{"due", "none-old", "none-new"}, ids)

	got, err = s.FindPending(ctx, "a", base, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDraftLifecycleAndCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d, err := s.CreateDraft(ctx, model.Draft{AccountID: "a", Title: "t", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.CreateDraft(ctx, model.Draft{AccountID: "a", Status: model.DraftRejected, CreatedAt: base})
	require.NoError(t, err)
	_, err = s.CreateDraft(ctx, model.Draft{AccountID: "a", CreatedAt: base.AddDate(0, -1, 0)})
	require.NoError(t, err)

	from, to := base.AddDate(0, 0, -9), base.AddDate(0, 0, 21)
	n, err := s.CountGenerated(ctx, "a", from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp := payload.Object{"id": payload.String("ext-9")}
	require.NoError(t, s.MarkPublished(ctx, d.ID, resp, base))
	resp["id"] = payload.String("mutated")

	got, err := s.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftPublished, got.Status)
	id, _ := got.ExternalResponse["id"].Str()
	assert.Equal(t, "ext-9", id)

	n, err = s.CountPublished(ctx, "a", from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got.Title = "edited"
	require.NoError(t, s.SaveContent(ctx, got))
	require.NoError(t, s.MarkRejected(ctx, d.ID, "Deleted by user", base))
	got, err = s.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Title)
	assert.Equal(t, model.DraftRejected, got.Status)

	_, err = s.GetDraft(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
