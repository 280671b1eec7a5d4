// Package store persists topics, drafts and accounts. MongoStore is the
// production backend; MemoryStore implements the same conditional
// transitions in process for tests and local runs.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"auto_blog_publisher/model"
	"auto_blog_publisher/payload"
)

type MemoryStore struct {
	mu       sync.Mutex
	topics   map[string]model.Topic
	drafts   map[string]model.Draft
	accounts map[string]model.Account
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics:   make(map[string]model.Topic),
		drafts:   make(map[string]model.Draft),
		accounts: make(map[string]model.Account),
		now:      time.Now,
	}
}

// CreateTopic stores t, assigning an id and default states when unset. A
// topic with a due time defaults to SCHEDULED.
func (s *MemoryStore) CreateTopic(_ context.Context, t model.Topic) (model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = prepareTopic(t, s.now())
	s.topics[t.ID] = cloneTopic(t)
	return cloneTopic(t), nil
}

func (s *MemoryStore) GetTopic(_ context.Context, id string) (model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return model.Topic{}, model.ErrNotFound
	}
	return cloneTopic(t), nil
}

// FindDue returns scheduled pending topics due at now, plus topics whose
// claim is older than staleBefore, ordered by due time.
func (s *MemoryStore) FindDue(_ context.Context, now, staleBefore time.Time) ([]model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Topic
	for _, t := range s.topics {
		if t.GenerationState != model.GenerationPending {
			continue
		}
		if isDue(t, now) || isStale(t, staleBefore) {
			out = append(out, cloneTopic(t))
		}
	}
	sortByDue(out)
	return out, nil
}

// FindPending returns up to limit of the account's pending topics: due
// scheduled ones first, then unscheduled ones in creation order.
func (s *MemoryStore) FindPending(_ context.Context, accountID string, now time.Time, limit int) ([]model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due, unscheduled []model.Topic
	for _, t := range s.topics {
		if t.AccountID != accountID || t.GenerationState != model.GenerationPending {
			continue
		}
		switch {
		case isDue(t, now):
			due = append(due, cloneTopic(t))
		case t.SchedulingState == model.SchedulingNone:
			unscheduled = append(unscheduled, cloneTopic(t))
		}
	}
	sortByDue(due)
	sort.SliceStable(unscheduled, func(i, j int) bool {
		return unscheduled[i].CreatedAt.Before(unscheduled[j].CreatedAt)
	})

	out := append(due, unscheduled...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim moves a topic to RUNNING if it is still exactly as it was read.
func (s *MemoryStore) Claim(_ context.Context, c model.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[c.TopicID]
	if !ok || t.SchedulingState != c.State || !sameTime(t.ClaimedAt, c.ClaimedAt) {
		return false, nil
	}
	at := c.At
	t.SchedulingState = model.SchedulingRunning
	t.ClaimedAt = &at
	t.ClaimedFrom = c.From
	t.UpdatedAt = c.At
	s.topics[t.ID] = t
	return true, nil
}

// Finish moves a RUNNING topic out of its claim. It fails when the claim
// was taken over in the meantime.
func (s *MemoryStore) Finish(_ context.Context, f model.Finish) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[f.TopicID]
	if !ok || t.SchedulingState != model.SchedulingRunning || t.ClaimedAt == nil || !t.ClaimedAt.Equal(f.ClaimedAt) {
		return false, nil
	}
	t.SchedulingState = f.To
	t.ClaimedAt = nil
	t.ClaimedFrom = ""
	t.Attempts = f.Attempts
	t.LastError = f.LastError
	if f.Generated {
		t.GenerationState = model.GenerationGenerated
	}
	t.UpdatedAt = f.At
	s.topics[t.ID] = t
	return true, nil
}

// RetryTopic resets a FAILED topic to SCHEDULED.
func (s *MemoryStore) RetryTopic(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok || t.SchedulingState != model.SchedulingFailed {
		return model.ErrNotFound
	}
	t.SchedulingState = model.SchedulingScheduled
	t.LastError = ""
	t.Attempts = 0
	if t.DueAt == nil {
		due := at
		t.DueAt = &due
	}
	t.UpdatedAt = at
	s.topics[id] = t
	return nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, model.ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) CreateDraft(_ context.Context, d model.Draft) (model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d = prepareDraft(d, s.now())
	s.drafts[d.ID] = cloneDraft(d)
	return cloneDraft(d), nil
}

func (s *MemoryStore) GetDraft(_ context.Context, id string) (model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return model.Draft{}, model.ErrNotFound
	}
	return cloneDraft(d), nil
}

// ListDrafts returns the drafts generated from a topic, oldest first.
func (s *MemoryStore) ListDrafts(_ context.Context, topicID string) ([]model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Draft
	for _, d := range s.drafts {
		if d.TopicID == topicID {
			out = append(out, cloneDraft(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveContent writes the editable fields of d.
func (s *MemoryStore) SaveContent(_ context.Context, d model.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.drafts[d.ID]
	if !ok {
		return model.ErrNotFound
	}
	cur.Title = d.Title
	cur.MetaDescription = d.MetaDescription
	cur.Slug = d.Slug
	cur.Body = d.Body
	cur.Tags = append([]string(nil), d.Tags...)
	cur.ImageURL = d.ImageURL
	cur.UpdatedAt = d.UpdatedAt
	s.drafts[d.ID] = cur
	return nil
}

// MarkPublished records a successful publish and its response.
func (s *MemoryStore) MarkPublished(_ context.Context, id string, response payload.Object, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = model.DraftPublished
	d.PublishedAt = &at
	d.ExternalResponse = response.Clone()
	d.UpdatedAt = at
	s.drafts[id] = d
	return nil
}

func (s *MemoryStore) MarkRejected(_ context.Context, id, comment string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = model.DraftRejected
	d.Comment = comment
	d.UpdatedAt = at
	s.drafts[id] = d
	return nil
}

// CountGenerated counts the account's non-rejected drafts created in
// [from, to).
func (s *MemoryStore) CountGenerated(_ context.Context, accountID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.drafts {
		if d.AccountID == accountID && d.Status != model.DraftRejected && inWindow(d.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

// CountPublished counts the account's drafts published in [from, to).
func (s *MemoryStore) CountPublished(_ context.Context, accountID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.drafts {
		if d.AccountID == accountID && d.PublishedAt != nil && inWindow(*d.PublishedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func prepareTopic(t model.Topic, now time.Time) model.Topic {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.SchedulingState == "" {
		t.SchedulingState = model.SchedulingNone
		if t.DueAt != nil {
			t.SchedulingState = model.SchedulingScheduled
		}
	}
	if t.GenerationState == "" {
		t.GenerationState = model.GenerationPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	return t
}

func prepareDraft(d model.Draft, now time.Time) model.Draft {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = model.DraftGenerated
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	return d
}

func isDue(t model.Topic, now time.Time) bool {
	return t.SchedulingState == model.SchedulingScheduled && t.DueAt != nil && !t.DueAt.After(now)
}

func isStale(t model.Topic, staleBefore time.Time) bool {
	return t.SchedulingState == model.SchedulingRunning && t.ClaimedAt != nil && t.ClaimedAt.Before(staleBefore)
}

// sortByDue orders by due time, topics without one first, matching the
// document store's null ordering.
func sortByDue(ts []model.Topic) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i].DueAt, ts[j].DueAt
		switch {
		case a == nil && b == nil:
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		default:
			return a.Before(*b)
		}
	})
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTopic(t model.Topic) model.Topic {
	t.Keywords = append([]string(nil), t.Keywords...)
	if t.DueAt != nil {
		due := *t.DueAt
		t.DueAt = &due
	}
	if t.ClaimedAt != nil {
		claimed := *t.ClaimedAt
		t.ClaimedAt = &claimed
	}
	return t
}

func cloneDraft(d model.Draft) model.Draft {
	d.Tags = append([]string(nil), d.Tags...)
	if d.PublishedAt != nil {
		p := *d.PublishedAt
		d.PublishedAt = &p
	}
	d.ExternalResponse = d.ExternalResponse.Clone()
	return d
}
