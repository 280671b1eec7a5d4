package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_blog_publisher/drafts"
	"auto_blog_publisher/model"
	"auto_blog_publisher/publisher"
	"auto_blog_publisher/scheduler"
	"auto_blog_publisher/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScheduler struct {
	summary   scheduler.Summary
	err       error
	dueCalls  int
	bulkCalls []string
	bulkMax   int
	retried   []string
	ctxErr    error
}

func (f *fakeScheduler) RunDue(ctx context.Context) (scheduler.Summary, error) {
	f.dueCalls++
	f.ctxErr = ctx.Err()
	return f.summary, f.err
}

func (f *fakeScheduler) RunAccount(_ context.Context, accountID string, max int) (scheduler.Summary, error) {
	f.bulkCalls = append(f.bulkCalls, accountID)
	f.bulkMax = max
	return f.summary, f.err
}

func (f *fakeScheduler) Retry(_ context.Context, topicID string) error {
	f.retried = append(f.retried, topicID)
	return f.err
}

type fakeDrafts struct {
	err   error
	calls []string
	edits model.DraftEdits
}

func (f *fakeDrafts) Publish(_ context.Context, accountID, draftID string) (model.Draft, error) {
	f.calls = append(f.calls, "publish:"+accountID+":"+draftID)
	return model.Draft{ID: draftID, AccountID: accountID, Status: model.DraftPublished}, f.err
}

func (f *fakeDrafts) Update(_ context.Context, accountID, draftID string, edits model.DraftEdits) (model.Draft, error) {
	f.calls = append(f.calls, "update:"+accountID+":"+draftID)
	f.edits = edits
	return model.Draft{ID: draftID, AccountID: accountID}, f.err
}

func (f *fakeDrafts) Delete(_ context.Context, accountID, draftID string) error {
	f.calls = append(f.calls, "delete:"+accountID+":"+draftID)
	return f.err
}

type fakeRecords struct {
	topics   map[string]model.Topic
	accounts map[string]model.Account
}

func (f fakeRecords) GetTopic(_ context.Context, id string) (model.Topic, error) {
	t, ok := f.topics[id]
	if !ok {
		return model.Topic{}, model.ErrNotFound
	}
	return t, nil
}

func (f fakeRecords) GetAccount(_ context.Context, id string) (model.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return model.Account{}, model.ErrNotFound
	}
	return a, nil
}

type fakeTrigger struct {
	err     error
	sources []string
}

func (f *fakeTrigger) Request(_ context.Context, source string) (trigger.Request, error) {
	f.sources = append(f.sources, source)
	if f.err != nil {
		return trigger.Request{}, f.err
	}
	return trigger.Request{RequestID: "req-1", Source: source, RequestedAt: time.Now()}, nil
}

type harness struct {
	sched   *fakeScheduler
	drafts  *fakeDrafts
	trigger *fakeTrigger
	handler http.Handler
}

func newHarness(withTrigger bool) *harness {
	h := &harness{sched: &fakeScheduler{}, drafts: &fakeDrafts{}, trigger: &fakeTrigger{}}
	opts := Options{CronSecret: "s3cret", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if withTrigger {
		opts.Trigger = h.trigger
	}
	records := fakeRecords{
		topics: map[string]model.Topic{"t1": {ID: "t1", AccountID: "A"}},
		accounts: map[string]model.Account{
			"A":   {ID: "A", Active: true},
			"B":   {ID: "B", Active: true},
			"off": {ID: "off"},
		},
	}
	h.handler = New(h.sched, h.drafts, records, opts).Routes()
	return h
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(false)
	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(false)
	h.do(http.MethodGet, "/health", "", nil)
	rec := h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blogpub_http_requests_total")
}

func TestCronAuthorization(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"wrong secret", map[string]string{"x-cron-secret": "nope"}, http.StatusUnauthorized},
		{"secret header", map[string]string{"x-cron-secret": "s3cret"}, http.StatusOK},
		{"bearer token", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"signed-in account", map[string]string{"X-Account-ID": "A"}, http.StatusOK},
		{"unknown account", map[string]string{"X-Account-ID": "nobody"}, http.StatusUnauthorized},
		{"inactive account", map[string]string{"X-Account-ID": "off"}, http.StatusUnauthorized},
		{"blank account", map[string]string{"X-Account-ID": "  "}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(false)
			rec := h.do(http.MethodGet, "/api/cron/generate", "", tc.headers)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCronRunsDuePass(t *testing.T) {
	h := newHarness(false)
	h.sched.summary = scheduler.Summary{
		RunID:     "run-1",
		Generated: []scheduler.Outcome{{TopicID: "t1"}},
		Failed:    []scheduler.Outcome{},
		Skipped:   []scheduler.Outcome{{TopicID: "t2", Reason: scheduler.ReasonQuotaExhausted}},
	}

	rec := h.do(http.MethodPost, "/api/cron/generate", "", map[string]string{"x-cron-secret": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.sched.dueCalls)
	assert.NoError(t, h.sched.ctxErr)

	body := decode(t, rec)
	assert.Equal(t, "Processed 2 topic(s): 1 generated, 0 failed, 1 skipped", body["message"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "run-1", summary["runId"])
	assert.Len(t, summary["skipped"], 1)
}

func TestCronAsyncEnqueues(t *testing.T) {
	h := newHarness(true)
	rec := h.do(http.MethodPost, "/api/cron/generate?async=true", "", map[string]string{"x-cron-secret": "s3cret"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "req-1", decode(t, rec)["requestId"])
	assert.Equal(t, []string{"api"}, h.trigger.sources)
	assert.Zero(t, h.sched.dueCalls)
}

func TestCronAsyncWithoutTriggerRunsInline(t *testing.T) {
	h := newHarness(false)
	rec := h.do(http.MethodPost, "/api/cron/generate?async=true", "", map[string]string{"x-cron-secret": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.sched.dueCalls)
}

func TestCronAsyncEnqueueFailure(t *testing.T) {
	h := newHarness(true)
	h.trigger.err = errors.New("nats down")
	rec := h.do(http.MethodPost, "/api/cron/generate?async=true", "", map[string]string{"x-cron-secret": "s3cret"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAccountRoutesRequireHeader(t *testing.T) {
	h := newHarness(false)
	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/blogs/generate-bulk"},
		{http.MethodPost, "/api/topics/t1/retry"},
		{http.MethodPost, "/api/blogs/d1/publish"},
		{http.MethodPut, "/api/blogs/d1"},
		{http.MethodDelete, "/api/blogs/d1"},
	} {
		rec := h.do(r.method, r.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, r.path)
	}
	assert.Empty(t, h.drafts.calls)
	assert.Empty(t, h.sched.bulkCalls)
}

func TestBulkGenerate(t *testing.T) {
	h := newHarness(false)
	rec := h.do(http.MethodPost, "/api/blogs/generate-bulk", `{"count":7}`, map[string]string{"X-Account-ID": "A"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A"}, h.sched.bulkCalls)
	assert.Equal(t, 7, h.sched.bulkMax)

	rec = h.do(http.MethodPost, "/api/blogs/generate-bulk", "", map[string]string{"X-Account-ID": "A"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, h.sched.bulkMax)

	rec = h.do(http.MethodPost, "/api/blogs/generate-bulk", `{"count":`, map[string]string{"X-Account-ID": "A"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryChecksOwnership(t *testing.T) {
	h := newHarness(false)

	rec := h.do(http.MethodPost, "/api/topics/t1/retry", "", map[string]string{"X-Account-ID": "B"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(http.MethodPost, "/api/topics/missing/retry", "", map[string]string{"X-Account-ID": "A"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, h.sched.retried)

	rec = h.do(http.MethodPost, "/api/topics/t1/retry", "", map[string]string{"X-Account-ID": "A"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"t1"}, h.sched.retried)
}

func TestDraftRoutes(t *testing.T) {
	h := newHarness(false)
	headers := map[string]string{"X-Account-ID": "A"}

	rec := h.do(http.MethodPost, "/api/blogs/d1/publish", "", headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PUBLISHED", decode(t, rec)["status"])

	rec = h.do(http.MethodPut, "/api/blogs/d1", `{"title":"New"}`, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.drafts.edits.Title)
	assert.Equal(t, "New", *h.drafts.edits.Title)
	assert.Nil(t, h.drafts.edits.Body)

	rec = h.do(http.MethodDelete, "/api/blogs/d1", "", headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"publish:A:d1", "update:A:d1", "delete:A:d1"}, h.drafts.calls)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("draft x: %w", model.ErrNotFound), http.StatusNotFound},
		{scheduler.ErrNothingPending, http.StatusNotFound},
		{fmt.Errorf("%w (1/1)", drafts.ErrQuotaExceeded), http.StatusForbidden},
		{scheduler.ErrQuotaExhausted, http.StatusForbidden},
		{scheduler.ErrAccountUnavailable, http.StatusForbidden},
		{drafts.ErrInvalidState, http.StatusConflict},
		{scheduler.ErrNoAPIKey, http.StatusBadRequest},
		{fmt.Errorf("publish: %w", publisher.ErrNotConfigured), http.StatusUnprocessableEntity},
		{publisher.ErrNoURL, http.StatusUnprocessableEntity},
		{publisher.ErrInvalidCommand, http.StatusUnprocessableEntity},
		{fmt.Errorf("publish draft d: %w", &publisher.StatusError{StatusCode: 500}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestDraftErrorsAreMapped(t *testing.T) {
	h := newHarness(false)
	h.drafts.err = fmt.Errorf("publish draft d1: %w", &publisher.StatusError{Operation: publisher.OpPublish, StatusCode: 500, Body: "down"})

	rec := h.do(http.MethodPost, "/api/blogs/d1/publish", "", map[string]string{"X-Account-ID": "A"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "down")
}
