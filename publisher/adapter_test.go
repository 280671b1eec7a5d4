package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_blog_publisher/model"
	"auto_blog_publisher/payload"
)

type capturedRequest struct {
	Method  string
	Path    string
	Header  http.Header
	Body    string
	HasBody bool
}

func newCaptureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		captured.Method = r.Method
		captured.Path = r.URL.RequestURI()
		captured.Header = r.Header.Clone()
		captured.Body = string(data)
		captured.HasBody = len(data) > 0
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestAdapter() *Adapter {
	return NewAdapter(&http.Client{Timeout: 5 * time.Second}, nil)
}

func TestPublishProjectsRecordOntoTemplate(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusCreated, `{"data":{"id":"abc"}}`)
	command := `curl -X POST '` + srv.URL + `/posts' -H 'Authorization: Bearer tok' -d '{"title":"","category":"news","tags":[]}'`
	record := mustObject(t, `{"title":"Hello","tags":["a","b"],"content":"<p>x</p>"}`)

	resp, err := newTestAdapter().Publish(context.Background(), command, record)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/posts", got.Path)
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"title":"Hello","category":"news","tags":["a","b"]}`, got.Body)

	assert.Equal(t, "abc", Resolve("data.id", resp))
}

func TestPublishWithoutTemplateSendsRecord(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"ok":true}`)
	record := mustObject(t, `{"title":"Hello","slug":"hello"}`)

	_, err := newTestAdapter().Publish(context.Background(), "curl "+srv.URL+" -H 'content-type: application/vnd.api+json'", record)
	require.NoError(t, err)

	assert.JSONEq(t, `{"title":"Hello","slug":"hello"}`, got.Body)
	assert.Equal(t, "application/vnd.api+json", got.Header.Get("Content-Type"), "supplied content type is kept")
}

func TestBuildPayloadRoundTrip(t *testing.T) {
	template := ParseCommand(`curl https://x.test -d '{"title":"T","slug":"s","tags":["t"],"status":"draft"}'`).Body
	require.NotNil(t, template)

	record := mustObject(t, `{"title":"Real","slug":"real","tags":["go"],"status":"live","extra":"ignored"}`)
	out := BuildPayload(template, record)

	require.Len(t, out, len(template))
	for key := range template {
		want, _ := json.Marshal(record[key])
		have, _ := json.Marshal(out[key])
		assert.JSONEq(t, string(want), string(have), key)
	}
}

func TestBuildPayloadKeepsTemplateLiterals(t *testing.T) {
	template := mustObject(t, `{"title":"","site_id":7}`)
	out := BuildPayload(template, mustObject(t, `{"title":"Hi"}`))
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Hi","site_id":7}`, string(data))

	assert.Equal(t, payload.Object{}, BuildPayload(nil, nil))
}

func TestPublishNon2xxCarriesStatusAndBody(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusUnprocessableEntity, `{"error":"slug taken"}`)

	_, err := newTestAdapter().Publish(context.Background(), "curl "+srv.URL, payload.Object{})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Equal(t, OpPublish, statusErr.Operation)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "slug taken")
}

func TestPublishNonJSONResponseIsEmptyObject(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusOK, `created`)

	resp, err := newTestAdapter().Publish(context.Background(), "curl "+srv.URL, payload.Object{})
	require.NoError(t, err)
	assert.Equal(t, payload.Object{}, resp)
}

func TestPublishArrayResponseIsKeptUnderData(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusCreated, `[{"id":"ext-1"}]`)

	resp, err := newTestAdapter().Publish(context.Background(), "curl "+srv.URL, payload.Object{})
	require.NoError(t, err)

	assert.Equal(t, "ext-1", Resolve("data.0.id", resp))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"id":"ext-1"}]}`, string(data))
}

func TestPublishConfigurationErrors(t *testing.T) {
	a := newTestAdapter()

	_, err := a.Publish(context.Background(), "   ", payload.Object{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = a.Publish(context.Background(), `curl -X POST -d '{}'`, payload.Object{})
	assert.ErrorIs(t, err, ErrNoURL)

	_, err = a.Delete(context.Background(), "", payload.Object{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPublishNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestAdapter().Publish(context.Background(), "curl "+url, payload.Object{})
	require.Error(t, err)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestInterpolateDeleteURL(t *testing.T) {
	stored := mustObject(t, `{"data":{"id":"abc123"}}`)
	cmd := InterpolateDelete(`DELETE https://x/items/{{id}}`, stored)
	assert.Equal(t, "https://x/items/abc123", cmd.URL)
	assert.Equal(t, http.MethodDelete, cmd.Method)
}

func TestDeleteDefaultsMethodAndResolvesPlaceholders(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"deleted":true}`)
	stored := mustObject(t, `{"data":{"id":"abc123","note":"say \"bye\""}}`)

	command := `curl '` + srv.URL + `/items/{{id}}' -H 'X-Key: k' -d '{"reason":"{{data.note}}","id":"{{id}}"}'`
	resp, err := newTestAdapter().Delete(context.Background(), command, stored)
	require.NoError(t, err)

	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "/items/abc123", got.Path)
	assert.Equal(t, "k", got.Header.Get("X-Key"))
	assert.JSONEq(t, `{"reason":"say \"bye\"","id":"abc123"}`, got.Body)
	assert.Equal(t, "true", Resolve("deleted", resp))
}

func TestDeleteKeepsExplicitMethodAndPathParams(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusNoContent, ``)
	stored := mustObject(t, `{"result":{"_id":{"$oid":"65f1"}}}`)

	_, err := newTestAdapter().Delete(context.Background(), `curl -X POST `+srv.URL+`/posts/:id/archive`, stored)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/posts/65f1/archive", got.Path)
	assert.False(t, got.HasBody)
}

func TestDeleteFailureIsReported(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusNotFound, `no such item`)

	_, err := newTestAdapter().Delete(context.Background(), "curl "+srv.URL+"/items/{{id}}", payload.Object{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, OpDelete, statusErr.Operation)
	assert.Equal(t, "no such item", statusErr.Body)
}

func TestUpdateAddressesStoredExternalID(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"updated":true}`)
	stored := mustObject(t, `{"id":"ext-1"}`)
	record := mustObject(t, `{"title":"Edited","slug":"edited"}`)

	_, err := newTestAdapter().Update(context.Background(),
		`curl -X PUT `+srv.URL+`/posts/{{id}} -d '{"title":"","slug":""}'`, record, stored)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/posts/ext-1", got.Path)
	assert.JSONEq(t, `{"title":"Edited","slug":"edited"}`, got.Body)
}

func TestDeleteEscapesInlineBodyValues(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{}`)
	stored := mustObject(t, `{"id":"ext-1","data":{"title":"He said \"hi\""}}`)

	_, err := newTestAdapter().Delete(context.Background(),
		`curl -X DELETE `+srv.URL+`/posts/{{id}} --data-raw='{"t":"{{data.title}}"}'`, stored)
	require.NoError(t, err)

	assert.Equal(t, "/posts/ext-1", got.Path)
	require.True(t, got.HasBody)
	assert.JSONEq(t, `{"t":"He said \"hi\""}`, got.Body)
}

func TestBuildRecordRendersMarkdown(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec, err := BuildRecord(model.Draft{
		TopicID:         "t1",
		Title:           "Go Scheduling",
		MetaDescription: "desc",
		Slug:            "go-scheduling",
		Body:            "## Intro\n\nHello **world**",
		Tags:            []string{"go"},
		PublishedAt:     &at,
	}, "Jane")
	require.NoError(t, err)

	html, _ := rec["content"].Str()
	assert.Contains(t, html, "<h2>Intro</h2>")
	assert.Contains(t, html, "<strong>world</strong>")
	assert.Equal(t, "Go Scheduling", Resolve("seoTitle", rec))
	assert.Equal(t, "desc", Resolve("meta_description", rec))
	assert.Equal(t, "Jane", Resolve("author", rec))
	assert.Equal(t, "2026-03-01T10:00:00Z", Resolve("publishedAt", rec))
	assert.Equal(t, `["go"]`, Resolve("tags", rec))
}
