package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"auto_blog_publisher/metrics"
	"auto_blog_publisher/payload"
)

// maxResponseBytes bounds how much of an external response is read.
const maxResponseBytes = 4 << 20

var (
	// ErrNotConfigured is returned when the account has no command for
	// the requested operation.
	ErrNotConfigured = errors.New("external command not configured")
	// ErrNoURL is returned when no http(s) URL could be extracted from the
	// command.
	ErrNoURL = errors.New("could not extract a valid URL from the command")
	// ErrInvalidCommand is returned when the extracted descriptor cannot
	// form a request (bad method or URL).
	ErrInvalidCommand = errors.New("invalid external command")
)

// Operation names the adapter call in errors, logs and metrics.
type Operation string

const (
	OpPublish Operation = "publish"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
)

// StatusError reports a non-2xx answer from the external API.
type StatusError struct {
	Operation  Operation
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API call failed (%d): %s", e.Operation, e.StatusCode, e.Body)
}

// Adapter executes operator-configured curl commands against an external
// content API. It never retries; callers own the retry policy.
type Adapter struct {
	client *http.Client
	logger *slog.Logger
}

// NewAdapter wires an HTTP client; a nil client gets a 60s timeout.
func NewAdapter(client *http.Client, logger *slog.Logger) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, logger: logger}
}

// Publish sends record to the endpoint described by command. When the
// command carries a JSON body template, only the template's keys are
// sent, each taking the record's value when the record has that key.
func (a *Adapter) Publish(ctx context.Context, command string, record payload.Object) (payload.Object, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%s: %w", OpPublish, ErrNotConfigured)
	}
	cmd := ParseCommand(command)
	return a.send(ctx, OpPublish, cmd, BuildPayload(cmd.Body, record), true)
}

// Update re-sends an already published record. Placeholders in the
// command resolve against the stored publish response first, then the
// record, so the externally assigned id can be addressed.
func (a *Adapter) Update(ctx context.Context, command string, record, stored payload.Object) (payload.Object, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%s: %w", OpUpdate, ErrNotConfigured)
	}
	cmd := Interpret(substituteTokens(Tokenize(command), stored, record))
	return a.send(ctx, OpUpdate, cmd, BuildPayload(cmd.Body, record), true)
}

// Delete removes a published record. Placeholders resolve against the
// stored publish response only; without an explicit method the request
// is a DELETE.
func (a *Adapter) Delete(ctx context.Context, command string, stored payload.Object) (payload.Object, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%s: %w", OpDelete, ErrNotConfigured)
	}
	cmd := InterpolateDelete(command, stored)
	return a.send(ctx, OpDelete, cmd, cmd.Body, cmd.Body != nil)
}

// InterpolateDelete resolves a delete command against a stored response
// and applies the DELETE default.
func InterpolateDelete(command string, stored payload.Object) Command {
	cmd := Interpret(substituteTokens(Tokenize(command), stored))
	if !cmd.ExplicitMethod {
		cmd.Method = http.MethodDelete
	}
	return cmd
}

// BuildPayload projects record onto a body template. A nil template
// sends the record unchanged.
func BuildPayload(template, record payload.Object) payload.Object {
	if record == nil {
		record = payload.Object{}
	}
	if template == nil {
		return record
	}
	out := make(payload.Object, len(template))
	for k, v := range template {
		if rv, ok := record[k]; ok {
			out[k] = rv
			continue
		}
		out[k] = v
	}
	return out
}

// substituteTokens interpolates {{key}} placeholders in every token and
// :key segments in URL tokens. Body tokens get JSON-escaped values so the
// template still parses.
func substituteTokens(tokens []Token, sources ...payload.Object) []Token {
	out := make([]Token, len(tokens))
	for i, tok := range tokens {
		text := tok.Text
		name, value, inline := splitFlag(text)
		switch {
		case i > 0 && !tokens[i-1].Quoted && bodyFlags[tokens[i-1].Text]:
			text = interpolateJSON(text, sources...)
		case inline && bodyFlags[name]:
			text = name + "=" + interpolateJSON(value, sources...)
		default:
			text = Interpolate(text, sources...)
		}
		if isURL(text) {
			text = interpolatePathParams(trimQuotes(text), sources...)
		}
		out[i] = Token{Text: text, Quoted: tok.Quoted}
	}
	return out
}

func (a *Adapter) send(ctx context.Context, op Operation, cmd Command, body payload.Object, withBody bool) (payload.Object, error) {
	if !cmd.Configured() {
		metrics.ExternalCalls.WithLabelValues(string(op), "config_error").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrNoURL)
	}

	var reader io.Reader
	if withBody {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cmd.Method, cmd.URL, reader)
	if err != nil {
		metrics.ExternalCalls.WithLabelValues(string(op), "config_error").Inc()
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidCommand, err)
	}
	for k, v := range cmd.Headers {
		req.Header.Set(k, v)
	}
	if _, ok := cmd.Header("Content-Type"); !ok {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		metrics.ExternalCalls.WithLabelValues(string(op), "network_error").Inc()
		a.logger.Warn("external call failed",
			slog.String("operation", string(op)),
			slog.String("method", cmd.Method),
			slog.String("url", cmd.URL),
			slog.Any("error", err))
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ExternalCalls.WithLabelValues(string(op), "network_error").Inc()
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	a.logger.Info("external call",
		slog.String("operation", string(op)),
		slog.String("method", cmd.Method),
		slog.String("url", cmd.URL),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ExternalCalls.WithLabelValues(string(op), "status_error").Inc()
		return nil, &StatusError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	metrics.ExternalCalls.WithLabelValues(string(op), "ok").Inc()
	var doc payload.Value
	if err := doc.UnmarshalJSON(raw); err != nil || doc.IsNull() {
		return payload.Object{}, nil
	}
	if obj, ok := doc.Object(); ok {
		return obj, nil
	}
	// Arrays and scalars are kept under "data" so they stay addressable.
	return payload.Object{"data": doc}, nil
}
