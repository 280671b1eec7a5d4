// Package trigger queues due passes through a NATS JetStream work queue,
// so a periodic ticker or an async HTTP request can hand a pass to
// whichever worker is consuming.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"auto_blog_publisher/metrics"
	"auto_blog_publisher/scheduler"
)

const (
	StreamName     = "BLOG_GENERATE"
	RequestSubject = "blogs.generate.request"
	ResultSubject  = "blogs.generate.result"

	durableName    = "blog-generate-workers"
	defaultAckWait = 15 * time.Minute
)

// Request asks a worker to run one due pass.
type Request struct {
	RequestID   string    `json:"requestId"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Result is published after a requested pass finishes.
type Result struct {
	RequestID string             `json:"requestId"`
	Success   bool               `json:"success"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	Summary   *scheduler.Summary `json:"summary,omitempty"`
}

// Runner runs a due pass.
type Runner interface {
	RunDue(ctx context.Context) (scheduler.Summary, error)
}

type Trigger struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	ackWait time.Duration
	logger  *slog.Logger
}

// Connect dials NATS and prepares the work-queue stream.
func Connect(url string, ackWait time.Duration, logger *slog.Logger) (*Trigger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("blog-publisher"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS connection lost", slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	t, err := New(nc, ackWait, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func New(nc *nats.Conn, ackWait time.Duration, logger *slog.Logger) (*Trigger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ackWait <= 0 {
		ackWait = defaultAckWait
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := setupStream(js); err != nil {
		return nil, err
	}
	return &Trigger{
		nc:      nc,
		js:      js,
		ackWait: ackWait,
		logger:  logger.With(slog.String("component", "trigger")),
	}, nil
}

func (t *Trigger) Close() {
	if t.nc != nil {
		t.nc.Close()
	}
}

// Request enqueues one due pass.
func (t *Trigger) Request(ctx context.Context, source string) (Request, error) {
	req := NewRequest(source, time.Now())
	data, err := json.Marshal(req)
	if err != nil {
		return Request{}, err
	}
	if _, err := t.js.Publish(RequestSubject, data, nats.Context(ctx)); err != nil {
		metrics.TriggerMessages.WithLabelValues(RequestSubject, "publish_error").Inc()
		return Request{}, fmt.Errorf("publish trigger request: %w", err)
	}
	metrics.TriggerMessages.WithLabelValues(RequestSubject, "published").Inc()
	t.logger.Info("pass requested", slog.String("request_id", req.RequestID), slog.String("source", source))
	return req, nil
}

// Tick requests a pass immediately and then every interval until ctx is
// done.
func (t *Trigger) Tick(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := t.Request(ctx, "tick"); err != nil {
			t.logger.Error("tick request failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Consume runs one due pass per queued request, one at a time, until ctx
// is done. Requests whose pass errors are redelivered.
func (t *Trigger) Consume(ctx context.Context, runner Runner) error {
	sub, err := t.js.Subscribe(RequestSubject, func(msg *nats.Msg) {
		result, outcome := Handle(ctx, runner, msg.Data)
		metrics.TriggerMessages.WithLabelValues(RequestSubject, string(outcome)).Inc()
		if result != nil {
			t.publishResult(*result)
		}
		switch outcome {
		case Acked:
			_ = msg.Ack()
		case Retry:
			_ = msg.Nak()
		default:
			_ = msg.Term()
		}
	},
		nats.Durable(durableName),
		nats.ManualAck(),
		nats.MaxAckPending(1),
		nats.AckWait(t.ackWait),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", RequestSubject, err)
	}
	t.logger.Info("consuming pass requests", slog.String("subject", RequestSubject))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		t.logger.Warn("drain subscription", slog.Any("error", err))
	}
	return ctx.Err()
}

func (t *Trigger) publishResult(result Result) {
	data, err := json.Marshal(result)
	if err != nil {
		t.logger.Error("marshal pass result", slog.Any("error", err))
		return
	}
	if err := t.nc.Publish(ResultSubject, data); err != nil {
		metrics.TriggerMessages.WithLabelValues(ResultSubject, "publish_error").Inc()
		t.logger.Warn("publish pass result", slog.Any("error", err))
		return
	}
	metrics.TriggerMessages.WithLabelValues(ResultSubject, "published").Inc()
}

// Outcome is how a request message is settled.
type Outcome string

const (
	Acked    Outcome = "acked"
	Retry    Outcome = "retry"
	Rejected Outcome = "rejected"
)

func NewRequest(source string, at time.Time) Request {
	return Request{RequestID: uuid.NewString(), Source: source, RequestedAt: at.UTC()}
}

// Handle decodes a request and runs the pass. Malformed messages are
// rejected without a result. A started pass is not cut short by ctx being
// cancelled.
func Handle(ctx context.Context, runner Runner, data []byte) (*Result, Outcome) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.RequestID == "" {
		return nil, Rejected
	}

	summary, err := runner.RunDue(context.WithoutCancel(ctx))
	if err != nil {
		return &Result{RequestID: req.RequestID, Error: err.Error()}, Retry
	}
	return &Result{
		RequestID: req.RequestID,
		Success:   true,
		Message:   summary.Message(),
		Summary:   &summary,
	}, Acked
}

func setupStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{RequestSubject},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", StreamName, err)
	}
	return nil
}
