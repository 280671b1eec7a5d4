package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auto_blog_publisher/drafts"
	"auto_blog_publisher/metrics"
	"auto_blog_publisher/model"
	"auto_blog_publisher/publisher"
	"auto_blog_publisher/scheduler"
	"auto_blog_publisher/trigger"
)

const (
	accountHeader = "X-Account-ID"
	cronHeader    = "x-cron-secret"
	accountKey    = "accountID"
)

type Scheduler interface {
	RunDue(ctx context.Context) (scheduler.Summary, error)
	RunAccount(ctx context.Context, accountID string, max int) (scheduler.Summary, error)
	Retry(ctx context.Context, topicID string) error
}

type Drafts interface {
	Publish(ctx context.Context, accountID, draftID string) (model.Draft, error)
	Update(ctx context.Context, accountID, draftID string, edits model.DraftEdits) (model.Draft, error)
	Delete(ctx context.Context, accountID, draftID string) error
}

// Records looks up what the handlers authorize against.
type Records interface {
	GetTopic(ctx context.Context, id string) (model.Topic, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
}

// Enqueuer hands a due pass to the trigger queue.
type Enqueuer interface {
	Request(ctx context.Context, source string) (trigger.Request, error)
}

type Options struct {
	CronSecret string
	// Trigger enables ?async=true on the cron endpoint.
	Trigger Enqueuer
	Logger  *slog.Logger
}

type Server struct {
	scheduler  Scheduler
	drafts     Drafts
	records    Records
	trigger    Enqueuer
	cronSecret string
	logger     *slog.Logger
}

func New(sched Scheduler, d Drafts, records Records, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scheduler:  sched,
		drafts:     d,
		records:    records,
		trigger:    opts.Trigger,
		cronSecret: opts.CronSecret,
		logger:     logger.With(slog.String("component", "http")),
	}
}

func (s *Server) Routes() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.logMiddleware(), prometheusMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "blog-publisher"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/cron/generate", s.handleCron)
	api.POST("/cron/generate", s.handleCron)

	authed := api.Group("", requireAccount())
	authed.POST("/blogs/generate-bulk", s.handleBulk)
	authed.POST("/topics/:id/retry", s.handleRetry)
	authed.POST("/blogs/:id/publish", s.handlePublish)
	authed.PUT("/blogs/:id", s.handleUpdate)
	authed.DELETE("/blogs/:id", s.handleDelete)

	return router
}

// --- Handlers ---

func (s *Server) handleCron(c *gin.Context) {
	if !s.cronAuthorized(c) && !s.activeAccount(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if c.Query("async") == "true" && s.trigger != nil {
		req, err := s.trigger.Request(c.Request.Context(), "api")
		if err != nil {
			s.logger.Error("enqueue pass", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue generation pass"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Generation pass queued", "requestId": req.RequestID})
		return
	}

	// The pass outlives a disconnecting client; claims must not be left
	// half-finished.
	summary, err := s.scheduler.RunDue(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": summary.Message(), "summary": summary})
}

type bulkRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleBulk(c *gin.Context) {
	var req bulkRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	summary, err := s.scheduler.RunAccount(context.WithoutCancel(c.Request.Context()), accountID(c), req.Count)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": summary.Message(), "summary": summary})
}

func (s *Server) handleRetry(c *gin.Context) {
	id := c.Param("id")
	if s.records != nil {
		topic, err := s.records.GetTopic(c.Request.Context(), id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		if topic.AccountID != accountID(c) {
			s.writeError(c, model.ErrNotFound)
			return
		}
	}
	if err := s.scheduler.Retry(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Topic re-scheduled", "topicId": id})
}

func (s *Server) handlePublish(c *gin.Context) {
	d, err := s.drafts.Publish(context.WithoutCancel(c.Request.Context()), accountID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleUpdate(c *gin.Context) {
	var edits model.DraftEdits
	if err := c.ShouldBindJSON(&edits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := s.drafts.Update(context.WithoutCancel(c.Request.Context()), accountID(c), c.Param("id"), edits)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.drafts.Delete(context.WithoutCancel(c.Request.Context()), accountID(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Draft deleted"})
}

// --- Helpers ---

func (s *Server) cronAuthorized(c *gin.Context) bool {
	if s.cronSecret == "" {
		return false
	}
	given := c.GetHeader(cronHeader)
	if given == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			given = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.cronSecret)) == 1
}

// activeAccount reports whether the caller names an existing, active
// account, the manual "run now" path of the cron endpoint.
func (s *Server) activeAccount(c *gin.Context) bool {
	id := strings.TrimSpace(c.GetHeader(accountHeader))
	if id == "" || s.records == nil {
		return false
	}
	account, err := s.records.GetAccount(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("look up cron caller", slog.String("account_id", id), slog.Any("error", err))
		}
		return false
	}
	return account.Active
}

func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(accountHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + accountHeader})
			return
		}
		c.Set(accountKey, id)
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	return c.GetString(accountKey)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var statusErr *publisher.StatusError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, scheduler.ErrNothingPending):
		return http.StatusNotFound
	case errors.Is(err, drafts.ErrQuotaExceeded), errors.Is(err, scheduler.ErrQuotaExhausted),
		errors.Is(err, scheduler.ErrAccountUnavailable):
		return http.StatusForbidden
	case errors.Is(err, drafts.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrNoAPIKey):
		return http.StatusBadRequest
	case errors.Is(err, publisher.ErrNotConfigured), errors.Is(err, publisher.ErrNoURL),
		errors.Is(err, publisher.ErrInvalidCommand):
		return http.StatusUnprocessableEntity
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
