// Package scheduler turns due topics into generated drafts. Passes are
// sequential and quota aware; topics are claimed with a conditional write
// before any generation call, so overlapping passes never generate the
// same topic twice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auto_blog_publisher/clock"
	"auto_blog_publisher/generator"
	"auto_blog_publisher/metrics"
	"auto_blog_publisher/model"
	"auto_blog_publisher/quota"
)

const (
	KindDue  = "due"
	KindBulk = "bulk"

	// MaxBulk caps a bulk pass.
	MaxBulk     = 10
	defaultBulk = 5

	// commitAttempts bounds writes of a topic's result.
	commitAttempts = 3
)

var (
	ErrAccountUnavailable = errors.New("account missing or inactive")
	ErrNoAPIKey           = errors.New("account has no generation API key")
	ErrQuotaExhausted     = errors.New("monthly generation limit reached")
	ErrNothingPending     = errors.New("no pending topics found")
)

// Store is the persistence the scheduler needs.
type Store interface {
	FindDue(ctx context.Context, now, staleBefore time.Time) ([]model.Topic, error)
	FindPending(ctx context.Context, accountID string, now time.Time, limit int) ([]model.Topic, error)
	Claim(ctx context.Context, c model.Claim) (bool, error)
	Finish(ctx context.Context, f model.Finish) (bool, error)
	RetryTopic(ctx context.Context, id string, at time.Time) error
	GetAccount(ctx context.Context, id string) (model.Account, error)
	CreateDraft(ctx context.Context, d model.Draft) (model.Draft, error)
	ListDrafts(ctx context.Context, topicID string) ([]model.Draft, error)
}

type Quota interface {
	Usage(ctx context.Context, accountID string, limit int, kind quota.Kind) (quota.Usage, error)
}

// Generator produces content for one topic; one call is one attempt.
type Generator interface {
	Generate(ctx context.Context, spec generator.Spec) (generator.Content, error)
}

// GeneratorFactory builds the generation client for an account. It is
// called once per account per pass.
type GeneratorFactory func(account model.Account) (Generator, error)

type Config struct {
	// Throttle is waited before each generation.
	Throttle time.Duration
	// RetryDelay is waited between attempts on the same topic.
	RetryDelay time.Duration
	// Cooldown is waited after a successful generation.
	Cooldown    time.Duration
	MaxAttempts int
	// ClaimLease is how long a RUNNING claim is honoured before another
	// pass may take the topic over.
	ClaimLease time.Duration
}

func DefaultConfig() Config {
	return Config{
		Throttle:    time.Second,
		RetryDelay:  2 * time.Second,
		Cooldown:    time.Second,
		MaxAttempts: 3,
		ClaimLease:  15 * time.Minute,
	}
}

type Deps struct {
	Store      Store
	Quota      Quota
	Generators GeneratorFactory
	Clock      clock.Clock
	Logger     *slog.Logger
}

type Scheduler struct {
	cfg        Config
	store      Store
	quota      Quota
	generators GeneratorFactory
	clock      clock.Clock
	logger     *slog.Logger
}

func New(cfg Config, deps Deps) *Scheduler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultConfig().ClaimLease
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		store:      deps.Store,
		quota:      deps.Quota,
		generators: deps.Generators,
		clock:      deps.Clock,
		logger:     deps.Logger.With(slog.String("component", "scheduler")),
	}
}

// batch is one account's share of a pass, in due order.
type batch struct {
	accountID string
	topics    []model.Topic
}

// RunDue processes every topic that is due now, one account batch at a
// time, in the order accounts first appear in the due set.
func (s *Scheduler) RunDue(ctx context.Context) (summary Summary, err error) {
	now := s.clock.Now()
	summary = newSummary(uuid.NewString(), KindDue, now)
	logger := s.logger.With(slog.String("run_id", summary.RunID))
	defer s.observe(&summary)

	topics, err := s.store.FindDue(ctx, now, now.Add(-s.cfg.ClaimLease))
	if err != nil {
		return summary, fmt.Errorf("find due topics: %w", err)
	}
	if len(topics) == 0 {
		logger.Debug("no topics due")
		return summary, nil
	}

	batches := groupByAccount(topics)
	logger.Info("due pass started", slog.Int("topics", len(topics)), slog.Int("accounts", len(batches)))

	for _, b := range batches {
		if err := s.runBatch(ctx, logger, b, &summary); err != nil {
			return summary, err
		}
	}

	logger.Info("due pass finished",
		slog.Int("generated", len(summary.Generated)),
		slog.Int("failed", len(summary.Failed)),
		slog.Int("skipped", len(summary.Skipped)))
	return summary, nil
}

// RunAccount is the operator's "generate now": up to max of the account's
// pending topics, due scheduled ones first. max is clamped to 1..MaxBulk.
func (s *Scheduler) RunAccount(ctx context.Context, accountID string, max int) (summary Summary, err error) {
	now := s.clock.Now()
	summary = newSummary(uuid.NewString(), KindBulk, now)
	logger := s.logger.With(slog.String("run_id", summary.RunID), slog.String("account_id", accountID))
	defer s.observe(&summary)

	switch {
	case max <= 0:
		max = defaultBulk
	case max > MaxBulk:
		max = MaxBulk
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, model.ErrNotFound) || (err == nil && !account.Active) {
		return summary, ErrAccountUnavailable
	}
	if err != nil {
		return summary, fmt.Errorf("load account: %w", err)
	}
	if account.APIKey == "" {
		return summary, ErrNoAPIKey
	}
	usage, err := s.quota.Usage(ctx, account.ID, account.MonthlyLimit, quota.Generation)
	if err != nil {
		return summary, err
	}
	if usage.Exhausted() {
		return summary, fmt.Errorf("%w (%d/%d)", ErrQuotaExhausted, usage.Used, usage.Limit)
	}

	topics, err := s.store.FindPending(ctx, account.ID, now, max)
	if err != nil {
		return summary, fmt.Errorf("find pending topics: %w", err)
	}
	if len(topics) == 0 {
		return summary, ErrNothingPending
	}

	gen, err := s.generators(account)
	if err != nil {
		return summary, fmt.Errorf("build generator: %w", err)
	}
	logger.Info("bulk pass started", slog.Int("topics", len(topics)))
	if err := s.processTopics(ctx, logger, account, gen, &usage, topics, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// Retry re-admits a FAILED topic to the due pass.
func (s *Scheduler) Retry(ctx context.Context, topicID string) error {
	if err := s.store.RetryTopic(ctx, topicID, s.clock.Now()); err != nil {
		return fmt.Errorf("retry topic %s: %w", topicID, err)
	}
	s.logger.Info("topic re-scheduled", slog.String("topic_id", topicID))
	return nil
}

func (s *Scheduler) runBatch(ctx context.Context, logger *slog.Logger, b batch, summary *Summary) error {
	logger = logger.With(slog.String("account_id", b.accountID))

	account, err := s.store.GetAccount(ctx, b.accountID)
	if err != nil || !account.Active {
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Warn("account lookup failed", slog.Any("error", err))
		}
		skipAll(summary, b.topics, ReasonAccountUnavailable)
		return nil
	}
	if account.APIKey == "" {
		logger.Warn("no API key, skipping batch", slog.Int("topics", len(b.topics)))
		skipAll(summary, b.topics, ReasonNoAPIKey)
		return nil
	}
	usage, err := s.quota.Usage(ctx, account.ID, account.MonthlyLimit, quota.Generation)
	if err != nil {
		logger.Warn("quota lookup failed", slog.Any("error", err))
		skipAll(summary, b.topics, ReasonQuotaUnavailable)
		return nil
	}
	if usage.Exhausted() {
		logger.Info("monthly limit reached, skipping batch",
			slog.Int("used", usage.Used), slog.Int("limit", usage.Limit))
		skipAll(summary, b.topics, ReasonQuotaExhausted)
		return nil
	}
	gen, err := s.generators(account)
	if err != nil {
		logger.Warn("generator unavailable", slog.Any("error", err))
		skipAll(summary, b.topics, ReasonGeneratorUnavailable)
		return nil
	}

	logger.Info("processing batch", slog.Int("topics", len(b.topics)))
	return s.processTopics(ctx, logger, account, gen, &usage, b.topics, summary)
}

// processTopics handles topics strictly one after another. A topic's
// failure never stops the batch; only a cancelled context does.
func (s *Scheduler) processTopics(ctx context.Context, logger *slog.Logger, account model.Account, gen Generator, usage *quota.Usage, topics []model.Topic, summary *Summary) error {
	for _, topic := range topics {
		tl := logger.With(slog.String("topic_id", topic.ID))

		if usage.Exhausted() {
			tl.Info("monthly limit reached, skipping topic", slog.Int("used", usage.Used), slog.Int("limit", usage.Limit))
			summary.Skipped = append(summary.Skipped, outcome(topic, ReasonQuotaExhausted))
			continue
		}

		claim := model.ClaimFor(topic, s.clock.Now())
		ok, err := s.store.Claim(ctx, claim)
		if err != nil {
			tl.Warn("claim failed", slog.Any("error", err))
			summary.Skipped = append(summary.Skipped, outcome(topic, ReasonClaimFailed))
			continue
		}
		if !ok {
			tl.Debug("topic claimed by another pass")
			continue
		}

		if claim.State == model.SchedulingRunning {
			if draft, ok := s.existingDraft(ctx, tl, topic); ok {
				s.adopt(ctx, tl, claim, topic, draft, summary)
				continue
			}
		}

		if err := s.clock.Sleep(ctx, s.cfg.Throttle); err != nil {
			return err
		}

		draft, attempts, genErr := s.generate(ctx, tl, account, gen, topic)
		if genErr != nil && ctx.Err() != nil {
			// Nothing was saved; the claim lapses and a later pass takes
			// the topic over.
			return ctx.Err()
		}

		finish := model.Finish{
			TopicID:   topic.ID,
			ClaimedAt: claim.At,
			Attempts:  attempts,
			At:        s.clock.Now(),
		}
		if genErr == nil {
			finish.To = terminal(claim.From, model.SchedulingDone)
			finish.Generated = true
		} else {
			finish.To = terminal(claim.From, model.SchedulingFailed)
			finish.LastError = genErr.Error()
		}

		// A saved draft is always recorded, even when the pass is being
		// cancelled.
		o := outcome(topic, "")
		o.Attempts = attempts
		if err := s.commit(context.WithoutCancel(ctx), tl, finish); err != nil {
			tl.Error("could not record topic result", slog.Any("error", err))
			o.Reason = ReasonCommitFailed
			o.DraftID = draft.ID
			o.Error = err.Error()
			summary.Skipped = append(summary.Skipped, o)
			if genErr == nil {
				usage.Consume()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if genErr != nil {
			o.Error = genErr.Error()
			summary.Failed = append(summary.Failed, o)
			tl.Warn("generation failed", slog.Int("attempts", attempts), slog.Any("error", genErr))
			continue
		}

		o.DraftID = draft.ID
		summary.Generated = append(summary.Generated, o)
		usage.Consume()
		tl.Info("draft generated", slog.String("draft_id", draft.ID), slog.Int("attempts", attempts))

		if err := s.clock.Sleep(ctx, s.cfg.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

// commit records a topic's result, retrying store errors. A finish that
// loses to a newer claim is not an error.
func (s *Scheduler) commit(ctx context.Context, logger *slog.Logger, f model.Finish) error {
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		if attempt > 1 {
			if serr := s.clock.Sleep(ctx, s.cfg.RetryDelay); serr != nil {
				return serr
			}
		}
		var finished bool
		finished, err = s.store.Finish(ctx, f)
		if err == nil {
			if !finished {
				logger.Warn("claim was taken over before the result was recorded")
			}
			return nil
		}
		logger.Warn("recording topic result failed", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return err
}

// existingDraft reports the draft an earlier pass saved for a topic whose
// claim it never released.
func (s *Scheduler) existingDraft(ctx context.Context, logger *slog.Logger, topic model.Topic) (model.Draft, bool) {
	if topic.GenerationState == model.GenerationGenerated {
		return model.Draft{}, false
	}
	drafts, err := s.store.ListDrafts(ctx, topic.ID)
	if err != nil {
		logger.Warn("could not list drafts of stale topic", slog.Any("error", err))
		return model.Draft{}, false
	}
	if len(drafts) == 0 {
		return model.Draft{}, false
	}
	return drafts[len(drafts)-1], true
}

// adopt finishes a recovered topic with the draft it already has instead
// of generating it again. The draft already counts against the quota.
func (s *Scheduler) adopt(ctx context.Context, logger *slog.Logger, claim model.Claim, topic model.Topic, draft model.Draft, summary *Summary) {
	o := outcome(topic, "")
	o.Attempts = topic.Attempts
	o.DraftID = draft.ID
	err := s.commit(context.WithoutCancel(ctx), logger, model.Finish{
		TopicID:   topic.ID,
		ClaimedAt: claim.At,
		To:        terminal(claim.From, model.SchedulingDone),
		Generated: true,
		Attempts:  topic.Attempts,
		At:        s.clock.Now(),
	})
	if err != nil {
		logger.Error("could not record recovered topic", slog.Any("error", err))
		o.Reason = ReasonCommitFailed
		o.Error = err.Error()
		summary.Skipped = append(summary.Skipped, o)
		return
	}
	logger.Info("recovered draft from an interrupted pass", slog.String("draft_id", draft.ID))
	summary.Generated = append(summary.Generated, o)
}

// generate makes up to MaxAttempts attempts; an attempt is a generation
// call plus persisting its draft.
func (s *Scheduler) generate(ctx context.Context, logger *slog.Logger, account model.Account, gen Generator, topic model.Topic) (model.Draft, int, error) {
	spec := generator.Spec{
		Title:    topic.Title,
		Category: topic.Category,
		Keywords: topic.Keywords,
		Audience: topic.Audience,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.clock.Sleep(ctx, s.cfg.RetryDelay); err != nil {
				return model.Draft{}, attempt - 1, err
			}
		}

		content, err := gen.Generate(ctx, spec)
		if err == nil {
			now := s.clock.Now()
			var draft model.Draft
			draft, err = s.store.CreateDraft(ctx, model.Draft{
				TopicID:         topic.ID,
				AccountID:       account.ID,
				Title:           content.Title,
				MetaDescription: content.MetaDescription,
				Slug:            content.Slug,
				Body:            content.Body,
				Tags:            content.Tags,
				ImagePrompt:     content.ImagePrompt,
				ImageURL:        fmt.Sprintf("https://picsum.photos/seed/%d/1200/630", now.UnixMilli()),
				Status:          model.DraftGenerated,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			if err == nil {
				metrics.GenerationAttempts.WithLabelValues("ok").Inc()
				return draft, attempt, nil
			}
			err = fmt.Errorf("save draft: %w", err)
		}

		metrics.GenerationAttempts.WithLabelValues("error").Inc()
		lastErr = err
		logger.Warn("generation attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
			slog.Any("error", err))
		if ctx.Err() != nil {
			return model.Draft{}, attempt, ctx.Err()
		}
	}
	return model.Draft{}, s.cfg.MaxAttempts, lastErr
}

func (s *Scheduler) observe(summary *Summary) {
	summary.FinishedAt = s.clock.Now()
	metrics.PassDuration.WithLabelValues(summary.Kind).Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	metrics.TopicsProcessed.WithLabelValues("generated").Add(float64(len(summary.Generated)))
	metrics.TopicsProcessed.WithLabelValues("failed").Add(float64(len(summary.Failed)))
	metrics.TopicsProcessed.WithLabelValues("skipped").Add(float64(len(summary.Skipped)))
}

// terminal is the state a claimed topic leaves RUNNING for. Only
// scheduled topics record DONE or FAILED; unscheduled ones go back to
// NONE.
func terminal(from, to model.SchedulingState) model.SchedulingState {
	if from == model.SchedulingNone {
		return model.SchedulingNone
	}
	return to
}

func groupByAccount(topics []model.Topic) []batch {
	var batches []batch
	index := make(map[string]int)
	for _, t := range topics {
		i, ok := index[t.AccountID]
		if !ok {
			i = len(batches)
			index[t.AccountID] = i
			batches = append(batches, batch{accountID: t.AccountID})
		}
		batches[i].topics = append(batches[i].topics, t)
	}
	return batches
}

func skipAll(summary *Summary, topics []model.Topic, reason Reason) {
	for _, t := range topics {
		summary.Skipped = append(summary.Skipped, outcome(t, reason))
	}
}

func outcome(t model.Topic, reason Reason) Outcome {
	return Outcome{TopicID: t.ID, AccountID: t.AccountID, Title: t.Title, Reason: reason}
}
