// Package drafts runs the operator workflows that push drafts to the
// external content API. A draft's local state changes only after the
// external call succeeds.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"auto_blog_publisher/clock"
	"auto_blog_publisher/model"
	"auto_blog_publisher/payload"
	"auto_blog_publisher/publisher"
	"auto_blog_publisher/quota"
)

const deletedComment = "Deleted by user"

var (
	// ErrQuotaExceeded is returned when the account has used its monthly
	// publish allowance.
	ErrQuotaExceeded = errors.New("monthly publish limit reached")
	// ErrInvalidState is returned for operations the draft's status does
	// not allow.
	ErrInvalidState = errors.New("draft is not in a valid state for this operation")
)

type Store interface {
	GetDraft(ctx context.Context, id string) (model.Draft, error)
	GetTopic(ctx context.Context, id string) (model.Topic, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	SaveContent(ctx context.Context, d model.Draft) error
	MarkPublished(ctx context.Context, id string, response payload.Object, at time.Time) error
	MarkRejected(ctx context.Context, id, comment string, at time.Time) error
}

// Publisher is the external API adapter.
type Publisher interface {
	Publish(ctx context.Context, command string, record payload.Object) (payload.Object, error)
	Update(ctx context.Context, command string, record, stored payload.Object) (payload.Object, error)
	Delete(ctx context.Context, command string, stored payload.Object) (payload.Object, error)
}

type Quota interface {
	Usage(ctx context.Context, accountID string, limit int, kind quota.Kind) (quota.Usage, error)
}

type Service struct {
	store     Store
	publisher Publisher
	quota     Quota
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(st Store, pub Publisher, q Quota, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: pub,
		quota:     q,
		clock:     clk,
		logger:    logger.With(slog.String("component", "drafts")),
	}
}

// Publish sends the draft to the account's publish command and marks it
// PUBLISHED with the response. Without a publish command the draft is
// published locally only.
func (s *Service) Publish(ctx context.Context, accountID, draftID string) (model.Draft, error) {
	d, account, err := s.load(ctx, accountID, draftID)
	if err != nil {
		return model.Draft{}, err
	}
	if d.Status == model.DraftRejected {
		return model.Draft{}, fmt.Errorf("publish draft %s: %w", d.ID, ErrInvalidState)
	}

	if d.Status != model.DraftPublished {
		usage, err := s.quota.Usage(ctx, account.ID, account.MonthlyLimit, quota.Publish)
		if err != nil {
			return model.Draft{}, err
		}
		if usage.Exhausted() {
			return model.Draft{}, fmt.Errorf("%w (%d/%d)", ErrQuotaExceeded, usage.Used, usage.Limit)
		}
	}

	now := s.clock.Now()
	response := d.ExternalResponse
	if account.PublishCommand != "" {
		d.PublishedAt = &now
		record, err := s.record(ctx, d)
		if err != nil {
			return model.Draft{}, err
		}
		response, err = s.publisher.Publish(ctx, account.PublishCommand, record)
		if err != nil {
			s.logger.Warn("external publish failed", slog.String("draft_id", d.ID), slog.Any("error", err))
			return model.Draft{}, fmt.Errorf("publish draft %s: %w", d.ID, err)
		}
	}

	if err := s.store.MarkPublished(ctx, d.ID, response, now); err != nil {
		return model.Draft{}, err
	}
	s.logger.Info("draft published",
		slog.String("draft_id", d.ID),
		slog.Bool("external", account.PublishCommand != ""))
	return s.store.GetDraft(ctx, d.ID)
}

// Update applies edits. For a published draft with an update command the
// edited record is re-sent first; the edits are kept only if that call
// succeeds.
func (s *Service) Update(ctx context.Context, accountID, draftID string, edits model.DraftEdits) (model.Draft, error) {
	d, account, err := s.load(ctx, accountID, draftID)
	if err != nil {
		return model.Draft{}, err
	}
	if d.Status == model.DraftRejected {
		return model.Draft{}, fmt.Errorf("update draft %s: %w", d.ID, ErrInvalidState)
	}
	if edits.Empty() {
		return d, nil
	}

	updated := edits.Apply(d)
	updated.UpdatedAt = s.clock.Now()

	if d.Status == model.DraftPublished && account.UpdateCommand != "" {
		record, err := s.record(ctx, updated)
		if err != nil {
			return model.Draft{}, err
		}
		if _, err := s.publisher.Update(ctx, account.UpdateCommand, record, d.ExternalResponse); err != nil {
			s.logger.Warn("external update failed", slog.String("draft_id", d.ID), slog.Any("error", err))
			return model.Draft{}, fmt.Errorf("update draft %s: %w", d.ID, err)
		}
	}

	if err := s.store.SaveContent(ctx, updated); err != nil {
		return model.Draft{}, err
	}
	return s.store.GetDraft(ctx, d.ID)
}

// Delete rejects the draft. A published draft is first removed from the
// external API, addressed through the stored publish response (or the
// local id when none was stored); if that fails the draft is untouched.
func (s *Service) Delete(ctx context.Context, accountID, draftID string) error {
	d, account, err := s.load(ctx, accountID, draftID)
	if err != nil {
		return err
	}

	if d.Status == model.DraftPublished && account.DeleteCommand != "" {
		stored := d.ExternalResponse
		if len(stored) == 0 {
			stored = payload.Object{"id": payload.String(d.ID)}
		}
		if _, err := s.publisher.Delete(ctx, account.DeleteCommand, stored); err != nil {
			s.logger.Warn("external delete failed", slog.String("draft_id", d.ID), slog.Any("error", err))
			return fmt.Errorf("delete draft %s: %w", d.ID, err)
		}
	}

	if err := s.store.MarkRejected(ctx, d.ID, deletedComment, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("draft deleted", slog.String("draft_id", d.ID))
	return nil
}

// load fetches a draft owned by accountID together with the account.
// Drafts of other accounts are reported as not found.
func (s *Service) load(ctx context.Context, accountID, draftID string) (model.Draft, model.Account, error) {
	d, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return model.Draft{}, model.Account{}, fmt.Errorf("draft %s: %w", draftID, err)
	}
	if d.AccountID != accountID {
		return model.Draft{}, model.Account{}, fmt.Errorf("draft %s: %w", draftID, model.ErrNotFound)
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Draft{}, model.Account{}, fmt.Errorf("account %s: %w", accountID, err)
	}
	return d, account, nil
}

func (s *Service) record(ctx context.Context, d model.Draft) (payload.Object, error) {
	postedBy := ""
	if topic, err := s.store.GetTopic(ctx, d.TopicID); err == nil {
		postedBy = topic.PostedBy
	}
	record, err := publisher.BuildRecord(d, postedBy)
	if err != nil {
		return nil, fmt.Errorf("build record for draft %s: %w", d.ID, err)
	}
	return record, nil
}
