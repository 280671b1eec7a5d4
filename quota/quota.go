package quota

import (
	"context"
	"fmt"
	"time"

	"auto_blog_publisher/clock"
)

// Unlimited is reported by Remaining when an account has no ceiling.
const Unlimited = -1

// Kind selects which monthly events count against the ceiling.
type Kind int

const (
	// Generation counts drafts created in the window, rejected ones excluded.
	Generation Kind = iota
	// Publish counts drafts whose publishedAt falls in the window.
	Publish
)

func (k Kind) String() string {
	switch k {
	case Generation:
		return "generation"
	case Publish:
		return "publish"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Counter is the persistence query behind the tracker. Windows are
// half-open: from <= t < to.
type Counter interface {
	CountGenerated(ctx context.Context, accountID string, from, to time.Time) (int, error)
	CountPublished(ctx context.Context, accountID string, from, to time.Time) (int, error)
}

// Usage is an account's position against its monthly ceiling. A zero
// Limit means unlimited.
type Usage struct {
	Limit int
	Used  int
}

func (u Usage) Unlimited() bool {
	return u.Limit <= 0
}

// Remaining returns the operations left this month, or Unlimited.
func (u Usage) Remaining() int {
	if u.Unlimited() {
		return Unlimited
	}
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

func (u Usage) Exhausted() bool {
	return !u.Unlimited() && u.Used >= u.Limit
}

// Consume records one operation performed within the current batch so
// later items see it without querying again.
func (u *Usage) Consume() {
	u.Used++
}

// MonthWindow returns [first of month, first of next month) for t, in
// t's location.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// Tracker computes monthly usage. Results are never cached; every call
// queries the counter so concurrent passes see each other's work.
type Tracker struct {
	counter Counter
	clock   clock.Clock
}

func NewTracker(counter Counter, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{counter: counter, clock: clk}
}

// Usage counts the account's events of the given kind in the current
// month. An unlimited account is answered without a count query.
func (t *Tracker) Usage(ctx context.Context, accountID string, limit int, kind Kind) (Usage, error) {
	if limit <= 0 {
		return Usage{}, nil
	}
	from, to := MonthWindow(t.clock.Now())

	var (
		used int
		err  error
	)
	switch kind {
	case Publish:
		used, err = t.counter.CountPublished(ctx, accountID, from, to)
	default:
		used, err = t.counter.CountGenerated(ctx, accountID, from, to)
	}
	if err != nil {
		return Usage{}, fmt.Errorf("count %s usage for account %s: %w", kind, accountID, err)
	}
	return Usage{Limit: limit, Used: used}, nil
}

// Remaining is Usage(...).Remaining().
func (t *Tracker) Remaining(ctx context.Context, accountID string, limit int, kind Kind) (int, error) {
	u, err := t.Usage(ctx, accountID, limit, kind)
	if err != nil {
		return 0, err
	}
	return u.Remaining(), nil
}
