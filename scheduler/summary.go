package scheduler

import (
	"fmt"
	"time"
)

// Reason explains why a topic was skipped or failed.
type Reason string

const (
	ReasonAccountUnavailable   Reason = "account_unavailable"
	ReasonNoAPIKey             Reason = "no_api_key"
	ReasonQuotaUnavailable     Reason = "quota_unavailable"
	ReasonQuotaExhausted       Reason = "quota_exhausted"
	ReasonGeneratorUnavailable Reason = "generator_unavailable"
	ReasonClaimFailed          Reason = "claim_failed"
	// ReasonCommitFailed marks a topic whose result could not be stored.
	// A draft may exist; the next pass that recovers the topic adopts it.
	ReasonCommitFailed         Reason = "commit_failed"
)

// Outcome is the result for one topic in a pass.
type Outcome struct {
	TopicID   string `json:"topicId"`
	AccountID string `json:"accountId"`
	Title     string `json:"title"`
	DraftID   string `json:"draftId,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary reports a pass. Skipped topics keep their state and are picked
// up again by a later pass; failed ones wait for an operator retry.
type Summary struct {
	RunID      string    `json:"runId"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Generated  []Outcome `json:"generated"`
	Failed     []Outcome `json:"failed"`
	Skipped    []Outcome `json:"skipped"`
}

func newSummary(runID, kind string, start time.Time) Summary {
	return Summary{
		RunID:     runID,
		Kind:      kind,
		StartedAt: start,
		Generated: []Outcome{},
		Failed:    []Outcome{},
		Skipped:   []Outcome{},
	}
}

// Total is the number of topics the pass reported on.
func (s Summary) Total() int {
	return len(s.Generated) + len(s.Failed) + len(s.Skipped)
}

func (s Summary) Empty() bool {
	return s.Total() == 0
}

func (s Summary) Message() string {
	if s.Empty() {
		return "No scheduled topics due"
	}
	return fmt.Sprintf("Processed %d topic(s): %d generated, %d failed, %d skipped",
		s.Total(), len(s.Generated), len(s.Failed), len(s.Skipped))
}
