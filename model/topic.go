package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist or does
// not match the expected state.
var ErrNotFound = errors.New("not found")

type SchedulingState string

const (
	SchedulingNone      SchedulingState = "NONE"
	SchedulingScheduled SchedulingState = "SCHEDULED"
	// SchedulingRunning marks a topic claimed by an in-flight pass.
	SchedulingRunning SchedulingState = "RUNNING"
	SchedulingDone    SchedulingState = "DONE"
	SchedulingFailed  SchedulingState = "FAILED"
)

type GenerationState string

const (
	GenerationPending   GenerationState = "PENDING"
	GenerationGenerated GenerationState = "GENERATED"
)

// Topic is a queued unit of generation work owned by one account.
type Topic struct {
	ID              string          `json:"id" bson:"_id"`
	AccountID       string          `json:"accountId" bson:"accountId"`
	Title           string          `json:"title" bson:"title"`
	Category        string          `json:"category" bson:"category"`
	Keywords        []string        `json:"keywords" bson:"keywords"`
	Audience        string          `json:"audience" bson:"audience"`
	PostedBy        string          `json:"postedBy,omitempty" bson:"postedBy,omitempty"`
	DueAt           *time.Time      `json:"dueAt,omitempty" bson:"dueAt,omitempty"`
	SchedulingState SchedulingState `json:"schedulingState" bson:"schedulingState"`
	GenerationState GenerationState `json:"generationState" bson:"generationState"`
	// ClaimedAt and ClaimedFrom are set while the topic is RUNNING.
	ClaimedAt   *time.Time      `json:"claimedAt,omitempty" bson:"claimedAt,omitempty"`
	ClaimedFrom SchedulingState `json:"claimedFrom,omitempty" bson:"claimedFrom,omitempty"`
	Attempts    int             `json:"attempts" bson:"attempts"`
	LastError   string          `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// Claim describes a conditional transition into SchedulingRunning. The
// write succeeds only if the topic is still in State with the same
// ClaimedAt stamp it had when it was selected.
type Claim struct {
	TopicID   string
	State     SchedulingState
	ClaimedAt *time.Time
	// From is the state the topic returns to or leaves from; for a
	// recovered RUNNING topic it is the original pre-claim state.
	From SchedulingState
	At   time.Time
}

// ClaimFor builds the claim for a topic as it was read.
func ClaimFor(t Topic, at time.Time) Claim {
	from := t.SchedulingState
	if from == SchedulingRunning && t.ClaimedFrom != "" {
		from = t.ClaimedFrom
	}
	return Claim{TopicID: t.ID, State: t.SchedulingState, ClaimedAt: t.ClaimedAt, From: from, At: at}
}

// Finish describes the conditional transition out of SchedulingRunning.
type Finish struct {
	TopicID string
	// ClaimedAt is the stamp written by the claim being finished.
	ClaimedAt time.Time
	To        SchedulingState
	// Generated flips the generation state to GENERATED.
	Generated bool
	Attempts  int
	LastError string
	At        time.Time
}
