package session

import (
	"fmt"
	"time"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResultKind discriminates the variants of PartialResult.
type ResultKind string

const (
	KindAnalysis      ResultKind = "analysis"
	KindDocumentation ResultKind = "documentation"
	KindReview        ResultKind = "review"
	KindSkip          ResultKind = "skip"
)

// ReviewKey is the reserved partial-results key holding the session-wide
// review output. It can never collide with a file path.
const ReviewKey = "__review__"

// PartialResult is one phase output for a work item. Exactly one payload
// field is set, selected by Kind.
type PartialResult struct {
	Kind          ResultKind              `json:"kind"`
	Analysis      *capability.Analysis    `json:"analysis,omitempty"`
	Documentation *capability.DocFragment `json:"documentation,omitempty"`
	Review        *capability.Suggestions `json:"review,omitempty"`
	SkipReason    string                  `json:"skip_reason,omitempty"`
}

// Session is the persisted state of one analysis run.
type Session struct {
	ID     string                `json:"id"`
	Status Status                `json:"status"`
	Config config.AnalysisConfig `json:"config"`

	// Processed maps completed item paths to the signature observed when
	// they were processed. Disjoint from Pending at all times.
	Processed map[string]capability.Signature `json:"processed"`

	// Pending holds item paths awaiting processing, in queue order.
	Pending []string `json:"pending"`

	// Skipped maps item paths that failed to the failure reason.
	Skipped map[string]string `json:"skipped,omitempty"`

	// PartialResults holds phase outputs keyed by item path, plus the
	// reserved ReviewKey entry for the review phase.
	PartialResults map[string][]PartialResult `json:"partial_results,omitempty"`

	// FailureReason is set when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}

// Total returns the number of known work items.
func (s *Session) Total() int {
	return len(s.Processed) + len(s.Pending) + len(s.Skipped)
}

// Progress returns the fraction of items no longer pending, in [0,1].
func (s *Session) Progress() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(len(s.Processed)+len(s.Skipped)) / float64(total)
}

// FailureRatio returns skipped items over total items, in [0,1].
func (s *Session) FailureRatio() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(len(s.Skipped)) / float64(total)
}

// Validate checks structural invariants of the session record.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	switch s.Status {
	case StatusCreated, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}
	for _, p := range s.Pending {
		if _, ok := s.Processed[p]; ok {
			return fmt.Errorf("item %q is both pending and processed", p)
		}
	}
	if s.Status == StatusFailed && s.FailureReason == "" {
		return fmt.Errorf("failed session has no failure reason")
	}
	return nil
}

// Delta is a batch of progress merged into a session by Checkpoint.
type Delta struct {
	Processed map[string]capability.Signature
	Skipped   map[string]string
	Results   map[string][]PartialResult
}

// Empty reports whether the delta carries no progress.
func (d Delta) Empty() bool {
	return len(d.Processed) == 0 && len(d.Skipped) == 0 && len(d.Results) == 0
}
