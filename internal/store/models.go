package store

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusClosed     TaskStatus = "closed"
	StatusSomeday    TaskStatus = "someday"
)

// TaskType distinguishes what kind of work a task is.
type TaskType string

const (
	TypeTask    TaskType = "task"
	TypeBug     TaskType = "bug"
	TypeFeature TaskType = "feature"
	TypeChore   TaskType = "chore"
)

// Complexity selects which agent + model handles a task.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Size is a rough effort estimate.
type Size string

const (
	SizeXS Size = "xs"
	SizeS  Size = "s"
	SizeM  Size = "m"
	SizeL  Size = "l"
	SizeXL Size = "xl"
)

// Task is a unit of work on the board. IDs look like f-3fa2c1.
// The consumed_* fields record the last agent process that ran against
// the task and ended non-cleanly; reopen and retry clear them.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Type             TaskType   `json:"type"`
	Priority         int        `json:"priority"` // 0 (highest) .. 4
	Complexity       Complexity `json:"complexity"`
	Size             Size       `json:"size,omitempty"`
	Labels           []string   `json:"labels,omitempty"`
	Status           TaskStatus `json:"status"`
	BlockedBy        []string   `json:"blocked_by,omitempty"`
	EpicID           string     `json:"epic_id,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	CommitHash       string     `json:"commit_hash,omitempty"`
	Consumed         bool       `json:"consumed"`
	ConsumedAt       *time.Time `json:"consumed_at,omitempty"`
	ConsumedExitCode *int       `json:"consumed_exit_code,omitempty"`
	ConsumedOutput   string     `json:"consumed_output,omitempty"`
	ConsumePID       *int       `json:"consume_pid,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// EpicStatus is the lifecycle state of an epic. The first three are
// derived from linked tasks; the rest are explicit operator transitions.
type EpicStatus string

const (
	EpicPlanning      EpicStatus = "planning"
	EpicInProgress    EpicStatus = "in_progress"
	EpicReviewPending EpicStatus = "review_pending"
	EpicReviewed      EpicStatus = "reviewed"
	EpicApproved      EpicStatus = "approved"
	EpicRejected      EpicStatus = "rejected"
)

// Epic groups tasks under a larger goal. IDs look like e-3fa2c1.
type Epic struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      EpicStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Run records one spawn of an agent against a task. IDs look like run-3fa2c1.
type Run struct {
	ID        string     `json:"run_id"`
	TaskID    string     `json:"task_id"`
	Agent     string     `json:"agent"`
	Model     string     `json:"model,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Output    string     `json:"output,omitempty"`
	CostUSD   *float64   `json:"cost_usd,omitempty"`
}

// Duration returns how long the run took, or time since start if live.
func (r *Run) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// ReviewStatus is the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewPending ReviewStatus = "pending"
	ReviewPassed  ReviewStatus = "passed"
	ReviewFailed  ReviewStatus = "failed"
)

// Review records one spawn of a reviewer against a task. IDs look like r-3fa2c1.
type Review struct {
	ID          string       `json:"review_id"`
	TaskID      string       `json:"task_id"`
	Agent       string       `json:"agent"`
	Status      ReviewStatus `json:"status"`
	Issues      []string     `json:"issues,omitempty"`
	FollowupIDs []string     `json:"followup_task_ids,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// ValidTaskType reports whether s is a recognized task type.
func ValidTaskType(s string) bool {
	switch TaskType(s) {
	case TypeTask, TypeBug, TypeFeature, TypeChore:
		return true
	}
	return false
}

// ValidComplexity reports whether s is a recognized complexity level.
func ValidComplexity(s string) bool {
	switch Complexity(s) {
	case ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// ValidSize reports whether s is a recognized size.
func ValidSize(s string) bool {
	switch Size(s) {
	case SizeXS, SizeS, SizeM, SizeL, SizeXL:
		return true
	}
	return false
}

// ValidStatus reports whether s is a recognized task status.
func ValidStatus(s string) bool {
	switch TaskStatus(s) {
	case StatusOpen, StatusInProgress, StatusReview, StatusClosed, StatusSomeday:
		return true
	}
	return false
}
