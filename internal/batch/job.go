// Package batch schedules many file-processing jobs concurrently with
// bounded worker slots, priorities, retries, per-job timeouts and
// cooperative cancellation. The processor is agnostic to what a job does:
// callers supply the processing function (parse then match, in the
// reference usage).
package batch

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced on failed or cancelled jobs.
var (
	ErrTimeout     = errors.New("job timed out")
	ErrCancelled   = errors.New("job cancelled")
	ErrQueueClosed = errors.New("processor closed")
)

// Status is a job's position in its lifecycle.
type Status string

// Job statuses. Complete, failed and cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusParsing   Status = "parsing"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority orders jobs in the admission queue.
type Priority string

// Job priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// defaultPriorityOrder dequeues urgent first.
var defaultPriorityOrder = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Result is what a processing function produces for one job.
type Result struct {
	Variants int           `json:"variants"`
	Findings int           `json:"findings"`
	Duration time.Duration `json:"duration"`
	Detail   any           `json:"-"`
}

// Job is one unit of work inside a batch. Jobs are mutated only by the
// scheduler and by progress callbacks; callers observe copies.
type Job struct {
	ID          string    `json:"id"`
	BatchID     string    `json:"batchId"`
	FileRef     string    `json:"fileRef"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Progress    int       `json:"progress"`
	RetryCount  int       `json:"retryCount"`
	MaxRetries  int       `json:"maxRetries"`
	Result      *Result   `json:"result,omitempty"`
	Err         error     `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`

	seq int // insertion order, for stable dequeue within a priority
}

// JobProcessor is the caller-supplied processing function. It receives a
// copy of the job, must observe ctx for timeout and cancellation, and may
// report progress in [0,100] through the callback.
type JobProcessor func(ctx context.Context, job Job, progress func(int)) (*Result, error)
