package job

import (
	"time"

	"github.com/xraph/conveyor/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusQueued means the job is waiting for a free execution slot.
	StatusQueued Status = "queued"
	// StatusRunning means a worker slot is currently executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded means the handler returned successfully. Terminal.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the handler failed and the attempt budget is
	// exhausted. Terminal.
	StatusFailed Status = "failed"
	// StatusTimedOut means the last attempt exceeded the job timeout and
	// the attempt budget is exhausted. Terminal.
	StatusTimedOut Status = "timed_out"
	// StatusCancelled means the job was cancelled by shutdown before or
	// during execution. Terminal, never retried.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is the canonical state of one unit of asynchronous work.
//
// A Record is created by the admission gate in queued status, mutated
// only by the supervisor that owns its running slot, and becomes
// immutable once FinishedAt is set. History pruning deletes records, it
// never mutates them.
type Record struct {
	ID            id.JobID `json:"id"`
	Kind          string   `json:"kind"`
	Payload       []byte   `json:"payload,omitempty"`
	Status        Status   `json:"status"`
	Attempt       int      `json:"attempt"`
	MaxAttempts   int      `json:"max_attempts"`
	LastError     string   `json:"last_error,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	// Timeout is the per-attempt wall-clock limit for this job,
	// resolved from options or engine config at admission.
	Timeout    time.Duration `json:"timeout,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the record. Timestamps are copied by
// value so callers can mutate the clone without racing the original.
func (r *Record) Clone() *Record {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.Payload != nil {
		cp.Payload = append([]byte(nil), r.Payload...)
	}
	return &cp
}

// Duration returns the wall-clock time from first dispatch to terminal
// state, or zero if the job has not finished.
func (r *Record) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}
