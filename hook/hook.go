// Package hook defines the lifecycle hook system for Conveyor.
// Hooks are notified of job transitions (queued, dispatched, succeeded,
// failed, timed out, retrying, cancelled) and of engine shutdown, and
// can react to them — alerting, metrics, streaming, audit.
//
// Each lifecycle hook is a separate interface so implementations opt in
// only to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/xraph/conveyor/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobQueued is called after a job passes admission and enters the queue,
// including re-entry after a retry backoff expires.
type JobQueued interface {
	OnJobQueued(ctx context.Context, r *job.Record) error
}

// JobDispatched is called when a worker slot begins an execution attempt.
type JobDispatched interface {
	OnJobDispatched(ctx context.Context, r *job.Record) error
}

// JobSucceeded is called after a job finishes successfully.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, r *job.Record, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (attempt budget spent).
type JobFailed interface {
	OnJobFailed(ctx context.Context, r *job.Record, err error) error
}

// JobTimedOut is called when a job's final attempt exceeded its timeout.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, r *job.Record) error
}

// JobRetrying is called when an attempt failed or timed out but attempts
// remain; the job re-enters the queue when eligibleAt passes.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, r *job.Record, attempt int, eligibleAt time.Time) error
}

// JobCancelled is called when shutdown cancels a queued or running job.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, r *job.Record) error
}

// Shutdown is called once during graceful shutdown, after the pool has
// drained.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
