package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type jobQueuedEntry struct {
	name string
	hook JobQueued
}

type jobDispatchedEntry struct {
	name string
	hook JobDispatched
}

type jobSucceededEntry struct {
	name string
	hook JobSucceeded
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobTimedOutEntry struct {
	name string
	hook JobTimedOut
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant interface.
//
// Hook errors are logged and swallowed: a hook failure never affects job
// status or retry behavior.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	jobQueued     []jobQueuedEntry
	jobDispatched []jobDispatchedEntry
	jobSucceeded  []jobSucceededEntry
	jobFailed     []jobFailedEntry
	jobTimedOut   []jobTimedOutEntry
	jobRetrying   []jobRetryingEntry
	jobCancelled  []jobCancelledEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable caches.
// Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobQueued); ok {
		r.jobQueued = append(r.jobQueued, jobQueuedEntry{name, hk})
	}
	if hk, ok := h.(JobDispatched); ok {
		r.jobDispatched = append(r.jobDispatched, jobDispatchedEntry{name, hk})
	}
	if hk, ok := h.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, jobSucceededEntry{name, hk})
	}
	if hk, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, hk})
	}
	if hk, ok := h.(JobTimedOut); ok {
		r.jobTimedOut = append(r.jobTimedOut, jobTimedOutEntry{name, hk})
	}
	if hk, ok := h.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, hk})
	}
	if hk, ok := h.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobQueued notifies all hooks that implement JobQueued.
func (r *Registry) EmitJobQueued(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobQueued {
		if err := e.hook.OnJobQueued(ctx, rec); err != nil {
			r.logHookError("OnJobQueued", e.name, err)
		}
	}
}

// EmitJobDispatched notifies all hooks that implement JobDispatched.
func (r *Registry) EmitJobDispatched(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobDispatched {
		if err := e.hook.OnJobDispatched(ctx, rec); err != nil {
			r.logHookError("OnJobDispatched", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all hooks that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, rec *job.Record, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, rec, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, rec *job.Record, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, rec, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobTimedOut notifies all hooks that implement JobTimedOut.
func (r *Registry) EmitJobTimedOut(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobTimedOut {
		if err := e.hook.OnJobTimedOut(ctx, rec); err != nil {
			r.logHookError("OnJobTimedOut", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all hooks that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, rec *job.Record, attempt int, eligibleAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, rec, attempt, eligibleAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all hooks that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, rec *job.Record) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, rec); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

func (r *Registry) logHookError(event, name string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", name),
		slog.String("error", err.Error()),
	)
}
