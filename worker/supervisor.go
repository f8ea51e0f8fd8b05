// Package worker provides the execution engine: a Supervisor that runs
// single attempts under a timeout and drives the retry policy, and a
// Pool that owns the fixed set of execution slots fed by the FIFO queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/history"
	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/queue"
)

// Supervisor runs one attempt of a job through middleware and the
// registered handler, enforces the per-attempt timeout, classifies the
// outcome, and drives the retry policy. Terminal records are handed to
// history and announced through hooks.
type Supervisor struct {
	registry *job.Registry
	table    *Table
	pending  *queue.FIFO
	hooks    *hook.Registry
	archive  history.Store
	bo       backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger

	// retries tracks backoff timers for jobs waiting to re-enter the
	// queue. Guarded by retryMu; the timer callback and shutdown
	// cancellation race for each entry, and whoever finds it wins.
	// Once draining is set no new timers are armed and expired timers
	// cancel their job instead of re-inserting it.
	retryMu  sync.Mutex
	retries  map[string]*time.Timer
	draining bool
}

// NewSupervisor creates a Supervisor with the given dependencies.
func NewSupervisor(
	registry *job.Registry,
	table *Table,
	pending *queue.FIFO,
	hooks *hook.Registry,
	archive history.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Supervisor {
	return &Supervisor{
		registry: registry,
		table:    table,
		pending:  pending,
		hooks:    hooks,
		archive:  archive,
		bo:       bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
		retries:  make(map[string]*time.Timer),
	}
}

// Execute runs one attempt of the record, which must already hold
// running status. ctx is the slot context: it is cancelled only when
// shutdown force-cancels in-flight work.
//
// The handler runs in its own goroutine so the timeout observes
// wall-clock time even when the handler is CPU-bound. An attempt still
// running when the timer fires is abandoned: its eventual result is
// discarded because the status transition has already been applied by
// the timeout path.
func (s *Supervisor) Execute(ctx context.Context, rec *job.Record) {
	handler, ok := s.registry.Handler(rec.Kind)
	if !ok {
		// Admission verifies kinds, so a miss here means the registry
		// changed underneath us. Fail terminally, no retry.
		s.terminal(ctx, rec.ID, job.StatusFailed, fmt.Errorf("%w: %s", conveyor.ErrUnknownKind, rec.Kind))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, rec.Timeout)
	defer cancel()

	snapshot := rec.Clone()
	terminalFn := func(c context.Context) error {
		return handler(c, snapshot.Payload)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- s.mw(runCtx, snapshot, terminalFn)
	}()

	var attemptErr error
	select {
	case attemptErr = <-done:
	case <-runCtx.Done():
		attemptErr = runCtx.Err()
	}
	elapsed := time.Since(start)

	s.classify(ctx, runCtx, rec, attemptErr, elapsed)
}

// classify applies the outcome of one attempt.
func (s *Supervisor) classify(ctx, runCtx context.Context, rec *job.Record, attemptErr error, elapsed time.Duration) {
	switch {
	case attemptErr == nil:
		s.succeed(ctx, rec.ID, elapsed)

	case ctx.Err() != nil:
		// Slot context cancelled: shutdown force-cancel. Never retried.
		s.cancelRunning(ctx, rec.ID)

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.failAttempt(ctx, rec, job.StatusTimedOut, conveyor.ErrTimedOut)

	default:
		s.failAttempt(ctx, rec, job.StatusFailed, attemptErr)
	}
}

// succeed transitions running → succeeded.
func (s *Supervisor) succeed(ctx context.Context, jobID id.JobID, elapsed time.Duration) {
	updated, ok := s.table.Transition(jobID, job.StatusRunning, job.StatusSucceeded, finishClean)
	if !ok {
		return // lost the transition race, effect discarded
	}

	s.finalize(ctx, updated)
	s.hooks.EmitJobSucceeded(ctx, updated, elapsed)

	s.logger.Info("job succeeded",
		slog.String("job_id", updated.ID.String()),
		slog.String("kind", updated.Kind),
		slog.Int("attempt", updated.Attempt),
		slog.Duration("elapsed", elapsed),
	)
}

// failAttempt handles a failed or timed-out attempt: re-enqueue with
// backoff while the attempt budget lasts, terminal otherwise.
func (s *Supervisor) failAttempt(ctx context.Context, rec *job.Record, status job.Status, attemptErr error) {
	if rec.Attempt < rec.MaxAttempts {
		s.scheduleRetry(ctx, rec, attemptErr)
		return
	}
	s.terminal(ctx, rec.ID, status, attemptErr)
}

// scheduleRetry transitions running → queued and arms a backoff timer
// that re-inserts the job at the queue tail once the delay expires.
// Tail re-insertion after the delay means a retried job never jumps
// ahead of work submitted while it was waiting.
func (s *Supervisor) scheduleRetry(ctx context.Context, rec *job.Record, attemptErr error) {
	updated, ok := s.table.Transition(rec.ID, job.StatusRunning, job.StatusQueued, func(r *job.Record) {
		r.LastError = attemptErr.Error()
	})
	if !ok {
		return
	}

	delay := s.bo.Delay(updated.Attempt)
	eligibleAt := time.Now().UTC().Add(delay)
	s.hooks.EmitJobRetrying(ctx, updated, updated.Attempt, eligibleAt)

	s.logger.Info("job scheduled for retry",
		slog.String("job_id", updated.ID.String()),
		slog.String("kind", updated.Kind),
		slog.Int("attempt", updated.Attempt),
		slog.Int("max_attempts", updated.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", updated.LastError),
	)

	key := updated.ID.String()
	s.retryMu.Lock()
	if s.draining {
		// Shutdown already swept the retry timers; this job re-queued
		// after the sweep, so cancel it here instead of arming a timer
		// nobody will ever cancel.
		s.retryMu.Unlock()
		s.Cancel(ctx, updated.ID)
		return
	}
	s.retries[key] = time.AfterFunc(delay, func() {
		s.retryMu.Lock()
		defer s.retryMu.Unlock()
		if _, live := s.retries[key]; !live {
			return // cancelled by shutdown while waiting
		}
		delete(s.retries, key)

		// Queued event first, then the push: a worker may pick the job
		// up the instant it lands in the queue. Both happen under
		// retryMu so CancelPendingRetries observes every re-insertion
		// that beat it.
		s.hooks.EmitJobQueued(context.Background(), updated)
		s.pending.Push(updated)
	})
	s.retryMu.Unlock()
}

// terminal transitions running → status with no further retries.
func (s *Supervisor) terminal(ctx context.Context, jobID id.JobID, status job.Status, attemptErr error) {
	updated, ok := s.table.Transition(jobID, job.StatusRunning, status, func(r *job.Record) {
		r.LastError = attemptErr.Error()
		finish(r)
	})
	if !ok {
		return
	}

	s.finalize(ctx, updated)
	if status == job.StatusTimedOut {
		s.hooks.EmitJobTimedOut(ctx, updated)
	} else {
		s.hooks.EmitJobFailed(ctx, updated, attemptErr)
	}

	s.logger.Warn("job failed terminally",
		slog.String("job_id", updated.ID.String()),
		slog.String("kind", updated.Kind),
		slog.String("status", string(status)),
		slog.Int("attempt", updated.Attempt),
		slog.String("error", updated.LastError),
	)
}

// cancelRunning transitions running → cancelled during shutdown
// force-cancel. The attempt's eventual result is discarded.
func (s *Supervisor) cancelRunning(ctx context.Context, jobID id.JobID) {
	updated, ok := s.table.Transition(jobID, job.StatusRunning, job.StatusCancelled, finishClean)
	if !ok {
		return
	}

	s.finalize(ctx, updated)
	s.hooks.EmitJobCancelled(ctx, updated)

	s.logger.Warn("running job force-cancelled",
		slog.String("job_id", updated.ID.String()),
		slog.String("kind", updated.Kind),
	)
}

// Cancel marks a still-queued record cancelled without it ever running.
// Used by shutdown for drained queue entries.
func (s *Supervisor) Cancel(ctx context.Context, jobID id.JobID) bool {
	updated, ok := s.table.Transition(jobID, job.StatusQueued, job.StatusCancelled, finishClean)
	if !ok {
		return false
	}

	s.finalize(ctx, updated)
	s.hooks.EmitJobCancelled(ctx, updated)
	return true
}

// CancelPendingRetries stops all armed backoff timers and cancels their
// jobs, and marks the supervisor draining so no further retries are
// scheduled. Called during shutdown. Timer callbacks push under
// retryMu, so once this returns every re-insertion that beat the sweep
// is already in the queue; a timer that fires later finds its entry
// gone and does nothing.
func (s *Supervisor) CancelPendingRetries(ctx context.Context) int {
	s.retryMu.Lock()
	s.draining = true
	keys := make([]string, 0, len(s.retries))
	for key, timer := range s.retries {
		timer.Stop()
		keys = append(keys, key)
	}
	s.retries = make(map[string]*time.Timer)
	s.retryMu.Unlock()

	cancelled := 0
	for _, key := range keys {
		jobID, err := id.ParseJobID(key)
		if err != nil {
			continue
		}
		if s.Cancel(ctx, jobID) {
			cancelled++
		}
	}
	return cancelled
}

// finalize hands a terminal record to history and drops it from the
// live table. The write uses a non-cancellable context because it must
// survive shutdown force-cancel; on store failure the record stays in
// the live table so status queries keep working.
func (s *Supervisor) finalize(ctx context.Context, rec *job.Record) {
	if err := s.archive.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("failed to record job history",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.table.Remove(rec.ID)
}

// finish stamps FinishedAt. Used as the transition mutator for every
// terminal status.
func finish(r *job.Record) {
	now := time.Now().UTC()
	r.FinishedAt = &now
}

// finishClean stamps FinishedAt and clears any error left by an earlier
// attempt: LastError survives only on failed and timed_out records.
func finishClean(r *job.Record) {
	r.LastError = ""
	finish(r)
}
