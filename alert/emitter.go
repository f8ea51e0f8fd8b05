package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Emitter)(nil)
	_ hook.JobQueued    = (*Emitter)(nil)
	_ hook.JobDispatched = (*Emitter)(nil)
	_ hook.JobSucceeded = (*Emitter)(nil)
	_ hook.JobFailed    = (*Emitter)(nil)
	_ hook.JobTimedOut  = (*Emitter)(nil)
	_ hook.JobRetrying  = (*Emitter)(nil)
	_ hook.JobCancelled = (*Emitter)(nil)
)

// Emitter converts lifecycle hooks into alert events and pushes them to
// the wired Notifier. Without a Notifier every emit is a no-op, so the
// Emitter can be registered unconditionally and wired later.
type Emitter struct {
	mu       sync.RWMutex
	notifier Notifier
	logger   *slog.Logger
}

// NewEmitter creates an Emitter with no Notifier wired.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// SetNotifier wires the event sink. Intended to be called once at
// startup, before the engine begins dispatching.
func (e *Emitter) SetNotifier(n Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

// Name implements hook.Hook.
func (e *Emitter) Name() string { return "alert-emitter" }

// send delivers the event to the Notifier, swallowing errors and panics.
// A dead subscriber must never fail a job.
func (e *Emitter) send(evt *Event) {
	e.mu.RLock()
	n := e.notifier
	e.mu.RUnlock()
	if n == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("notifier panicked",
				slog.String("event_type", string(evt.Type)),
				slog.String("job_id", evt.JobID.String()),
				slog.Any("panic", r),
			)
		}
	}()

	if err := n.Send(evt); err != nil {
		e.logger.Warn("notifier delivery failed",
			slog.String("event_type", string(evt.Type)),
			slog.String("job_id", evt.JobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Emitter) event(typ EventType, r *job.Record) *Event {
	return &Event{
		ID:            id.NewEventID(),
		Type:          typ,
		JobID:         r.ID,
		Kind:          r.Kind,
		Status:        r.Status,
		Attempt:       r.Attempt,
		CorrelationID: r.CorrelationID,
		Timestamp:     time.Now().UTC(),
	}
}

// OnJobQueued implements hook.JobQueued.
func (e *Emitter) OnJobQueued(_ context.Context, r *job.Record) error {
	e.send(e.event(EventJobQueued, r))
	return nil
}

// OnJobDispatched implements hook.JobDispatched.
func (e *Emitter) OnJobDispatched(_ context.Context, r *job.Record) error {
	e.send(e.event(EventJobDispatched, r))
	return nil
}

// OnJobSucceeded implements hook.JobSucceeded.
func (e *Emitter) OnJobSucceeded(_ context.Context, r *job.Record, elapsed time.Duration) error {
	evt := e.event(EventJobSucceeded, r)
	evt.ElapsedMs = elapsed.Milliseconds()
	e.send(evt)
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (e *Emitter) OnJobFailed(_ context.Context, r *job.Record, jobErr error) error {
	evt := e.event(EventJobFailed, r)
	if jobErr != nil {
		evt.Error = jobErr.Error()
	}
	e.send(evt)
	return nil
}

// OnJobTimedOut implements hook.JobTimedOut.
func (e *Emitter) OnJobTimedOut(_ context.Context, r *job.Record) error {
	evt := e.event(EventJobTimedOut, r)
	evt.Error = r.LastError
	e.send(evt)
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (e *Emitter) OnJobRetrying(_ context.Context, r *job.Record, attempt int, eligibleAt time.Time) error {
	evt := e.event(EventJobRetrying, r)
	evt.Attempt = attempt
	evt.Error = r.LastError
	evt.EligibleAt = eligibleAt.Format(time.RFC3339)
	e.send(evt)
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (e *Emitter) OnJobCancelled(_ context.Context, r *job.Record) error {
	e.send(e.event(EventJobCancelled, r))
	return nil
}
