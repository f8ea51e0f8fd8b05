// Package alert defines the real-time alerting surface of the engine:
// the JobEvent model, the Notifier capability, and the Emitter that
// converts lifecycle hooks into best-effort notifications.
//
// The Notifier is a capability, not a compile-time dependency. The core
// engine knows nothing about transports; wire any implementation in
// after construction via SetNotifier. Delivery is fire-and-forget — a
// Notifier failure is logged and swallowed, and never affects job status
// or retry behavior.
package alert

import (
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// EventType names a job transition of interest.
type EventType string

const (
	EventJobQueued     EventType = "job.queued"
	EventJobDispatched EventType = "job.dispatched"
	EventJobSucceeded  EventType = "job.succeeded"
	EventJobFailed     EventType = "job.failed"
	EventJobTimedOut   EventType = "job.timed_out"
	EventJobRetrying   EventType = "job.retrying"
	EventJobCancelled  EventType = "job.cancelled"
)

// Event describes one job transition. Events for the same job preserve
// their engine-observed order; no cross-job ordering is guaranteed.
type Event struct {
	ID            id.EventID `json:"id"`
	Type          EventType  `json:"type"`
	JobID         id.JobID   `json:"job_id"`
	Kind          string     `json:"kind"`
	Status        job.Status `json:"status"`
	Attempt       int        `json:"attempt"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	ElapsedMs     int64      `json:"elapsed_ms,omitempty"`
	EligibleAt    string     `json:"eligible_at,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Notifier is the sink alert events are pushed to. Send is best-effort
// and may fail silently; implementations must not block indefinitely.
type Notifier interface {
	Send(event *Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(event *Event) error

// Send calls the function.
func (f NotifierFunc) Send(event *Event) error { return f(event) }
