package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook          = (*Hook)(nil)
	_ hook.JobQueued     = (*Hook)(nil)
	_ hook.JobDispatched = (*Hook)(nil)
	_ hook.JobSucceeded  = (*Hook)(nil)
	_ hook.JobFailed     = (*Hook)(nil)
	_ hook.JobTimedOut   = (*Hook)(nil)
	_ hook.JobRetrying   = (*Hook)(nil)
	_ hook.JobCancelled  = (*Hook)(nil)
	_ hook.Shutdown      = (*Hook)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so that the audithook package does not import any
// particular audit system — callers inject the concrete backend at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the structured record handed to the Recorder.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook bridges Conveyor lifecycle events to an audit trail backend.
// Each lifecycle transition emits a structured audit event through the
// [Recorder].
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobQueued implements hook.JobQueued.
func (h *Hook) OnJobQueued(ctx context.Context, r *job.Record) error {
	return h.record(ctx, ActionJobQueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"kind", r.Kind,
		"attempt", r.Attempt,
	)
}

// OnJobDispatched implements hook.JobDispatched.
func (h *Hook) OnJobDispatched(ctx context.Context, r *job.Record) error {
	return h.record(ctx, ActionJobDispatched, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"kind", r.Kind,
		"attempt", r.Attempt,
	)
}

// OnJobSucceeded implements hook.JobSucceeded.
func (h *Hook) OnJobSucceeded(ctx context.Context, r *job.Record, elapsed time.Duration) error {
	return h.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"kind", r.Kind,
		"attempt", r.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements hook.JobFailed.
func (h *Hook) OnJobFailed(ctx context.Context, r *job.Record, jobErr error) error {
	return h.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, jobErr,
		"kind", r.Kind,
		"attempt", r.Attempt,
		"max_attempts", r.MaxAttempts,
	)
}

// OnJobTimedOut implements hook.JobTimedOut.
func (h *Hook) OnJobTimedOut(ctx context.Context, r *job.Record) error {
	return h.record(ctx, ActionJobTimedOut, SeverityCritical, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"kind", r.Kind,
		"attempt", r.Attempt,
		"timeout_ms", r.Timeout.Milliseconds(),
	)
}

// OnJobRetrying implements hook.JobRetrying.
func (h *Hook) OnJobRetrying(ctx context.Context, r *job.Record, attempt int, eligibleAt time.Time) error {
	return h.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"kind", r.Kind,
		"attempt", attempt,
		"eligible_at", eligibleAt.Format(time.RFC3339),
	)
}

// OnJobCancelled implements hook.JobCancelled.
func (h *Hook) OnJobCancelled(ctx context.Context, r *job.Record) error {
	return h.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeFailure,
		ResourceJob, r.ID.String(), CategoryJob, nil,
		"kind", r.Kind,
		"attempt", r.Attempt,
	)
}

// OnShutdown implements hook.Shutdown.
func (h *Hook) OnShutdown(ctx context.Context) error {
	return h.record(ctx, ActionEngineShutdown, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategoryEngine, nil)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (h *Hook) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := h.recorder.Record(ctx, evt); recErr != nil {
		h.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
