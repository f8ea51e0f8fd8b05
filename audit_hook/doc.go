// Package audithook is a Conveyor hook that bridges job lifecycle events
// to an immutable audit trail backend.
//
// Every lifecycle transition emits a structured audit event through the
// [Recorder] interface. The hook assigns appropriate severity levels
// (info for normal operations, warning for retries and cancellations,
// critical for terminal failures) and rich metadata (kind, attempt,
// elapsed time, errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Append(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobTimedOut,
//	    ),
//	)
package audithook
