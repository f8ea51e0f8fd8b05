package audithook

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobQueued      = "job.queued"
	ActionJobDispatched  = "job.dispatched"
	ActionJobSucceeded   = "job.succeeded"
	ActionJobFailed      = "job.failed"
	ActionJobTimedOut    = "job.timed_out"
	ActionJobRetrying    = "job.retrying"
	ActionJobCancelled   = "job.cancelled"
	ActionEngineShutdown = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "conveyor.job"
	CategoryEngine = "conveyor.engine"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceEngine = "engine"
)

// AllActions returns every action this hook can emit.
func AllActions() []string {
	return []string{
		ActionJobQueued,
		ActionJobDispatched,
		ActionJobSucceeded,
		ActionJobFailed,
		ActionJobTimedOut,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionEngineShutdown,
	}
}
