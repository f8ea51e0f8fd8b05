package job

import "time"

// Options configures per-job behavior. Zero values defer to the engine
// configuration.
type Options struct {
	// MaxAttempts is the ceiling on execution attempts for this job.
	// Zero means DefaultRetryAttempts+1 from the engine config.
	MaxAttempts int

	// Timeout is the per-attempt wall-clock limit for this job.
	// Zero means the engine's JobTimeout.
	Timeout time.Duration

	// CorrelationID groups related jobs (e.g. one pipeline run producing
	// multiple analysis jobs). Reporting only, never scheduling.
	CorrelationID string
}

// Option is a functional option for job submission and definitions.
type Option func(*Options)

// WithMaxAttempts sets the ceiling on execution attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the per-attempt wall-clock limit.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithCorrelationID tags the job with a grouping key.
func WithCorrelationID(cid string) Option {
	return func(o *Options) {
		o.CorrelationID = cid
	}
}
