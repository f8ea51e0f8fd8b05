package conveyor

import (
	"fmt"
	"time"
)

// Config holds configuration for the engine.
type Config struct {
	// MaxConcurrent is the number of execution slots in the worker pool.
	// At no instant do more jobs than this hold running status.
	MaxConcurrent int

	// DefaultRetryAttempts is how many times a failed or timed-out job is
	// re-dispatched before its state becomes terminal, unless overridden
	// per job. Zero means a single attempt with no retries.
	DefaultRetryAttempts int

	// JobTimeout is the per-attempt wall-clock limit. An attempt still
	// running when the timer fires is abandoned and classified timed_out.
	JobTimeout time.Duration

	// EnableRealTimeAlerts toggles pushing lifecycle events to the
	// configured Notifier.
	EnableRealTimeAlerts bool

	// HistoricalRetention is how long terminal job records are kept
	// before the pruning sweep deletes them.
	HistoricalRetention time.Duration

	// PruneInterval is how often the retention sweep runs.
	PruneInterval time.Duration

	// EnableMetrics toggles aggregate metrics collection.
	EnableMetrics bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:        5,
		DefaultRetryAttempts: 2,
		JobTimeout:           5 * time.Minute,
		EnableRealTimeAlerts: true,
		HistoricalRetention:  30 * 24 * time.Hour,
		PruneInterval:        time.Hour,
		EnableMetrics:        true,
	}
}

// Validate reports the first configuration value outside its allowed range.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: MaxConcurrent %d, want >= 1", ErrInvalidConfig, c.MaxConcurrent)
	}
	if c.DefaultRetryAttempts < 0 {
		return fmt.Errorf("%w: DefaultRetryAttempts %d, want >= 0", ErrInvalidConfig, c.DefaultRetryAttempts)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: JobTimeout %s, want > 0", ErrInvalidConfig, c.JobTimeout)
	}
	if c.HistoricalRetention < 0 {
		return fmt.Errorf("%w: HistoricalRetention %s, want >= 0", ErrInvalidConfig, c.HistoricalRetention)
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("%w: PruneInterval %s, want > 0", ErrInvalidConfig, c.PruneInterval)
	}
	return nil
}
