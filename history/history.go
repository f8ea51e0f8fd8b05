// Package history defines the persistence contract for terminal job
// records. Every job that reaches a terminal status is appended here
// with its full final state; a periodic sweep prunes entries older than
// the configured retention window. Pruning is pure deletion — records
// are never mutated after the fact.
//
// Backends live under store/: memory (tests, development), sqlite
// (embedded durable), and redis.
package history

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ListOpts controls filtering and pagination for history queries.
type ListOpts struct {
	// Kind filters by job kind. Empty means all kinds.
	Kind string
	// Status filters by terminal status. Empty means all statuses.
	Status job.Status
	// CorrelationID filters by grouping key. Empty means all.
	CorrelationID string
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// Store is the append-mostly archive of terminal job records.
// Implementations must be safe for concurrent use; writes happen at job
// completion, concurrent with reads and the pruning sweep.
type Store interface {
	// Record appends a terminal job record with its full final state.
	Record(ctx context.Context, r *job.Record) error

	// Get retrieves a terminal record by ID. Returns
	// conveyor.ErrJobNotFound when absent or already pruned.
	Get(ctx context.Context, jobID id.JobID) (*job.Record, error)

	// List returns terminal records matching the options, most recently
	// finished first.
	List(ctx context.Context, opts ListOpts) ([]*job.Record, error)

	// Prune deletes records whose FinishedAt is strictly before cutoff
	// and returns how many were removed. Idempotent.
	Prune(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
