package worker

import (
	"sync"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Table holds the live job records — everything admitted but not yet
// handed off to history. All status transitions go through Transition,
// the single serialization point per record: when the timeout timer and
// the handler-completion path race, only the first to observe the
// expected status applies its transition, and the loser's effect is
// discarded.
type Table struct {
	mu   sync.Mutex
	jobs map[string]*job.Record
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{jobs: make(map[string]*job.Record)}
}

// Add inserts a record. The table owns the stored copy from here on.
func (t *Table) Add(r *job.Record) {
	t.mu.Lock()
	t.jobs[r.ID.String()] = r
	t.mu.Unlock()
}

// Get returns a clone of the record, so callers never observe a
// half-applied transition.
func (t *Table) Get(jobID id.JobID) (*job.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.jobs[jobID.String()]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Transition atomically moves the record from status `from` to `to`,
// applying mutate (if any) under the same critical section. It returns
// a clone of the updated record and true on success, or nil and false
// when the record is missing or its status is not `from`.
func (t *Table) Transition(jobID id.JobID, from, to job.Status, mutate func(*job.Record)) (*job.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.jobs[jobID.String()]
	if !ok || r.Status != from {
		return nil, false
	}

	r.Status = to
	if mutate != nil {
		mutate(r)
	}
	return r.Clone(), true
}

// Remove deletes the record, typically after its terminal state has
// been handed to history.
func (t *Table) Remove(jobID id.JobID) {
	t.mu.Lock()
	delete(t.jobs, jobID.String())
	t.mu.Unlock()
}

// CountByStatus returns how many live records hold the given status.
func (t *Table) CountByStatus(s job.Status) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range t.jobs {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Len returns the number of live records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
