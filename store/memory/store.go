// Package memory provides a fully in-memory history.Store. Safe for
// concurrent access. Intended for unit testing, development, and
// deployments that don't need history to survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/history"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

var _ history.Store = (*Store)(nil)

// Store keeps terminal job records in a map keyed by job ID.
type Store struct {
	mu     sync.RWMutex
	closed bool
	recs   map[string]*job.Record
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		recs: make(map[string]*job.Record),
	}
}

// Record stores a copy of the terminal record, overwriting any
// previous entry for the same ID.
func (m *Store) Record(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conveyor.ErrStoreClosed
	}
	m.recs[r.ID.String()] = r.Clone()
	return nil
}

// Get returns a copy of the record, or conveyor.ErrJobNotFound.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	r, ok := m.recs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	return r.Clone(), nil
}

// List returns matching records, most recently finished first.
func (m *Store) List(_ context.Context, opts history.ListOpts) ([]*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}

	matched := make([]*job.Record, 0, len(m.recs))
	for _, r := range m.recs {
		if opts.Kind != "" && r.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.CorrelationID != "" && r.CorrelationID != opts.CorrelationID {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, k int) bool {
		return finishedAt(matched[i]).After(finishedAt(matched[k]))
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*job.Record{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*job.Record, len(matched))
	for i, r := range matched {
		out[i] = r.Clone()
	}
	return out, nil
}

// Prune deletes records finished strictly before cutoff.
func (m *Store) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, conveyor.ErrStoreClosed
	}

	removed := 0
	for key, r := range m.recs {
		if finishedAt(r).Before(cutoff) {
			delete(m.recs, key)
			removed++
		}
	}
	return removed, nil
}

// Close marks the store closed; subsequent calls fail with
// conveyor.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports the number of stored records.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}

func finishedAt(r *job.Record) time.Time {
	if r.FinishedAt != nil {
		return *r.FinishedAt
	}
	return r.CreatedAt
}
