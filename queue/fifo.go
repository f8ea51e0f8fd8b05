package queue

import (
	"sync"

	"github.com/xraph/conveyor/job"
)

// FIFO is an unbounded first-in first-out queue of pending job records.
// It is safe for concurrent use by any number of producers and consumers.
type FIFO struct {
	mu    sync.Mutex
	items []*job.Record

	// ready carries a wake-up token for blocked consumers. Tokens are
	// coalesced; a consumer that takes an item re-arms the token while
	// the queue remains non-empty.
	ready chan struct{}
}

// NewFIFO creates an empty queue.
func NewFIFO() *FIFO {
	return &FIFO{
		ready: make(chan struct{}, 1),
	}
}

// Push appends a record at the tail and wakes one blocked consumer.
func (q *FIFO) Push(r *job.Record) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	q.signal()
}

// PushFront re-inserts a record at the head. Used when dispatch is
// denied by a rate limit: the record keeps its place in line.
func (q *FIFO) PushFront(r *job.Record) {
	q.mu.Lock()
	q.items = append([]*job.Record{r}, q.items...)
	q.mu.Unlock()

	q.signal()
}

// Pop removes and returns the head record. It blocks until an item is
// available or stop is closed; the second return is false on stop.
func (q *FIFO) Pop(stop <-chan struct{}) (*job.Record, bool) {
	for {
		if r, ok := q.take(); ok {
			return r, true
		}

		select {
		case <-q.ready:
		case <-stop:
			return nil, false
		}
	}
}

// take removes the head item if present and re-arms the wake-up token
// when more items remain.
func (q *FIFO) take() (*job.Record, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}

	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return r, true
}

// Drain removes and returns all queued records in FIFO order.
// Used at shutdown to cancel work that never dispatched.
func (q *FIFO) Drain() []*job.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Depth returns the current number of queued records.
func (q *FIFO) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FIFO) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
