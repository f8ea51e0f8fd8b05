package stream

import (
	"sync"
	"sync/atomic"

	"github.com/xraph/conveyor/id"
)

// Subscriber receives envelopes from topics it is subscribed to.
// It uses credit-based flow control: the subscriber grants credits
// indicating how many envelopes it can absorb, and the broker skips it
// when credits hit zero. A full buffer also drops the envelope and
// restores the spent credit.
type Subscriber struct {
	id id.SubscriberID
	ch chan *Envelope

	credits atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	// filter is an optional predicate; when set, only matching
	// envelopes are delivered.
	filter func(*Envelope) bool

	closed  atomic.Bool
	dropped atomic.Int64
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credits.
func NewSubscriber(subID id.SubscriberID, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     subID,
		ch:     make(chan *Envelope, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() id.SubscriberID { return s.id }

// C returns the read-only envelope channel. It is closed when the
// subscriber is removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Envelope { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// Dropped returns how many envelopes were dropped for this subscriber.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// SetFilter sets an optional envelope filter predicate. Set it before
// the subscriber starts receiving.
func (s *Subscriber) SetFilter(fn func(*Envelope) bool) {
	s.filter = fn
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an envelope. Returns false if it was dropped
// (closed, filter mismatch, no credits, or full buffer).
func (s *Subscriber) send(env *Envelope) bool {
	if s.closed.Load() {
		return false
	}

	if s.filter != nil && !s.filter(env) {
		return false
	}

	for {
		current := s.credits.Load()
		if current <= 0 {
			s.dropped.Add(1)
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}

	select {
	case s.ch <- env:
		return true
	default:
		// Buffer full, restore the spent credit.
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
