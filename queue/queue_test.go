package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

func newRecord(kind string) *job.Record {
	return &job.Record{
		ID:        id.NewJobID(),
		Kind:      kind,
		Status:    job.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFIFO_Order(t *testing.T) {
	q := queue.NewFIFO()
	stop := make(chan struct{})

	first := newRecord("a")
	second := newRecord("b")
	third := newRecord("c")
	q.Push(first)
	q.Push(second)
	q.Push(third)

	for i, want := range []*job.Record{first, second, third} {
		got, ok := q.Pop(stop)
		if !ok {
			t.Fatalf("Pop %d returned not ok", i)
		}
		if got.ID != want.ID {
			t.Errorf("Pop %d = %s, want %s", i, got.ID, want.ID)
		}
	}

	if q.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", q.Depth())
	}
}

func TestFIFO_PushFrontKeepsPlace(t *testing.T) {
	q := queue.NewFIFO()
	stop := make(chan struct{})

	head := newRecord("head")
	tail := newRecord("tail")
	q.Push(head)
	q.Push(tail)

	got, _ := q.Pop(stop)
	q.PushFront(got)

	again, _ := q.Pop(stop)
	if again.ID != head.ID {
		t.Errorf("after PushFront, Pop = %s, want %s", again.ID, head.ID)
	}
}

func TestFIFO_PopBlocksUntilPush(t *testing.T) {
	q := queue.NewFIFO()
	stop := make(chan struct{})

	want := newRecord("late")
	done := make(chan *job.Record, 1)
	go func() {
		r, _ := q.Pop(stop)
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(want)

	select {
	case got := <-done:
		if got.ID != want.ID {
			t.Errorf("Pop = %s, want %s", got.ID, want.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestFIFO_PopReturnsOnStop(t *testing.T) {
	q := queue.NewFIFO()
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(stop)
		done <- ok
	}()

	close(stop)

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop returned ok after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after stop")
	}
}

func TestFIFO_ConcurrentConsumersDrainEverything(t *testing.T) {
	q := queue.NewFIFO()
	stop := make(chan struct{})

	const total = 200
	for range total {
		q.Push(newRecord("work"))
	}

	var mu sync.Mutex
	seen := make(map[string]struct{}, total)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, ok := q.Pop(stop)
				if !ok {
					return
				}
				mu.Lock()
				seen[r.ID.String()] = struct{}{}
				done := len(seen) == total
				mu.Unlock()
				if done {
					close(stop)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("consumed %d distinct records, want %d", len(seen), total)
	}
}

func TestFIFO_Drain(t *testing.T) {
	q := queue.NewFIFO()

	q.Push(newRecord("a"))
	q.Push(newRecord("b"))

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain returned %d records, want 2", len(drained))
	}
	if q.Depth() != 0 {
		t.Errorf("Depth after Drain = %d, want 0", q.Depth())
	}
}

func TestLimiter_UnconfiguredKindAlwaysAllowed(t *testing.T) {
	l := queue.NewLimiter()
	for range 100 {
		if !l.Allow("anything") {
			t.Fatal("unconfigured kind should always be allowed")
		}
	}
}

func TestLimiter_DeniesBeyondBurst(t *testing.T) {
	l := queue.NewLimiter(queue.LimitConfig{Kind: "scan", RatePerSecond: 1, Burst: 2})

	if !l.Allow("scan") {
		t.Fatal("first dispatch should pass")
	}
	if !l.Allow("scan") {
		t.Fatal("second dispatch should pass within burst")
	}
	if l.Allow("scan") {
		t.Fatal("third immediate dispatch should be denied")
	}

	// Other kinds are unaffected.
	if !l.Allow("ingest") {
		t.Fatal("other kinds should not be limited")
	}
}
