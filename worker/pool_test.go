package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/worker"
)

type harness struct {
	table   *worker.Table
	pending *queue.FIFO
	hooks   *hook.Registry
	store   *memory.Store
	reg     *job.Registry
	pool    *worker.Pool
	sup     *worker.Supervisor
}

func newHarness(t *testing.T, slots int, bo backoff.Strategy, extra ...hook.Hook) *harness {
	t.Helper()
	logger := slog.Default()

	table := worker.NewTable()
	pending := queue.NewFIFO()
	hooks := hook.NewRegistry(logger)
	for _, h := range extra {
		hooks.Register(h)
	}
	store := memory.New()
	reg := job.NewRegistry()

	sup := worker.NewSupervisor(reg, table, pending, hooks, store, bo, logger,
		middleware.Recover(logger),
	)
	pool := worker.NewPool(slots, pending, nil, table, hooks, sup, logger)

	return &harness{
		table:   table,
		pending: pending,
		hooks:   hooks,
		store:   store,
		reg:     reg,
		pool:    pool,
		sup:     sup,
	}
}

// enqueue admits a record the way the engine does: live table entry,
// queue tail, queued event.
func (h *harness) enqueue(kind string, maxAttempts int, timeout time.Duration) id.JobID {
	rec := &job.Record{
		ID:          id.NewJobID(),
		Kind:        kind,
		Payload:     []byte(`{}`),
		Status:      job.StatusQueued,
		MaxAttempts: maxAttempts,
		Timeout:     timeout,
		CreatedAt:   time.Now().UTC(),
	}
	h.table.Add(rec)
	h.hooks.EmitJobQueued(context.Background(), rec)
	h.pending.Push(rec)
	return rec.ID
}

func (h *harness) stop(t *testing.T, grace time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_ = h.pool.Stop(ctx)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond))

	var processed atomic.Bool
	job.RegisterDefinition(h.reg, job.NewDefinition("greet", func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))

	jobID := h.enqueue("greet", 1, time.Second)

	h.pool.Start()
	waitFor(t, "job to be processed", processed.Load)
	waitFor(t, "history record", func() bool { return h.store.Len() == 1 })
	h.stop(t, 2*time.Second)

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, job.StatusSucceeded)
	}
	if got.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", got.Attempt)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("expected StartedAt and FinishedAt to be set")
	}
	if h.table.Len() != 0 {
		t.Errorf("live table len = %d, want 0 after terminal", h.table.Len())
	}
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	h := newHarness(t, 2, backoff.NewConstant(10*time.Millisecond))

	var running, peak, done atomic.Int32
	job.RegisterDefinition(h.reg, job.NewDefinition("slow", func(_ context.Context, _ struct{}) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		h.enqueue("slow", 1, time.Second)
	}

	h.pool.Start()
	waitFor(t, "all jobs to finish", func() bool { return done.Load() == 10 })
	h.stop(t, 2*time.Second)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
	if h.store.Len() != 10 {
		t.Errorf("history len = %d, want 10", h.store.Len())
	}
}

func TestPool_FIFOOrder(t *testing.T) {
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond))

	var mu sync.Mutex
	var order []string
	job.RegisterDefinition(h.reg, job.NewDefinition("ordered", func(_ context.Context, p struct{ Seq string }) error {
		mu.Lock()
		order = append(order, p.Seq)
		mu.Unlock()
		return nil
	}))

	for _, seq := range []string{"a", "b", "c", "d"} {
		rec := &job.Record{
			ID:          id.NewJobID(),
			Kind:        "ordered",
			Payload:     []byte(`{"Seq":"` + seq + `"}`),
			Status:      job.StatusQueued,
			MaxAttempts: 1,
			Timeout:     time.Second,
			CreatedAt:   time.Now().UTC(),
		}
		h.table.Add(rec)
		h.pending.Push(rec)
	}

	h.pool.Start()
	waitFor(t, "all jobs to run", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})
	h.stop(t, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	for i, seq := range want {
		if order[i] != seq {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPool_RetryUntilTerminalFailure(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond), tracker)

	var attempts atomic.Int32
	job.RegisterDefinition(h.reg, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) error {
		attempts.Add(1)
		return errors.New("boom")
	}))

	jobID := h.enqueue("doomed", 3, time.Second)

	h.pool.Start()
	waitFor(t, "terminal failure", func() bool { return tracker.failed.Load() == 1 })
	h.stop(t, 2*time.Second)

	if n := attempts.Load(); n != 3 {
		t.Errorf("handler invocations = %d, want 3", n)
	}
	if n := tracker.dispatched.Load(); n != 3 {
		t.Errorf("dispatched events = %d, want 3", n)
	}
	if n := tracker.retrying.Load(); n != 2 {
		t.Errorf("retrying events = %d, want 2", n)
	}

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", got.Attempt)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_TimeoutIsRetried(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond), tracker)

	var calls atomic.Int32
	job.RegisterDefinition(h.reg, job.NewDefinition("sometimes-slow", func(ctx context.Context, _ struct{}) error {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}))

	jobID := h.enqueue("sometimes-slow", 2, 50*time.Millisecond)

	h.pool.Start()
	waitFor(t, "success after timeout retry", func() bool { return tracker.succeeded.Load() == 1 })
	h.stop(t, 2*time.Second)

	if n := tracker.retrying.Load(); n != 1 {
		t.Errorf("retrying events = %d, want 1", n)
	}

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, job.StatusSucceeded)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", got.Attempt)
	}
}

func TestPool_TimeoutTerminal(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond), tracker)

	job.RegisterDefinition(h.reg, job.NewDefinition("hang", func(ctx context.Context, _ struct{}) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	jobID := h.enqueue("hang", 1, 30*time.Millisecond)

	h.pool.Start()
	waitFor(t, "terminal timeout", func() bool { return tracker.timedOut.Load() == 1 })
	h.stop(t, 2*time.Second)

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusTimedOut {
		t.Errorf("status = %q, want %q", got.Status, job.StatusTimedOut)
	}
}

// A job retried after failure must not jump ahead of work submitted
// while it was waiting out its backoff.
func TestPool_RetryDoesNotOvertakeNewerJobs(t *testing.T) {
	h := newHarness(t, 1, backoff.NewConstant(80*time.Millisecond))

	var mu sync.Mutex
	var order []string
	var flakyCalls atomic.Int32

	job.RegisterDefinition(h.reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		if flakyCalls.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		mu.Lock()
		order = append(order, "flaky-retry")
		mu.Unlock()
		return nil
	}))
	job.RegisterDefinition(h.reg, job.NewDefinition("steady", func(_ context.Context, _ struct{}) error {
		mu.Lock()
		order = append(order, "steady")
		mu.Unlock()
		return nil
	}))

	h.enqueue("flaky", 2, time.Second)
	h.pool.Start()

	// Let the first attempt fail, then submit newer work while the
	// retry is waiting out its backoff.
	waitFor(t, "first attempt", func() bool { return flakyCalls.Load() == 1 })
	h.enqueue("steady", 1, time.Second)

	waitFor(t, "both jobs to finish", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	h.stop(t, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "steady" || order[1] != "flaky-retry" {
		t.Errorf("order = %v, want [steady flaky-retry]", order)
	}
}

func TestPool_ForceCancelOnStop(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond), tracker)

	var started atomic.Bool
	job.RegisterDefinition(h.reg, job.NewDefinition("blocker", func(ctx context.Context, _ struct{}) error {
		started.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))

	jobID := h.enqueue("blocker", 3, time.Hour)

	h.pool.Start()
	waitFor(t, "job to start", started.Load)

	// Grace period of zero: force-cancel immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.pool.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("stop err = %v, want context.Canceled", err)
	}

	waitFor(t, "cancelled record", func() bool { return tracker.cancelled.Load() == 1 })

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCancelled)
	}
	if tracker.retrying.Load() != 0 {
		t.Error("force-cancelled job must not be retried")
	}
}

func TestPool_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, 2, backoff.NewConstant(10*time.Millisecond))
	h.pool.Start()
	h.pool.Start() // no-op

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("double-stop error: %v", err)
	}
}

// A record that fails once and then succeeds must not carry the earlier
// attempt's error on its terminal record.
func TestPool_SuccessAfterFailureClearsLastError(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond), tracker)

	var calls atomic.Int32
	job.RegisterDefinition(h.reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		if calls.Add(1) == 1 {
			return errors.New("transient outage")
		}
		return nil
	}))

	jobID := h.enqueue("flaky", 2, time.Second)

	h.pool.Start()
	waitFor(t, "success after retry", func() bool { return tracker.succeeded.Load() == 1 })
	h.stop(t, 2*time.Second)

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, job.StatusSucceeded)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", got.Attempt)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty on a succeeded record", got.LastError)
	}
}

// A job that fails with budget left after the retry sweep has run must
// be cancelled, not parked on a timer nothing will ever collect.
func TestSupervisor_FailureAfterRetrySweepIsCancelled(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(time.Hour), tracker)

	started := make(chan struct{})
	release := make(chan struct{})
	job.RegisterDefinition(h.reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		close(started)
		<-release
		return errors.New("boom")
	}))

	jobID := h.enqueue("flaky", 3, time.Hour)

	h.pool.Start()
	<-started

	// Sweep while the job is mid-attempt, then let the attempt fail.
	if n := h.sup.CancelPendingRetries(context.Background()); n != 0 {
		t.Fatalf("cancelled = %d, want 0 before any timer is armed", n)
	}
	close(release)

	waitFor(t, "cancelled record", func() bool { return tracker.cancelled.Load() == 1 })
	h.stop(t, 2*time.Second)

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCancelled)
	}
	if h.pending.Depth() != 0 {
		t.Error("drained supervisor must not re-enter the queue")
	}
}

func TestSupervisor_CancelPendingRetries(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(time.Hour), tracker)

	job.RegisterDefinition(h.reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		return errors.New("boom")
	}))

	jobID := h.enqueue("flaky", 2, time.Second)

	h.pool.Start()
	waitFor(t, "retry to be scheduled", func() bool { return tracker.retrying.Load() == 1 })
	h.stop(t, 2*time.Second)

	if n := h.sup.CancelPendingRetries(context.Background()); n != 1 {
		t.Fatalf("cancelled = %d, want 1", n)
	}

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCancelled)
	}
	if h.pending.Depth() != 0 {
		t.Error("cancelled retry must not re-enter the queue")
	}
}

func TestPool_PanicInHandlerIsFailure(t *testing.T) {
	tracker := &trackingHook{}
	h := newHarness(t, 1, backoff.NewConstant(10*time.Millisecond), tracker)

	job.RegisterDefinition(h.reg, job.NewDefinition("panics", func(_ context.Context, _ struct{}) error {
		panic("handler exploded")
	}))

	jobID := h.enqueue("panics", 1, time.Second)

	h.pool.Start()
	waitFor(t, "terminal failure", func() bool { return tracker.failed.Load() == 1 })
	h.stop(t, 2*time.Second)

	got, err := h.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get history record: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, job.StatusFailed)
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingHook counts lifecycle events.
type trackingHook struct {
	queued     atomic.Int32
	dispatched atomic.Int32
	succeeded  atomic.Int32
	failed     atomic.Int32
	timedOut   atomic.Int32
	retrying   atomic.Int32
	cancelled  atomic.Int32
}

func (h *trackingHook) Name() string { return "tracker" }

func (h *trackingHook) OnJobQueued(_ context.Context, _ *job.Record) error {
	h.queued.Add(1)
	return nil
}

func (h *trackingHook) OnJobDispatched(_ context.Context, _ *job.Record) error {
	h.dispatched.Add(1)
	return nil
}

func (h *trackingHook) OnJobSucceeded(_ context.Context, _ *job.Record, _ time.Duration) error {
	h.succeeded.Add(1)
	return nil
}

func (h *trackingHook) OnJobFailed(_ context.Context, _ *job.Record, _ error) error {
	h.failed.Add(1)
	return nil
}

func (h *trackingHook) OnJobTimedOut(_ context.Context, _ *job.Record) error {
	h.timedOut.Add(1)
	return nil
}

func (h *trackingHook) OnJobRetrying(_ context.Context, _ *job.Record, _ int, _ time.Time) error {
	h.retrying.Add(1)
	return nil
}

func (h *trackingHook) OnJobCancelled(_ context.Context, _ *job.Record) error {
	h.cancelled.Add(1)
	return nil
}
