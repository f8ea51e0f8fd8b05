package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/queue"
)

// throttleBackoff is how long a slot sleeps after the rate limiter
// denies a kind, before re-checking the head of the queue.
const throttleBackoff = 100 * time.Millisecond

// Pool owns a fixed number of execution slots. Each slot blocks on the
// FIFO queue, claims the next record, and hands it to the Supervisor.
// A freed slot picks up the next queued job immediately; there is no
// polling interval between dispatches.
type Pool struct {
	size    int
	pending *queue.FIFO
	limiter *queue.Limiter
	table   *Table
	hooks   *hook.Registry
	sup     *Supervisor
	logger  *slog.Logger

	startOnce sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// active maps running job IDs to their slot cancel funcs so
	// Stop can force-cancel in-flight work after the grace period.
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewPool creates a Pool with size execution slots. limiter may be nil
// to disable per-kind throttling.
func NewPool(
	size int,
	pending *queue.FIFO,
	limiter *queue.Limiter,
	table *Table,
	hooks *hook.Registry,
	sup *Supervisor,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		size:    size,
		pending: pending,
		limiter: limiter,
		table:   table,
		hooks:   hooks,
		sup:     sup,
		logger:  logger,
		stopCh:  make(chan struct{}),
		active:  make(map[string]context.CancelFunc),
	}
}

// Start launches the execution slots. It returns immediately and is a
// no-op after the first call.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			workerID := id.NewWorkerID()
			p.wg.Add(1)
			go p.slot(workerID)
		}
		p.logger.Info("worker pool started", slog.Int("slots", p.size))
	})
}

func (p *Pool) slot(workerID id.WorkerID) {
	defer p.wg.Done()

	for {
		rec, ok := p.pending.Pop(p.stopCh)
		if !ok {
			return
		}

		if p.limiter != nil && !p.limiter.Allow(rec.Kind) {
			// Head of line is throttled; put it back where it was so
			// FIFO order holds, and back off before re-checking.
			p.pending.PushFront(rec)
			select {
			case <-time.After(throttleBackoff):
			case <-p.stopCh:
				return
			}
			continue
		}

		p.run(workerID, rec)
	}
}

// run claims the record and executes one attempt on this slot.
func (p *Pool) run(workerID id.WorkerID, rec *job.Record) {
	updated, ok := p.table.Transition(rec.ID, job.StatusQueued, job.StatusRunning, func(r *job.Record) {
		r.Attempt++
		now := time.Now().UTC()
		r.StartedAt = &now
	})
	if !ok {
		// Cancelled while sitting in the queue; nothing to run.
		return
	}

	slotCtx, cancel := context.WithCancel(context.Background())
	key := updated.ID.String()
	p.mu.Lock()
	p.active[key] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.active, key)
		p.mu.Unlock()
	}()

	p.hooks.EmitJobDispatched(slotCtx, updated)
	p.logger.Debug("job dispatched",
		slog.String("job_id", updated.ID.String()),
		slog.String("kind", updated.Kind),
		slog.Int("attempt", updated.Attempt),
		slog.String("worker_id", workerID.String()),
	)

	p.sup.Execute(slotCtx, updated)
}

// ActiveCount reports how many slots are currently executing a job.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stop shuts the pool down. Slots stop taking new work immediately; the
// ctx deadline is the grace period for in-flight attempts. When it
// expires, remaining attempts are force-cancelled and Stop returns
// ctx.Err(). Stop always waits for every slot to exit.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		forced := p.forceCancel()
		if forced > 0 {
			p.logger.Warn("grace period elapsed, force-cancelled running jobs",
				slog.Int("count", forced))
		}
		<-done
		return ctx.Err()
	}
}

func (p *Pool) forceCancel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.active {
		cancel()
	}
	return len(p.active)
}
