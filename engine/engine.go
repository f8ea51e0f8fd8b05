// Package engine wires the Conveyor subsystems together: the job
// registry, admission gate, FIFO queue, worker pool, supervisor, hook
// registry, alert emitter, metrics collector, and history store. It is
// the package applications interact with.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/history"
	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/metrics"
	mw "github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/worker"
)

// Engine is the background job service: submit jobs, watch them run,
// query their status and history.
type Engine struct {
	cfg    conveyor.Config
	logger *slog.Logger

	registry  *job.Registry
	table     *worker.Table
	pending   *queue.FIFO
	hooks     *hook.Registry
	userHooks []hook.Hook
	archive   history.Store
	bo        backoff.Strategy
	limits    []queue.LimitConfig
	emitter   *alert.Emitter
	collector *metrics.Collector
	sup       *worker.Supervisor
	pool      *worker.Pool
	mws       []mw.Middleware

	meterProvider metric.MeterProvider

	started  atomic.Bool
	draining atomic.Bool

	// admitMu orders admissions against the shutdown drain: SubmitRaw
	// holds the read lock from the draining check through the queue
	// push, so once Shutdown's write lock is released every admitted
	// record is already in the queue.
	admitMu sync.RWMutex

	stopCh    chan struct{}
	pruneDone chan struct{}
	stopOnce  sync.Once
	stopErr   error
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Defaults to
// conveyor.DefaultConfig().
func WithConfig(cfg conveyor.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHistoryStore sets the history backend. The caller owns its
// lifecycle; the engine never closes it. Defaults to an in-memory
// store.
func WithHistoryStore(s history.Store) Option {
	return func(e *Engine) { e.archive = s }
}

// WithBackoff sets the retry backoff strategy. Defaults to
// backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithMiddleware appends middleware to the execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.userHooks = append(e.userHooks, h) }
}

// WithRateLimit adds a per-kind dispatch rate limit.
func WithRateLimit(configs ...queue.LimitConfig) Option {
	return func(e *Engine) { e.limits = append(e.limits, configs...) }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates an Engine. Call Start to begin processing.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       conveyor.DefaultConfig(),
		logger:    slog.Default(),
		registry:  job.NewRegistry(),
		table:     worker.NewTable(),
		pending:   queue.NewFIFO(),
		stopCh:    make(chan struct{}),
		pruneDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.archive == nil {
		e.archive = memory.New()
	}
	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}

	// The registry is built after the options run so hook-error logging
	// uses the configured logger.
	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.userHooks {
		e.hooks.Register(h)
	}

	e.emitter = alert.NewEmitter(e.logger)
	if e.cfg.EnableRealTimeAlerts {
		e.hooks.Register(e.emitter)
	}

	e.collector = metrics.NewCollector(e.pending.Depth)
	if e.cfg.EnableMetrics {
		e.hooks.Register(e.collector)
	}

	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/xraph/conveyor"))
	} else {
		metricsMw = mw.Metrics()
	}

	allMws := append([]mw.Middleware{
		mw.Recover(e.logger),
		metricsMw,
		mw.Logging(e.logger),
	}, e.mws...)

	e.sup = worker.NewSupervisor(e.registry, e.table, e.pending, e.hooks,
		e.archive, e.bo, e.logger, allMws...)

	var limiter *queue.Limiter
	if len(e.limits) > 0 {
		limiter = queue.NewLimiter(e.limits...)
	}
	e.pool = worker.NewPool(e.cfg.MaxConcurrent, e.pending, limiter,
		e.table, e.hooks, e.sup, e.logger)

	return e, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Submit marshals a typed payload and admits it as a job of the given
// kind. It returns the job ID immediately; execution is asynchronous.
func Submit[T any](ctx context.Context, e *Engine, kind string, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.JobID{}, fmt.Errorf("conveyor: marshal payload for kind %q: %w", kind, err)
	}
	return e.SubmitRaw(ctx, kind, data, opts...)
}

// SubmitRaw admits a job with a pre-serialized payload. Admission
// fails with conveyor.ErrDraining once shutdown has begun, and with
// conveyor.ErrUnknownKind when no definition is registered for kind.
func (e *Engine) SubmitRaw(ctx context.Context, kind string, payload []byte, opts ...job.Option) (id.JobID, error) {
	e.admitMu.RLock()
	defer e.admitMu.RUnlock()

	if e.draining.Load() {
		return id.JobID{}, conveyor.ErrDraining
	}
	if !e.registry.Has(kind) {
		return id.JobID{}, fmt.Errorf("%w: %s", conveyor.ErrUnknownKind, kind)
	}
	if err := e.registry.Validate(kind, payload); err != nil {
		return id.JobID{}, err
	}

	resolved := e.registry.DefaultOptions(kind)
	for _, opt := range opts {
		opt(&resolved)
	}
	if resolved.MaxAttempts <= 0 {
		resolved.MaxAttempts = e.cfg.DefaultRetryAttempts + 1
	}
	if resolved.Timeout <= 0 {
		resolved.Timeout = e.cfg.JobTimeout
	}

	rec := &job.Record{
		ID:            id.NewJobID(),
		Kind:          kind,
		Payload:       payload,
		Status:        job.StatusQueued,
		MaxAttempts:   resolved.MaxAttempts,
		CorrelationID: resolved.CorrelationID,
		Timeout:       resolved.Timeout,
		CreatedAt:     time.Now().UTC(),
	}

	e.table.Add(rec)
	// Emit before pushing so no worker can emit a dispatch event for
	// this job ahead of its queued event.
	e.hooks.EmitJobQueued(ctx, rec)
	e.pending.Push(rec)

	e.logger.Info("job admitted",
		slog.String("job_id", rec.ID.String()),
		slog.String("kind", kind),
		slog.Int("max_attempts", rec.MaxAttempts),
	)
	return rec.ID, nil
}

// GetStatus returns the current record for a job: live state while the
// job is queued or running, the terminal record from history afterward.
func (e *Engine) GetStatus(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	if rec, ok := e.table.Get(jobID); ok {
		return rec, nil
	}
	return e.archive.Get(ctx, jobID)
}

// ListHistory queries terminal records.
func (e *Engine) ListHistory(ctx context.Context, opts history.ListOpts) ([]*job.Record, error) {
	return e.archive.List(ctx, opts)
}

// SetNotifier injects the alert sink. Pass nil to disable delivery.
// Safe to call at any time, including while jobs are running.
func (e *Engine) SetNotifier(n alert.Notifier) {
	e.emitter.SetNotifier(n)
}

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Metrics returns a point-in-time snapshot of the engine's counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.collector.Snapshot()
}

// QueueDepth reports how many jobs are waiting in the queue.
func (e *Engine) QueueDepth() int {
	return e.pending.Depth()
}

// ActiveCount reports how many jobs are currently running.
func (e *Engine) ActiveCount() int {
	return e.pool.ActiveCount()
}

// Start launches the worker pool and the retention sweep. It returns
// immediately and is a no-op after the first call.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	e.pool.Start()
	go e.pruneLoop()

	e.logger.Info("engine started",
		slog.Int("max_concurrent", e.cfg.MaxConcurrent),
		slog.Duration("job_timeout", e.cfg.JobTimeout),
		slog.Duration("retention", e.cfg.HistoricalRetention),
	)
	return nil
}

// pruneLoop periodically deletes history records older than the
// retention window.
func (e *Engine) pruneLoop() {
	defer close(e.pruneDone)

	ticker := time.NewTicker(e.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-e.cfg.HistoricalRetention)
			removed, err := e.archive.Prune(context.Background(), cutoff)
			if err != nil {
				e.logger.Error("history prune failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				e.logger.Info("history pruned",
					slog.Int("removed", removed),
					slog.Time("cutoff", cutoff),
				)
			}
		case <-e.stopCh:
			return
		}
	}
}

// Shutdown drains the engine: admission stops immediately, queued jobs
// and pending retries are cancelled, and running jobs get until the
// ctx deadline to finish before being force-cancelled. Idempotent;
// concurrent and repeat calls share the first call's outcome.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		// The write lock waits out in-flight admissions, so after it
		// releases every accepted record is in the queue and every new
		// SubmitRaw sees the draining flag.
		e.admitMu.Lock()
		e.draining.Store(true)
		e.admitMu.Unlock()
		e.logger.Info("engine shutting down")

		cancelCtx := context.WithoutCancel(ctx)

		// Stop retry timers before draining: their callbacks push under
		// the supervisor's retry lock, so once this returns no retry can
		// re-enter the queue behind the drain.
		cancelled := e.sup.CancelPendingRetries(cancelCtx)

		// Cancel everything that has not started running. A job popped
		// by a slot concurrently with Drain is already out of the
		// queue and completes (or is force-cancelled) with the pool.
		for _, rec := range e.pending.Drain() {
			if e.sup.Cancel(cancelCtx, rec.ID) {
				cancelled++
			}
		}

		e.stopErr = e.pool.Stop(ctx)

		// Nothing pushes once admissions are fenced, retries are swept,
		// and the pool has stopped; this second pass is a safety net for
		// anything a future code path slips past the first drain.
		for _, rec := range e.pending.Drain() {
			if e.sup.Cancel(cancelCtx, rec.ID) {
				cancelled++
			}
		}
		if cancelled > 0 {
			e.logger.Info("cancelled pending jobs", slog.Int("count", cancelled))
		}

		if e.started.Load() {
			close(e.stopCh)
			<-e.pruneDone
		}

		e.hooks.EmitShutdown(cancelCtx)
		e.logger.Info("engine stopped")
	})
	return e.stopErr
}
