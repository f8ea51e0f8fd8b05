// Package metrics provides an in-process counters and latency snapshot
// for the engine. The Collector observes lifecycle events through the
// hook registry and aggregates them cheaply; Snapshot materializes a
// point-in-time view for callers.
//
// This is the engine's own operational view. Export to an external
// metrics backend is handled separately by the OpenTelemetry
// middleware.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/job"
)

// maxSamples bounds the latency reservoir. Old samples are overwritten
// ring-buffer style once full.
const maxSamples = 1024

// Compile-time checks for the hook interfaces the Collector observes.
var (
	_ hook.Hook          = (*Collector)(nil)
	_ hook.JobQueued     = (*Collector)(nil)
	_ hook.JobDispatched = (*Collector)(nil)
	_ hook.JobSucceeded  = (*Collector)(nil)
	_ hook.JobFailed     = (*Collector)(nil)
	_ hook.JobTimedOut   = (*Collector)(nil)
	_ hook.JobRetrying   = (*Collector)(nil)
	_ hook.JobCancelled  = (*Collector)(nil)
)

// Collector aggregates lifecycle counts and completed-job latencies.
// All methods are safe for concurrent use.
type Collector struct {
	depthFn func() int

	queued     atomic.Int64
	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	cancelled  atomic.Int64
	retries    atomic.Int64
	highWater  atomic.Int64

	mu      sync.Mutex
	samples []float64 // milliseconds
	next    int
	filled  bool
}

// NewCollector creates a Collector. depthFn reports the current queue
// depth and may be nil.
func NewCollector(depthFn func() int) *Collector {
	return &Collector{
		depthFn: depthFn,
		samples: make([]float64, 0, maxSamples),
	}
}

func (c *Collector) Name() string { return "metrics" }

func (c *Collector) OnJobQueued(_ context.Context, _ *job.Record) error {
	c.queued.Add(1)
	c.observeDepth()
	return nil
}

func (c *Collector) OnJobDispatched(_ context.Context, _ *job.Record) error {
	c.dispatched.Add(1)
	return nil
}

func (c *Collector) OnJobSucceeded(_ context.Context, _ *job.Record, elapsed time.Duration) error {
	c.succeeded.Add(1)
	c.observeLatency(elapsed)
	return nil
}

func (c *Collector) OnJobFailed(_ context.Context, r *job.Record, _ error) error {
	c.failed.Add(1)
	c.observeLatency(r.Duration())
	return nil
}

func (c *Collector) OnJobTimedOut(_ context.Context, r *job.Record) error {
	c.timedOut.Add(1)
	c.observeLatency(r.Duration())
	return nil
}

func (c *Collector) OnJobRetrying(_ context.Context, _ *job.Record, _ int, _ time.Time) error {
	c.retries.Add(1)
	return nil
}

func (c *Collector) OnJobCancelled(_ context.Context, _ *job.Record) error {
	c.cancelled.Add(1)
	return nil
}

func (c *Collector) observeDepth() {
	if c.depthFn == nil {
		return
	}
	depth := int64(c.depthFn())
	for {
		hw := c.highWater.Load()
		if depth <= hw || c.highWater.CompareAndSwap(hw, depth) {
			return
		}
	}
}

func (c *Collector) observeLatency(elapsed time.Duration) {
	if elapsed < 0 {
		return
	}
	ms := float64(elapsed.Microseconds()) / 1000

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) < maxSamples {
		c.samples = append(c.samples, ms)
		return
	}
	c.filled = true
	c.samples[c.next] = ms
	c.next = (c.next + 1) % maxSamples
}

// LatencyStats summarizes the bounded reservoir of completed-attempt
// latencies, in milliseconds.
type LatencyStats struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"meanMs"`
	P50Ms  float64 `json:"p50Ms"`
	P95Ms  float64 `json:"p95Ms"`
	P99Ms  float64 `json:"p99Ms"`
}

// Snapshot is a point-in-time view of the engine's counters.
type Snapshot struct {
	Queued         int64        `json:"queued"`
	Dispatched     int64        `json:"dispatched"`
	Succeeded      int64        `json:"succeeded"`
	Failed         int64        `json:"failed"`
	TimedOut       int64        `json:"timedOut"`
	Cancelled      int64        `json:"cancelled"`
	Retries        int64        `json:"retries"`
	QueueDepth     int          `json:"queueDepth"`
	QueueHighWater int64        `json:"queueHighWater"`
	Latency        LatencyStats `json:"latency"`
}

// Snapshot materializes the current counters and latency distribution.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Queued:         c.queued.Load(),
		Dispatched:     c.dispatched.Load(),
		Succeeded:      c.succeeded.Load(),
		Failed:         c.failed.Load(),
		TimedOut:       c.timedOut.Load(),
		Cancelled:      c.cancelled.Load(),
		Retries:        c.retries.Load(),
		QueueHighWater: c.highWater.Load(),
	}
	if c.depthFn != nil {
		s.QueueDepth = c.depthFn()
	}
	s.Latency = c.latencyStats()
	return s
}

func (c *Collector) latencyStats() LatencyStats {
	c.mu.Lock()
	sorted := make([]float64, len(c.samples))
	copy(sorted, c.samples)
	c.mu.Unlock()

	stats := LatencyStats{Count: len(sorted)}
	if len(sorted) == 0 {
		return stats
	}
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	stats.MeanMs = sum / float64(len(sorted))
	stats.P50Ms = percentile(sorted, 0.50)
	stats.P95Ms = percentile(sorted, 0.95)
	stats.P99Ms = percentile(sorted, 0.99)
	return stats
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
