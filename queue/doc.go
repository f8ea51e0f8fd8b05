// Package queue provides the in-memory pending queue feeding the worker
// pool, plus optional per-kind rate limiting.
//
// The queue is strict FIFO and unbounded: admission never blocks and the
// engine never rejects on queue length. Callers wanting backpressure
// check Depth before submitting. All queue mutations go through a single
// mutex, the one synchronization point for queue state.
package queue
