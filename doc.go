// Package conveyor provides an in-process background job engine for
// pipeline ingestion and analysis workloads. Jobs are admitted through a
// validating gate, executed under a bounded concurrency budget with
// per-attempt timeouts and retry backoff, and recorded in a pruned
// history store for auditing and metrics.
//
// Conveyor is designed as a library, not a service. Construct an engine
// explicitly and hand it to whatever owns the process lifecycle:
//
//	eng, err := engine.New(
//	    engine.WithConfig(conveyor.DefaultConfig()),
//	    engine.WithHistoryStore(memory.New()),
//	)
//
// Real-time alerting is a capability, not a compile-time dependency: the
// engine pushes lifecycle events to any Notifier wired in after
// construction, and never fails a job because a subscriber went away.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conveyor
