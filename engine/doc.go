// Package engine wires all Conveyor subsystems together and provides
// the primary application-level API for registering and submitting
// background jobs.
//
// The engine package exists to break a fundamental import cycle: the
// root conveyor package defines the shared configuration and sentinel
// errors (imported by job, worker, history, etc.) and therefore cannot
// import those packages back. Engine sits above all subsystem packages
// and below the application layer.
//
// # Building an Engine
//
//	e, err := engine.New(
//	    engine.WithConfig(cfg),
//	    engine.WithHistoryStore(sqliteStore),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	)
//
// # Registering Kinds
//
//	engine.Register(e, job.NewDefinition("email.send", sendEmail))
//
// # Submitting Jobs
//
//	jobID, err := engine.Submit(ctx, e, "email.send", EmailInput{To: "user@example.com"})
//
//	// With per-job options
//	engine.Submit(ctx, e, "email.send", input,
//	    job.WithMaxAttempts(5),
//	    job.WithTimeout(30*time.Second),
//	)
//
// # Lifecycle
//
// [Engine.Start] launches the worker pool and the retention sweep.
// [Engine.Shutdown] drains: new admissions fail with
// [conveyor.ErrDraining], queued jobs and pending retries are
// cancelled, running jobs get the context's remaining time to finish
// before being force-cancelled. Shutdown is idempotent.
//
// # Options
//
//   - [WithConfig] — replace the default configuration
//   - [WithHistoryStore] — set the terminal record store
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithHook] — register a lifecycle hook
//   - [WithRateLimit] — configure per-kind dispatch rate limits
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
