// Package job defines the job record, its status state machine, typed
// kind definitions, and the kind registry.
//
// # Job Record
//
// A [Record] is the canonical state of one unit of work. It carries an
// opaque JSON payload and progresses through a fixed state machine:
//
//	queued → running → succeeded
//	queued → running → (failed | timed_out) → queued → running → ...
//	queued → running → (failed | timed_out)   when attempts are exhausted
//	queued → cancelled
//	running → cancelled
//
// failed and timed_out loop back to queued only while Attempt is below
// MaxAttempts; once the budget is spent they are terminal. No transition
// ever leaves a terminal status.
//
// # Defining a Kind
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at submission and deserialized before the handler runs. An optional
// validator is invoked at admission — the engine itself never inspects
// payloads:
//
//	var IngestPipeline = job.NewDefinition("ingest_pipeline",
//	    func(ctx context.Context, input IngestInput) error {
//	        return ingester.Run(ctx, input.RepoURL, input.Ref)
//	    },
//	).WithValidator(func(input IngestInput) error {
//	    if input.RepoURL == "" {
//	        return errors.New("repo_url is required")
//	    }
//	    return nil
//	})
//
// # Registry
//
// [Registry] maps kind names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]; the engine
// package provides higher-level engine.Register and engine.Submit
// wrappers.
package job
