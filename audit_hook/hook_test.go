package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	audithook "github.com/xraph/conveyor/audit_hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
	err    error
}

func (c *captureRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return c.err
}

func (c *captureRecorder) all() []*audithook.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*audithook.AuditEvent, len(c.events))
	copy(out, c.events)
	return out
}

func testRecord() *job.Record {
	return &job.Record{
		ID:          id.NewJobID(),
		Kind:        "email.send",
		Status:      job.StatusRunning,
		Attempt:     2,
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestHook_SucceededEvent(t *testing.T) {
	rec := &captureRecorder{}
	h := audithook.New(rec)

	r := testRecord()
	if err := h.OnJobSucceeded(context.Background(), r, 150*time.Millisecond); err != nil {
		t.Fatalf("OnJobSucceeded error: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Action != audithook.ActionJobSucceeded {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.Severity != audithook.SeverityInfo || evt.Outcome != audithook.OutcomeSuccess {
		t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.ResourceID != r.ID.String() {
		t.Errorf("resource_id = %q, want %q", evt.ResourceID, r.ID)
	}
	if evt.Metadata["kind"] != "email.send" {
		t.Errorf("kind metadata = %v", evt.Metadata["kind"])
	}
	if evt.Metadata["elapsed_ms"] != int64(150) {
		t.Errorf("elapsed_ms = %v", evt.Metadata["elapsed_ms"])
	}
}

func TestHook_FailedEventCarriesError(t *testing.T) {
	rec := &captureRecorder{}
	h := audithook.New(rec)

	if err := h.OnJobFailed(context.Background(), testRecord(), errors.New("smtp refused")); err != nil {
		t.Fatalf("OnJobFailed error: %v", err)
	}

	evt := rec.all()[0]
	if evt.Severity != audithook.SeverityCritical || evt.Outcome != audithook.OutcomeFailure {
		t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "smtp refused" {
		t.Errorf("reason = %q", evt.Reason)
	}
	if evt.Metadata["max_attempts"] != 3 {
		t.Errorf("max_attempts = %v", evt.Metadata["max_attempts"])
	}
}

func TestHook_ActionFilter(t *testing.T) {
	rec := &captureRecorder{}
	h := audithook.New(rec, audithook.WithActions(audithook.ActionJobFailed))

	r := testRecord()
	_ = h.OnJobQueued(context.Background(), r)
	_ = h.OnJobSucceeded(context.Background(), r, time.Millisecond)
	_ = h.OnJobFailed(context.Background(), r, errors.New("boom"))

	events := rec.all()
	if len(events) != 1 || events[0].Action != audithook.ActionJobFailed {
		t.Fatalf("got %d events (first: %+v), want only job.failed", len(events), events)
	}
}

func TestHook_RecorderErrorIsSwallowed(t *testing.T) {
	rec := &captureRecorder{err: errors.New("backend down")}
	h := audithook.New(rec,
		audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := h.OnJobQueued(context.Background(), testRecord()); err != nil {
		t.Fatalf("recorder error must not propagate, got %v", err)
	}
}

func TestHook_ShutdownEvent(t *testing.T) {
	rec := &captureRecorder{}
	h := audithook.New(rec)

	if err := h.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown error: %v", err)
	}
	evt := rec.all()[0]
	if evt.Action != audithook.ActionEngineShutdown || evt.Resource != audithook.ResourceEngine {
		t.Errorf("action/resource = %q/%q", evt.Action, evt.Resource)
	}
}

func TestAllActions(t *testing.T) {
	if n := len(audithook.AllActions()); n != 8 {
		t.Errorf("AllActions() length = %d, want 8", n)
	}
}
