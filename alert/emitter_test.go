package alert_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/conveyor/alert"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

func testRecord() *job.Record {
	return &job.Record{
		ID:            id.NewJobID(),
		Kind:          "analyze",
		Status:        job.StatusRunning,
		Attempt:       1,
		CorrelationID: "run-42",
	}
}

func TestEmitter_NoNotifierIsNoop(t *testing.T) {
	e := alert.NewEmitter(slog.Default())

	// Must not panic with nothing wired.
	if err := e.OnJobDispatched(context.Background(), testRecord()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmitter_SendsEvents(t *testing.T) {
	e := alert.NewEmitter(slog.Default())

	var got []*alert.Event
	e.SetNotifier(alert.NotifierFunc(func(evt *alert.Event) error {
		got = append(got, evt)
		return nil
	}))

	ctx := context.Background()
	rec := testRecord()

	_ = e.OnJobDispatched(ctx, rec)
	_ = e.OnJobSucceeded(ctx, rec, 1500*time.Millisecond)
	_ = e.OnJobFailed(ctx, rec, errors.New("parse error"))
	_ = e.OnJobCancelled(ctx, rec)

	if len(got) != 4 {
		t.Fatalf("delivered %d events, want 4", len(got))
	}

	wantTypes := []alert.EventType{
		alert.EventJobDispatched,
		alert.EventJobSucceeded,
		alert.EventJobFailed,
		alert.EventJobCancelled,
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("event[%d].Type = %q, want %q", i, got[i].Type, want)
		}
		if got[i].JobID != rec.ID {
			t.Errorf("event[%d].JobID = %s, want %s", i, got[i].JobID, rec.ID)
		}
	}

	if got[1].ElapsedMs != 1500 {
		t.Errorf("succeeded ElapsedMs = %d, want 1500", got[1].ElapsedMs)
	}
	if got[2].Error != "parse error" {
		t.Errorf("failed Error = %q, want %q", got[2].Error, "parse error")
	}
	if got[0].CorrelationID != "run-42" {
		t.Errorf("CorrelationID = %q, want %q", got[0].CorrelationID, "run-42")
	}
}

func TestEmitter_RetryingCarriesEligibility(t *testing.T) {
	e := alert.NewEmitter(slog.Default())

	var got *alert.Event
	e.SetNotifier(alert.NotifierFunc(func(evt *alert.Event) error {
		got = evt
		return nil
	}))

	rec := testRecord()
	rec.LastError = "transient"
	eligible := time.Now().UTC().Add(2 * time.Second)
	_ = e.OnJobRetrying(context.Background(), rec, 2, eligible)

	if got == nil {
		t.Fatal("no event delivered")
	}
	if got.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", got.Attempt)
	}
	if got.Error != "transient" {
		t.Errorf("Error = %q, want %q", got.Error, "transient")
	}
	if got.EligibleAt == "" {
		t.Error("EligibleAt is empty")
	}
}

func TestEmitter_NotifierErrorIsSwallowed(t *testing.T) {
	e := alert.NewEmitter(slog.Default())
	e.SetNotifier(alert.NotifierFunc(func(_ *alert.Event) error {
		return errors.New("subscriber gone")
	}))

	if err := e.OnJobSucceeded(context.Background(), testRecord(), time.Second); err != nil {
		t.Fatalf("notifier error leaked: %v", err)
	}
}

func TestEmitter_NotifierPanicIsSwallowed(t *testing.T) {
	e := alert.NewEmitter(slog.Default())
	e.SetNotifier(alert.NotifierFunc(func(_ *alert.Event) error {
		panic("transport blew up")
	}))

	if err := e.OnJobFailed(context.Background(), testRecord(), errors.New("x")); err != nil {
		t.Fatalf("notifier panic leaked: %v", err)
	}
}
