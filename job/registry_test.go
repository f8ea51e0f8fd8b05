package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/xraph/conveyor/job"
)

type ingestPayload struct {
	RepoURL string `json:"repo_url"`
	Ref     string `json:"ref"`
}

func TestRegistry_RegisterAndHandler(t *testing.T) {
	r := job.NewRegistry()

	var got ingestPayload
	def := job.NewDefinition("ingest", func(_ context.Context, p ingestPayload) error {
		got = p
		return nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Handler("ingest")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(ingestPayload{RepoURL: "https://example.com/repo.git", Ref: "main"})
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RepoURL != "https://example.com/repo.git" {
		t.Errorf("RepoURL = %q, want %q", got.RepoURL, "https://example.com/repo.git")
	}
	if got.Ref != "main" {
		t.Errorf("Ref = %q, want %q", got.Ref, "main")
	}
}

func TestRegistry_HandlerUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Handler("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered kind")
	}
	if r.Has("nonexistent") {
		t.Fatal("Has should be false for unregistered kind")
	}
}

func TestRegistry_Kinds(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("kind-a", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("kind-b", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("kind-c", func(_ context.Context, _ struct{}) error { return nil }))

	kinds := r.Kinds()
	sort.Strings(kinds)
	if len(kinds) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(kinds))
	}
	expected := []string{"kind-a", "kind-b", "kind-c"}
	for i, want := range expected {
		if kinds[i] != want {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want)
		}
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed", func(_ context.Context, _ ingestPayload) error {
		t.Fatal("handler should not be called with invalid JSON")
		return nil
	}))

	h, _ := r.Handler("typed")
	if err := h(context.Background(), []byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_Validator(t *testing.T) {
	r := job.NewRegistry()
	def := job.NewDefinition("validated", func(_ context.Context, _ ingestPayload) error {
		return nil
	}).WithValidator(func(p ingestPayload) error {
		if p.RepoURL == "" {
			return errors.New("repo_url is required")
		}
		return nil
	})
	job.RegisterDefinition(r, def)

	good, _ := json.Marshal(ingestPayload{RepoURL: "https://example.com/r.git"})
	if err := r.Validate("validated", good); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bad, _ := json.Marshal(ingestPayload{})
	if err := r.Validate("validated", bad); err == nil {
		t.Fatal("expected validation error for empty repo_url")
	}
}

func TestRegistry_ValidateWithoutValidator(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("plain", func(_ context.Context, _ struct{}) error { return nil }))

	if err := r.Validate("plain", []byte(`{}`)); err != nil {
		t.Fatalf("kinds without validators should validate trivially, got %v", err)
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}) error {
		return want
	}))

	h, _ := r.Handler("failing")
	if err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}

func TestRegistry_DefaultOptions(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("tuned", func(_ context.Context, _ struct{}) error { return nil },
		job.WithMaxAttempts(5),
	))

	opts := r.DefaultOptions("tuned")
	if opts.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", opts.MaxAttempts)
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   job.Status
		terminal bool
	}{
		{job.StatusQueued, false},
		{job.StatusRunning, false},
		{job.StatusSucceeded, true},
		{job.StatusFailed, true},
		{job.StatusTimedOut, true},
		{job.StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}
