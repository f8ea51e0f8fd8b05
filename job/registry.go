package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts a raw JSON
// payload. A typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// ValidateFunc is a type-erased payload validator.
type ValidateFunc func(payload []byte) error

type entry struct {
	handler  HandlerFunc
	validate ValidateFunc
	opts     Options
}

// Registry maps job kinds to type-erased handlers, validators, and
// per-kind default options. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]entry
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]entry),
	}
}

// RegisterDefinition registers a typed job kind. The generic handler is
// wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler; the validator is wrapped the same way.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		t, err := decode[T](def.Kind, payload)
		if err != nil {
			return err
		}
		return def.Handler(ctx, t)
	}

	var validate ValidateFunc
	if def.Validate != nil {
		validate = func(payload []byte) error {
			t, err := decode[T](def.Kind, payload)
			if err != nil {
				return err
			}
			return def.Validate(t)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[def.Kind] = entry{handler: handler, validate: validate, opts: def.Opts}
}

func decode[T any](kind string, payload []byte) (T, error) {
	var t T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return t, fmt.Errorf("unmarshal payload for kind %q: %w", kind, err)
		}
	}
	return t, nil
}

// Handler returns the handler for the given kind.
// Returns false if the kind is not registered.
func (r *Registry) Handler(kind string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.kinds[kind]
	return e.handler, ok
}

// Has reports whether the kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

// Validate runs the kind's registered payload validator, if any.
// Unregistered kinds and kinds without validators validate trivially.
func (r *Registry) Validate(kind string, payload []byte) error {
	r.mu.RLock()
	e, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok || e.validate == nil {
		return nil
	}
	return e.validate(payload)
}

// DefaultOptions returns the per-kind default options.
func (r *Registry) DefaultOptions(kind string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[kind].opts
}

// Kinds returns all registered kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		kinds = append(kinds, kind)
	}
	return kinds
}
