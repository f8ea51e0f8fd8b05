package job

import "context"

// Definition is a typed job kind definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Kind is the unique discriminator for this work type.
	Kind string

	// Handler is the function that processes the job payload.
	Handler func(ctx context.Context, payload T) error

	// Validate is an optional payload validator invoked at admission.
	// The engine itself never inspects payloads; shape checks belong to
	// the kind that declared them.
	Validate func(payload T) error

	// Opts are default options for jobs of this kind.
	Opts Options
}

// NewDefinition creates a typed job kind definition.
func NewDefinition[T any](kind string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Kind:    kind,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// WithValidator attaches a payload validator and returns the definition
// for chaining.
func (d *Definition[T]) WithValidator(fn func(payload T) error) *Definition[T] {
	d.Validate = fn
	return d
}
