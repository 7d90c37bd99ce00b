// Package capability defines the worker contract and the closed registry
// mapping directive types to workers. The registry is resolved at startup;
// unknown or duplicate registrations fail fast instead of surfacing at
// invocation time.
package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/afcen/overseer/internal/domain/directive"
)

// Result is the opaque output a worker produces for a directive.
type Result struct {
	Summary string            `json:"summary"`
	Data    map[string]string `json:"data,omitempty"`
}

// Worker is the contract an external capability declares. The core never
// inspects a worker's internals, only its declared types, deadline, and
// Result/error shape.
type Worker interface {
	// Name returns the unique worker identifier, e.g. "code_review".
	Name() string

	// AcceptedTypes returns the directive types this worker handles.
	AcceptedTypes() []directive.Type

	// Deadline is the compute budget for a single invocation.
	Deadline() time.Duration

	// Invoke executes the worker's domain logic for one directive.
	Invoke(ctx context.Context, d directive.Directive) (*Result, error)
}

// Registry maps each directive type to exactly one worker.
type Registry struct {
	byType map[directive.Type]Worker
}

// NewRegistry builds the closed registry. Registering a worker for an
// unknown type, or two workers for the same type, is a startup error.
func NewRegistry(workers ...Worker) (*Registry, error) {
	r := &Registry{byType: make(map[directive.Type]Worker)}
	for _, w := range workers {
		for _, t := range w.AcceptedTypes() {
			if !directive.KnownTypes[t] {
				return nil, fmt.Errorf("worker %s declares unknown type %q", w.Name(), t)
			}
			if prev, dup := r.byType[t]; dup {
				return nil, fmt.Errorf("type %q claimed by both %s and %s", t, prev.Name(), w.Name())
			}
			r.byType[t] = w
		}
	}
	return r, nil
}

// Lookup returns the single worker accepting the given type.
func (r *Registry) Lookup(t directive.Type) (Worker, bool) {
	w, ok := r.byType[t]
	return w, ok
}

// Workers returns the distinct registered workers, for health reporting.
func (r *Registry) Workers() []Worker {
	seen := make(map[string]bool)
	var out []Worker
	for _, w := range r.byType {
		if !seen[w.Name()] {
			seen[w.Name()] = true
			out = append(out, w)
		}
	}
	return out
}
