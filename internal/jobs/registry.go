package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one claimed job. Returning nil completes the job; a plain
// error schedules a retry (until the attempt budget runs out); an error
// wrapped with Discard finalizes the job immediately.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Registry maps job kinds to handlers. Registration happens during fx
// startup; lookups after that are read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job kind. Registering the same kind twice is
// a wiring bug and returns an error.
func (r *Registry) Register(kind string, handler Handler) error {
	if kind == "" {
		return fmt.Errorf("register handler: kind is required")
	}
	if handler == nil {
		return fmt.Errorf("register handler %s: handler is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("register handler %s: already registered", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// MustRegister is Register that panics on error, for use in fx invoke hooks
// where a duplicate registration should abort startup.
func (r *Registry) MustRegister(kind string, handler Handler) {
	if err := r.Register(kind, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for a kind, or false if none is registered.
func (r *Registry) Lookup(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
