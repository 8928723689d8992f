package cbuildbot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chromite/internal/config"
	"chromite/internal/gs"
	"chromite/internal/services"
)

// Builder runs the stages of one builder class.
type Builder interface {
	RunStages(ctx context.Context) error
}

// Env carries the services stages need.
type Env struct {
	Config   *config.Config
	Commands services.Runner
	OpenGS   func(ctx context.Context) (*gs.Context, error)
	Logger   *slog.Logger
}

// Factory creates the builder for a run.
type Factory func(runner *Runner, env Env) Builder

// Registry maps builder_class names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a builder class. Registering a class twice panics.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[class]; dup {
		panic("cbuildbot: builder class registered twice: " + class)
	}
	r.factories[class] = f
}

// Lookup returns the factory for class.
func (r *Registry) Lookup(class string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[class]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "cbuildbot", "lookup builder",
			fmt.Sprintf("unknown builder_class %q", class), nil)
	}
	return f, nil
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
