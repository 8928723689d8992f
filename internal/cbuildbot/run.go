package cbuildbot

import (
	"path/filepath"
	"sync"
	"time"

	"chromite/internal/builderconfig"
)

// Options are the command line overrides for one run.
type Options struct {
	Buildroot string
	// Boards replaces the builder's board list when set.
	Boards  []string
	Version string
	DryRun  bool
	Debug   bool
}

// BuilderRun is the state shared by every stage of one build.
type BuilderRun struct {
	ID      int64
	UUID    string
	Config  builderconfig.Builder
	Options Options
	Attrs   *Attrs
	Started time.Time
}

// Boards returns the boards this run builds.
func (r *BuilderRun) Boards() []string {
	if len(r.Options.Boards) > 0 {
		return r.Options.Boards
	}
	return r.Config.Boards
}

// Version is the build version stamped on images and archives.
func (r *BuilderRun) Version() string {
	if r.Options.Version != "" {
		return r.Options.Version
	}
	id := r.UUID
	if len(id) > 8 {
		id = id[:8]
	}
	return "local-" + id
}

// ArchiveDir is the local directory holding metadata and archived files.
func (r *BuilderRun) ArchiveDir() string {
	return filepath.Join(r.Options.Buildroot, "archive", r.Config.Name, r.Version())
}

// Attrs carries values between stages, possibly from parallel goroutines.
type Attrs struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewAttrs returns an empty store.
func NewAttrs() *Attrs {
	return &Attrs{values: map[string]any{}}
}

// BoardKey scopes key to a board.
func BoardKey(board, key string) string {
	return board + "/" + key
}

// Set stores value under key.
func (a *Attrs) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
}

// Get returns the value stored under key.
func (a *Attrs) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// GetString returns a string value, or "" when unset or of another type.
func (a *Attrs) GetString(key string) string {
	v, _ := a.Get(key)
	s, _ := v.(string)
	return s
}

// Snapshot copies every value.
func (a *Attrs) Snapshot() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// AttrValue returns the value under key when it has type T.
func AttrValue[T any](a *Attrs, key string) (T, bool) {
	v, ok := a.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
