package testsupport

import (
	"testing"

	"chromite/internal/buildstore"
	"chromite/internal/config"
)

// MustOpenStore opens a buildstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *buildstore.Store {
	t.Helper()

	store, err := buildstore.Open(cfg)
	if err != nil {
		t.Fatalf("buildstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
