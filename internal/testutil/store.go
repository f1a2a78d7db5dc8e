package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/store"
)

// NewTestStore opens a SQLite store in a temporary directory. The store is
// closed when the test completes.
func NewTestStore(t *testing.T, mode upsert.Mode) *store.Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := NewTestLogger(t)
	s, err := store.New(ctx, store.Config{
		Driver:     store.DriverSQLite,
		Path:       filepath.Join(t.TempDir(), "profiles.db"),
		UpsertMode: mode,
		Logger:     &logger,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return s
}
