package testutil

import (
	"testing"

	"csync-go/internal/containerdb"
)

// NewTestContainerStore creates a new in-memory SQLite container store with
// the schema applied. The store is automatically closed when the test
// completes.
func NewTestContainerStore(t *testing.T) *containerdb.SQLiteStore {
	t.Helper()

	db, err := containerdb.NewSQLiteStore(":memory:", FixedClock(), NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open container store: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
