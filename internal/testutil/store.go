package testutil

import (
	"csync-go/internal/store"
)

// NewTestContentStore creates a new in-memory content store for testing.
func NewTestContentStore() *store.MemoryStore {
	return store.NewMemoryStore()
}
