package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"csync-go/internal/csync"
)

// MemoryStore is an in-memory implementation of the ContentStore interface,
// useful for testing. Safe for concurrent use.
type MemoryStore struct {
	blobs  map[string][]byte
	writes int
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory content store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores content under its id. Idempotent.
func (m *MemoryStore) Put(_ context.Context, id string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = data
	m.writes++
	return nil
}

// Has reports whether a blob with the given id exists.
func (m *MemoryStore) Has(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok, nil
}

// Get retrieves a blob by id.
func (m *MemoryStore) Get(_ context.Context, id string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", csync.ErrContentNotFound, id)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error { return nil }

// Writes returns the number of physical Put calls that reached the store,
// which tests use to assert content-addressed dedup.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Compile-time check that MemoryStore implements csync.ContentStore
var _ csync.ContentStore = (*MemoryStore)(nil)
