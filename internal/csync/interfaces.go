package csync

import (
	"context"
	"io"
)

// ContentStore is the blob side of the system: an immutable, content-addressed
// byte store. All operations use io.Reader/io.Writer for streaming so large
// files never have to fit in memory.
type ContentStore interface {
	// Put stores content under its content id. The operation is
	// idempotent: storing the same id multiple times is safe.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, id string, r io.Reader, size int64) error

	// Has reports whether content with the given id is already stored.
	Has(ctx context.Context, id string) (bool, error)

	// Get retrieves content by id and writes it to w.
	// Returns ErrContentNotFound when the id is unknown.
	Get(ctx context.Context, id string, w io.Writer) error

	// ValidateSetup verifies that the store is accessible and properly
	// configured.
	ValidateSetup(ctx context.Context) error
}

// ContainerStore is the versioned side of the system: a path→entry map with
// an immutable, totally ordered version history per container.
type ContainerStore interface {
	// CreateContainer allocates a new empty container and returns its
	// address. The container has no version until the first commit.
	CreateContainer(ctx context.Context) (string, error)

	// Fetch returns the requested version of a container's map.
	// An empty versionID resolves to the latest version.
	// Returns (nil, nil) when the container exists but holds no version
	// yet, ErrContainerNotFound when the address does not resolve, and
	// ErrVersionNotFound when the pinned version id is unknown.
	Fetch(ctx context.Context, address, versionID string) (*Version, error)

	// Commit atomically publishes m as the container's new version.
	// expectedPriorID must match the container's current version id
	// (empty for a container with no version yet); on mismatch Commit
	// fails with a *ConflictError and nothing changes.
	Commit(ctx context.Context, address string, m ContainerMap, expectedPriorID string) (*Version, error)
}

// Logger provides structured logging for the service layer.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}
