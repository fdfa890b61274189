package csync

import (
	"errors"
	"fmt"
)

// Sentinel errors for terminal failure modes. These are never retried.
var (
	// ErrContainerNotFound means the container address itself does not
	// resolve. Terminal on first occurrence.
	ErrContainerNotFound = errors.New("no container found at this address")

	// ErrVersionNotFound means the container exists but the requested
	// version id does not.
	ErrVersionNotFound = errors.New("version not found in container history")

	// ErrContentNotFound means a blob is missing from the content store.
	ErrContentNotFound = errors.New("content not found")

	// ErrPayloadTooLarge means a file exceeds the configured upload
	// ceiling. Fatal for that file only, not for the rest of the sync.
	ErrPayloadTooLarge = errors.New("file exceeds the configured upload size limit")

	// ErrEntryExists means an add targets a path that already holds an
	// entry and force was not set.
	ErrEntryExists = errors.New("an entry already exists at the target path")

	// ErrPathNotFound means the container resolves but holds no entry at
	// the given path.
	ErrPathNotFound = errors.New("no entry found at the given path")
)

// ScanError reports that a local tree scan failed. Scans fail as a whole
// rather than silently skipping unreadable paths.
type ScanError struct {
	Root string
	Path string // the path that failed, may equal Root
	Err  error
}

func (e *ScanError) Error() string {
	if e.Path != "" && e.Path != e.Root {
		return fmt.Sprintf("scanning %s: %s: %v", e.Root, e.Path, e.Err)
	}
	return fmt.Sprintf("scanning %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ConflictError reports that a commit's expected prior version no longer
// matches the container's current version. The caller must re-fetch and
// re-diff; conflicts are never merged or retried here.
type ConflictError struct {
	Address    string
	ExpectedID string
	CurrentID  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("container %s was modified concurrently (expected version %s, found %s)",
		e.Address, short(e.ExpectedID), short(e.CurrentID))
}

// TransientError wraps a failure that is worth retrying, such as a network
// timeout or connection reset from a store backend. Only errors wrapped in
// TransientError are retried by the retry policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "<none>"
	}
	return id
}
