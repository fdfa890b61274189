package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"csync-go/internal/csync"
)

// FileSystemStore is a filesystem-backed implementation of the ContentStore
// interface. Blobs live under a single directory, named by content id:
//
//	<root>/
//	  blobs/
//	    <content-id>
type FileSystemStore struct {
	root    string
	blobDir string
}

// NewFileSystemStore creates a content store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	blobDir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileSystemStore{root: root, blobDir: blobDir}, nil
}

// Put stores content under its id. Storing an id that already exists is a
// no-op apart from draining r; content-addressed blobs never change.
func (s *FileSystemStore) Put(_ context.Context, id string, r io.Reader, size int64) error {
	destPath := filepath.Join(s.blobDir, id)

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return s.writeFile(destPath, r, size)
}

// Has reports whether a blob with the given id exists.
func (s *FileSystemStore) Has(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.blobDir, id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

// Get retrieves a blob by id and writes it to w.
func (s *FileSystemStore) Get(_ context.Context, id string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.blobDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", csync.ErrContentNotFound, id)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup(_ context.Context) error {
	for _, dir := range []string{s.root, s.blobDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements csync.ContentStore
var _ csync.ContentStore = (*FileSystemStore)(nil)
