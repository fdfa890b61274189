package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteTree materializes files into a fresh temp directory and returns its
// path. Keys are slash-separated relative paths; intermediate directories
// are created as needed. The directory is removed when the test completes.
func WriteTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
	return root
}
