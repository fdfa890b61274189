package scan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"csync-go/internal/csync"
	"csync-go/internal/testutil"
)

func TestScanRecursive(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"a.txt":          "alpha",
		"sub/b.txt":      "beta",
		"sub/deep/c.txt": "gamma",
		".hidden":        "dot",
	})

	files, err := NewTreeScanner().Scan(root, true)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	want := []string{".hidden", "a.txt", "sub/b.txt", "sub/deep/c.txt"}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %d: %+v", len(want), len(files), files)
	}
	for i, path := range want {
		if files[i].Path != path {
			t.Errorf("position %d: expected %s, got %s", i, path, files[i].Path)
		}
	}

	if files[1].ContentID != testutil.SHA256Hex([]byte("alpha")) {
		t.Errorf("wrong content id for a.txt: %s", files[1].ContentID)
	}
	if files[1].Size != 5 {
		t.Errorf("wrong size for a.txt: %d", files[1].Size)
	}
}

func TestScanNonRecursive(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	files, err := NewTreeScanner().Scan(root, false)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(files) != 1 || files[0].Path != "a.txt" {
		t.Fatalf("expected only the top-level file, got %+v", files)
	}
}

func TestScanSingleFileRoot(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{"only.txt": "solo"})

	files, err := NewTreeScanner().Scan(filepath.Join(root, "only.txt"), false)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].Path != "only.txt" {
		t.Errorf("expected base name as path, got %s", files[0].Path)
	}
	if files[0].ContentID != testutil.SHA256Hex([]byte("solo")) {
		t.Errorf("wrong content id: %s", files[0].ContentID)
	}
}

func TestScanMissingRoot(t *testing.T) {
	_, err := NewTreeScanner().Scan(filepath.Join(t.TempDir(), "nope"), true)

	var scanErr *csync.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected a ScanError, got %v", err)
	}
}

func TestScanSymlinks(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{"target.txt": "real"})

	if err := os.Symlink("target.txt", filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks not supported here: %v", err)
	}
	if err := os.Symlink("missing.txt", filepath.Join(root, "dangling")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	files, err := NewTreeScanner().Scan(root, true)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	byPath := make(map[string]csync.LocalFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}

	link := byPath["link"]
	if !link.Symlink || link.Broken {
		t.Errorf("expected a healthy symlink, got %+v", link)
	}
	if link.LinkTarget != "target.txt" {
		t.Errorf("wrong link target: %s", link.LinkTarget)
	}
	if link.ContentID != csync.AddressBytes([]byte("target.txt")) {
		t.Error("symlink content id should address the target string")
	}

	dangling := byPath["dangling"]
	if !dangling.Symlink || !dangling.Broken {
		t.Errorf("expected a broken symlink, got %+v", dangling)
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".hidden", true},
		{"dir/.hidden", true},
		{"visible.txt", false},
		{".", false},
		{"..", false},
	}

	for _, tt := range tests {
		if got := IsHidden(tt.path); got != tt.want {
			t.Errorf("IsHidden(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
