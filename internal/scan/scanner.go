package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"csync-go/internal/csync"
)

// TreeScanner walks a local directory and produces the flat, path-keyed
// inventory the diff engine consumes. The walk is read-only; content ids
// are computed while streaming each file so the diff engine never touches
// the filesystem. Scans fail as a whole on any unreadable path rather than
// silently skipping it.
type TreeScanner struct{}

// NewTreeScanner creates a scanner over the real filesystem.
func NewTreeScanner() *TreeScanner {
	return &TreeScanner{}
}

// Scan inventories root. A root pointing at a regular file yields exactly
// that file. For directories, recursive=false includes only files directly
// under the root; hidden (dot-prefixed) files are always included. Symlinks
// are recorded as their own kind and never followed; a symlink whose target
// does not resolve is flagged broken. The result is sorted by path.
func (s *TreeScanner) Scan(root string, recursive bool) ([]csync.LocalFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &csync.ScanError{Root: root, Err: err}
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return nil, &csync.ScanError{Root: root, Err: err}
	}

	if !info.IsDir() {
		lf, err := s.inventoryOne(absRoot, filepath.Base(absRoot), info)
		if err != nil {
			return nil, &csync.ScanError{Root: root, Path: absRoot, Err: err}
		}
		return []csync.LocalFile{lf}, nil
	}

	var files []csync.LocalFile

	if recursive {
		err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(absRoot, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			lf, err := s.inventoryOne(p, rel, info)
			if err != nil {
				return err
			}
			files = append(files, lf)
			return nil
		})
		if err != nil {
			return nil, &csync.ScanError{Root: root, Err: err}
		}
	} else {
		entries, err := os.ReadDir(absRoot)
		if err != nil {
			return nil, &csync.ScanError{Root: root, Err: err}
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, &csync.ScanError{Root: root, Path: entry.Name(), Err: err}
			}
			p := filepath.Join(absRoot, entry.Name())
			lf, err := s.inventoryOne(p, entry.Name(), info)
			if err != nil {
				return nil, &csync.ScanError{Root: root, Path: p, Err: err}
			}
			files = append(files, lf)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// inventoryOne builds the LocalFile for a single path. rel is the path
// relative to the scan root.
func (s *TreeScanner) inventoryOne(absPath, rel string, info fs.FileInfo) (csync.LocalFile, error) {
	lf := csync.LocalFile{
		Path:    filepath.ToSlash(rel),
		AbsPath: absPath,
		Size:    info.Size(),
		Mtime:   info.ModTime(),
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(absPath)
		if err != nil {
			return csync.LocalFile{}, fmt.Errorf("reading symlink: %w", err)
		}
		lf.Symlink = true
		lf.LinkTarget = target
		lf.Size = int64(len(target))
		lf.ContentID = csync.AddressBytes([]byte(target))
		if _, err := os.Stat(absPath); err != nil {
			lf.Broken = true
		}
		return lf, nil
	}

	if !info.Mode().IsRegular() {
		return csync.LocalFile{}, fmt.Errorf("%s is not a regular file", absPath)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return csync.LocalFile{}, err
	}
	defer f.Close()

	id, size, err := csync.Address(f)
	if err != nil {
		return csync.LocalFile{}, fmt.Errorf("hashing %s: %w", absPath, err)
	}
	lf.ContentID = id
	lf.Size = size
	return lf, nil
}

// IsHidden reports whether the final path element is dot-prefixed. Hidden
// files are included in scans; this exists for callers that want to warn
// about them.
func IsHidden(p string) bool {
	base := filepath.Base(p)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// Compile-time check that TreeScanner implements csync.Scanner
var _ csync.Scanner = (*TreeScanner)(nil)
