package csync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MediaTypeRaw is recorded for files whose media type cannot be guessed
// from the extension.
const MediaTypeRaw = "Raw"

// MediaTypeSymlink marks entries whose blob content is a symlink target
// rather than file data.
const MediaTypeSymlink = "inode/symlink"

// FileEntry is one file's metadata plus the pointer to its content blob.
// Entries are owned by a container version's map and never mutated in place.
type FileEntry struct {
	ContentID  string
	Size       int64
	MediaType  string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// ContainerMap maps normalized container paths ("/a/b.txt") to file entries.
// Key order is irrelevant to equality; all rendered output sorts keys.
type ContainerMap map[string]FileEntry

// Paths returns the map's keys sorted lexicographically.
func (m ContainerMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a shallow copy of the map.
func (m ContainerMap) Clone() ContainerMap {
	out := make(ContainerMap, len(m))
	for p, e := range m {
		out[p] = e
	}
	return out
}

// HasPrefix reports whether any key in the map lives under the given
// directory path (i.e. the path exists in the map as an implied directory).
func (m ContainerMap) HasPrefix(dir string) bool {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for p := range m {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Hash returns the SHA-256 hex digest of the map's canonical serialization:
// one line per entry, sorted by path. Two maps with the same entries always
// hash identically, so this digest doubles as the version id.
func (m ContainerMap) Hash() string {
	h := sha256.New()
	for _, p := range m.Paths() {
		e := m[p]
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00%d\x00%d\n",
			p, e.ContentID, e.Size, e.MediaType,
			e.CreatedAt.UTC().UnixNano(), e.ModifiedAt.UTC().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Version is one immutable published state of a container.
type Version struct {
	ID          string // hash of the map's canonical serialization
	Seq         int64  // 0-based position in the container's history
	PriorID     string // empty for the first version
	Map         ContainerMap
	CommittedAt time.Time
}

// LocalFile is one file found by a local tree scan. It exists only for the
// duration of a single sync invocation.
type LocalFile struct {
	Path       string // relative to the scan root, '/'-separated
	AbsPath    string
	Size       int64
	Mtime      time.Time
	ContentID  string
	Symlink    bool
	LinkTarget string
	Broken     bool // symlink whose target does not resolve
}

// NormalizePath turns p into a container path key: '/'-separated, absolute,
// no trailing slash (except the root itself).
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// JoinPath joins a base container path and a relative path into a key.
func JoinPath(base, rel string) string {
	base = NormalizePath(base)
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
	if rel == "" {
		return base
	}
	if base == "/" {
		return "/" + rel
	}
	return base + "/" + rel
}
