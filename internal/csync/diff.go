package csync

import (
	"sort"
	"strings"
)

// DiffOp classifies one path for one sync invocation.
type DiffOp int

const (
	OpUnchanged DiffOp = iota
	OpAdded
	OpModified
	OpDeleted
)

func (op DiffOp) String() string {
	switch op {
	case OpAdded:
		return "added"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

// Marker returns the single-character report marker for the op, matching
// the CLI's "+"/"*"/"-" output lines.
func (op DiffOp) Marker() string {
	switch op {
	case OpAdded:
		return "+"
	case OpModified:
		return "*"
	case OpDeleted:
		return "-"
	default:
		return "="
	}
}

// DiffEntry is the classification of one container path.
// Local is set for Added/Modified, Old for Modified/Deleted.
type DiffEntry struct {
	Op    DiffOp
	Path  string
	Local *LocalFile
	Old   *FileEntry
}

// Diff compares a local inventory against a remote container map and
// classifies every path. Local paths are keyed under base ("/" by default),
// preserving their relative hierarchy. Content ids decide modified vs
// unchanged; size and mtime are never consulted. Remote-only paths produce
// Deleted entries only when both delete and recursive are set; otherwise
// they are left untouched and do not appear in the diff at all.
//
// Kind conflicts are the exception to that gate: a path that is a file on
// one side and an implied directory on the other is reported as a Deleted
// for the stale kind plus an Added for the new kind whatever the flags say.
// The map cannot hold a file entry and entries beneath it at once, so
// conflicting kinds are never silently merged.
//
// The result is sorted lexicographically by path so output is reproducible.
func Diff(local []LocalFile, remote ContainerMap, base string, recursive, delete bool) []DiffEntry {
	if remote == nil {
		remote = ContainerMap{}
	}

	localByKey := make(map[string]*LocalFile, len(local))
	for i := range local {
		lf := &local[i]
		localByKey[JoinPath(base, lf.Path)] = lf
	}

	var diffs []DiffEntry
	seenRemote := make(map[string]bool, len(remote))

	for key, lf := range localByKey {
		if old, ok := remote[key]; ok {
			seenRemote[key] = true
			oldCopy := old
			if old.ContentID == lf.ContentID {
				diffs = append(diffs, DiffEntry{Op: OpUnchanged, Path: key, Local: lf, Old: &oldCopy})
			} else {
				diffs = append(diffs, DiffEntry{Op: OpModified, Path: key, Local: lf, Old: &oldCopy})
			}
			continue
		}

		// A remote file entry at a strict prefix of this key means the
		// kinds conflict: the remote file must go before the local tree
		// can take its place.
		if stale, stalePath, ok := fileAtPrefix(remote, key); ok && !seenRemote[stalePath] {
			seenRemote[stalePath] = true
			diffs = append(diffs, DiffEntry{Op: OpDeleted, Path: stalePath, Old: stale})
		}

		diffs = append(diffs, DiffEntry{Op: OpAdded, Path: key, Local: lf})
	}

	for key := range remote {
		if seenRemote[key] {
			continue
		}
		if _, ok := localByKey[key]; ok {
			continue
		}
		// Remote entries sitting under a path the local side uses for a
		// file are the other kind conflict and go unconditionally.
		if !(delete && recursive) && !underLocalFile(localByKey, key) {
			continue
		}
		old := remote[key]
		diffs = append(diffs, DiffEntry{Op: OpDeleted, Path: key, Old: &old})
	}

	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Path != diffs[j].Path {
			return diffs[i].Path < diffs[j].Path
		}
		// Deleted before Added on a kind-conflicted path.
		return diffs[i].Op == OpDeleted
	})
	return diffs
}

// underLocalFile reports whether a strict path prefix of key is a local
// file, i.e. a remote entry living below a path the local side now uses
// for a file.
func underLocalFile(local map[string]*LocalFile, key string) bool {
	dir := key
	for {
		idx := strings.LastIndex(dir, "/")
		if idx <= 0 {
			return false
		}
		dir = dir[:idx]
		if _, ok := local[dir]; ok {
			return true
		}
	}
}

// fileAtPrefix finds a remote file entry whose key is a strict path prefix
// of key, i.e. a remote file where the local side now has a directory.
func fileAtPrefix(remote ContainerMap, key string) (*FileEntry, string, bool) {
	dir := key
	for {
		idx := strings.LastIndex(dir, "/")
		if idx <= 0 {
			return nil, "", false
		}
		dir = dir[:idx]
		if e, ok := remote[dir]; ok {
			return &e, dir, true
		}
	}
}

// ChangeCount returns how many entries in diffs are actual changes
// (anything but Unchanged).
func ChangeCount(diffs []DiffEntry) int {
	n := 0
	for _, d := range diffs {
		if d.Op != OpUnchanged {
			n++
		}
	}
	return n
}
