package csync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Scanner produces a flat inventory of a local directory tree.
type Scanner interface {
	Scan(root string, recursive bool) ([]LocalFile, error)
}

// Service runs the sync pipeline: scan, diff, apply, commit. One Service is
// wired per session and holds no per-invocation state; each call runs the
// pipeline as a single logical sequence.
type Service struct {
	containers ContainerStore
	content    ContentStore
	scanner    Scanner
	applier    *Applier
	retry      RetryPolicy
	logger     Logger
	clock      Clock
}

// NewService creates a Service with the provided collaborators.
func NewService(containers ContainerStore, content ContentStore, scanner Scanner, applier *Applier, retry RetryPolicy, logger Logger, clock Clock) *Service {
	return &Service{
		containers: containers,
		content:    content,
		scanner:    scanner,
		applier:    applier,
		retry:      retry,
		logger:     logger,
		clock:      clock,
	}
}

// PutOptions control a put invocation.
type PutOptions struct {
	Recursive bool
	DryRun    bool
}

// SyncOptions control a sync invocation. Delete is only honored together
// with Recursive.
type SyncOptions struct {
	Recursive bool
	Delete    bool
	DryRun    bool
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	URL     *ContainerURL
	Version *Version // nil on dry runs and pure-conflict outcomes
	Map     ContainerMap
	Diff    []DiffEntry
	Report  *Report
	State   State
	Elapsed time.Duration
}

// Put uploads a local file or tree into a brand-new container and commits
// its first version. dest is the base container path the tree is nested
// under ("/" when empty). On dry runs no container is created and nothing
// is written; the returned result carries the would-be map and report.
func (s *Service) Put(ctx context.Context, localPath, dest string, opts PutOptions) (*Result, error) {
	start := s.clock.Now()
	if dest == "" {
		dest = "/"
	}

	s.logger.Debug("state transition", "state", StateScanning)
	local, err := s.scanner.Scan(localPath, opts.Recursive)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("state transition", "state", StateDiffing)
	diffs := Diff(local, nil, dest, opts.Recursive, false)

	s.logger.Debug("state transition", "state", StateApplying)
	newMap, report := s.applier.Apply(ctx, nil, diffs, opts.DryRun)

	res := &Result{Map: newMap, Diff: diffs, Report: report, State: StateCommitted}
	if opts.DryRun {
		res.Elapsed = s.clock.Now().Sub(start)
		return res, nil
	}

	address, err := s.containers.CreateContainer(ctx)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("creating container: %w", err)
	}
	res.URL = &ContainerURL{Address: address, Path: "/"}

	s.logger.Debug("state transition", "state", StateCommitting)
	version, err := s.commit(ctx, address, newMap, "")
	if err != nil {
		res.State = StateFailed
		return res, err
	}

	res.Version = version
	res.Elapsed = s.clock.Now().Sub(start)
	s.logger.Info("container created",
		"address", address, "version", short(version.ID), "files", len(newMap))
	return res, nil
}

// Sync reconciles a local file or tree against an existing container and
// commits the resulting map as a new version. The URL's path is the base
// under which local paths are keyed; the URL must not pin a version.
// A sync with no changes commits nothing and returns the current version.
func (s *Service) Sync(ctx context.Context, localPath, rawURL string, opts SyncOptions) (*Result, error) {
	start := s.clock.Now()
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Version != "" {
		return nil, fmt.Errorf("target URL cannot contain a version: %s", rawURL)
	}

	current, err := s.fetch(ctx, u.Address, "")
	if err != nil {
		return nil, err
	}
	var priorMap ContainerMap
	var priorID string
	if current != nil {
		priorMap = current.Map
		priorID = current.ID
	}

	s.logger.Debug("state transition", "state", StateScanning)
	local, err := s.scanner.Scan(localPath, opts.Recursive)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("state transition", "state", StateDiffing)
	diffs := Diff(local, priorMap, u.Path, opts.Recursive, opts.Delete)

	s.logger.Debug("state transition", "state", StateApplying)
	newMap, report := s.applier.Apply(ctx, priorMap, diffs, opts.DryRun)

	res := &Result{URL: u, Map: newMap, Diff: diffs, Report: report, State: StateCommitted}
	if opts.DryRun {
		res.Elapsed = s.clock.Now().Sub(start)
		return res, nil
	}

	// Nothing changed: do not create a new version.
	if ChangeCount(diffs) == 0 || (current != nil && newMap.Hash() == current.ID) {
		res.Version = current
		res.Elapsed = s.clock.Now().Sub(start)
		s.logger.Info("container already up to date", "address", u.Address)
		return res, nil
	}

	s.logger.Debug("state transition", "state", StateCommitting)
	version, err := s.commit(ctx, u.Address, newMap, priorID)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			res.State = StateConflict
		} else {
			res.State = StateFailed
		}
		return res, err
	}

	res.Version = version
	res.Elapsed = s.clock.Now().Sub(start)
	s.logger.Info("container synced",
		"address", u.Address, "version", short(version.ID),
		"changes", ChangeCount(diffs), "failed", report.Failed())
	return res, nil
}

// Add places a single entry into a container without a full tree scan.
// source is either a local file path or a csync:// URL of already-stored
// content (added as a link, no re-upload). When the target URL's path ends
// in "/" (or is the root) the source's base name is appended. An existing
// entry at the target path is only replaced when force is set.
func (s *Service) Add(ctx context.Context, source, rawURL string, force bool) (*Result, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Version != "" {
		return nil, fmt.Errorf("target URL cannot contain a version: %s", rawURL)
	}

	current, err := s.fetch(ctx, u.Address, "")
	if err != nil {
		return nil, err
	}
	var priorMap ContainerMap
	var priorID string
	if current != nil {
		priorMap = current.Map
		priorID = current.ID
	}

	var entry FileEntry
	var sourceName string
	if IsContainerURL(source) {
		entry, sourceName, err = s.entryFromLink(ctx, source)
	} else {
		entry, sourceName, err = s.entryFromLocalFile(ctx, source)
	}
	if err != nil {
		return nil, err
	}

	key := u.Path
	if key == "/" || strings.HasSuffix(rawURL, "/") {
		key = JoinPath(key, sourceName)
	}

	newMap := priorMap.Clone()
	if newMap == nil {
		newMap = ContainerMap{}
	}
	marker := OpAdded.Marker()
	if old, ok := newMap[key]; ok {
		if old.ContentID == entry.ContentID {
			return nil, fmt.Errorf("%w: %s holds the same content", ErrEntryExists, key)
		}
		if !force {
			return nil, fmt.Errorf("%w: %s (use force to replace it)", ErrEntryExists, key)
		}
		entry.CreatedAt = old.CreatedAt
		marker = OpModified.Marker()
	}
	newMap[key] = entry

	version, err := s.commit(ctx, u.Address, newMap, priorID)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	report.add(marker, key, entry.ContentID)
	s.logger.Info("entry added", "address", u.Address, "path", key, "version", short(version.ID))
	return &Result{URL: u, Version: version, Map: newMap, Report: report, State: StateCommitted}, nil
}

// Remove deletes the entry at the URL's path, or the whole subtree under it
// when recursive is set. Removing an implied directory without recursive is
// an error. Deletion is expressed purely by omission from the new map.
func (s *Service) Remove(ctx context.Context, rawURL string, recursive bool) (*Result, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Version != "" {
		return nil, fmt.Errorf("target URL cannot contain a version: %s", rawURL)
	}
	if u.Path == "/" && !recursive {
		return nil, fmt.Errorf("removing the container root requires the recursive flag")
	}

	current, err := s.fetch(ctx, u.Address, "")
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, u.Path)
	}

	newMap := current.Map.Clone()
	report := &Report{}

	if entry, ok := newMap[u.Path]; ok {
		delete(newMap, u.Path)
		report.add(OpDeleted.Marker(), u.Path, entry.ContentID)
	} else if current.Map.HasPrefix(u.Path) || u.Path == "/" {
		if !recursive {
			return nil, fmt.Errorf("%s is a directory, removing it requires the recursive flag", u.Path)
		}
		prefix := strings.TrimSuffix(u.Path, "/") + "/"
		if u.Path == "/" {
			prefix = "/"
		}
		for _, p := range current.Map.Paths() {
			if strings.HasPrefix(p, prefix) {
				report.add(OpDeleted.Marker(), p, newMap[p].ContentID)
				delete(newMap, p)
			}
		}
	} else {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, u.Path)
	}

	version, err := s.commit(ctx, u.Address, newMap, current.ID)
	if err != nil {
		return nil, err
	}

	report.Sort()
	s.logger.Info("entries removed",
		"address", u.Address, "count", len(report.Lines), "version", short(version.ID))
	return &Result{URL: u, Version: version, Map: newMap, Report: report, State: StateCommitted}, nil
}

// Fetch resolves a container URL read-only: the version pinned by `?v=` or
// the latest, with the map filtered to the URL's sub-path. No pipeline
// runs. A container with no version yet resolves to an empty map.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*Version, ContainerMap, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	version, err := s.fetch(ctx, u.Address, u.Version)
	if err != nil {
		return nil, nil, err
	}
	if version == nil {
		return nil, ContainerMap{}, nil
	}
	return version, Subtree(version.Map, u.Path), nil
}

// Subtree filters m to the entry at base plus all entries under it. The
// returned keys keep their full container paths.
func Subtree(m ContainerMap, base string) ContainerMap {
	base = NormalizePath(base)
	if base == "/" {
		return m
	}
	out := ContainerMap{}
	prefix := base + "/"
	for p, e := range m {
		if p == base || strings.HasPrefix(p, prefix) {
			out[p] = e
		}
	}
	return out
}

// fetch is the retrying wrapper around ContainerStore.Fetch. Transient
// transport errors are retried; a definitive not-found is terminal on the
// first occurrence and never retried.
func (s *Service) fetch(ctx context.Context, address, versionID string) (*Version, error) {
	var version *Version
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		version, err = s.containers.Fetch(ctx, address, versionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// commit is the retrying wrapper around ContainerStore.Commit. Transient
// errors are retried with backoff; a version conflict is definitive and
// surfaces immediately.
func (s *Service) commit(ctx context.Context, address string, m ContainerMap, expectedPriorID string) (*Version, error) {
	var version *Version
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		version, err = s.containers.Commit(ctx, address, m, expectedPriorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// entryFromLocalFile addresses a single local file through the scanner and
// streams its content (deduplicated) into the content store.
func (s *Service) entryFromLocalFile(ctx context.Context, source string) (FileEntry, string, error) {
	lf, err := s.scanner.Scan(source, false)
	if err != nil {
		return FileEntry{}, "", err
	}
	if len(lf) != 1 {
		return FileEntry{}, "", fmt.Errorf("%s is not a single file", source)
	}

	d := DiffEntry{Op: OpAdded, Path: NormalizePath(lf[0].Path), Local: &lf[0]}
	entry, err := s.applier.uploadOne(ctx, d, false, newInflight())
	if err != nil {
		return FileEntry{}, "", err
	}
	return entry, path.Base(lf[0].Path), nil
}

// entryFromLink builds an entry pointing at content already in the store,
// identified by a csync:// URL whose path is the content id. No upload
// happens; the content must exist.
func (s *Service) entryFromLink(ctx context.Context, source string) (FileEntry, string, error) {
	u, err := ParseURL(source)
	if err != nil {
		return FileEntry{}, "", err
	}
	id := strings.TrimPrefix(u.Path, "/")
	if id == "" {
		return FileEntry{}, "", fmt.Errorf("source link %s does not identify content", source)
	}

	var buf bytes.Buffer
	if err := s.content.Get(ctx, id, &buf); err != nil {
		return FileEntry{}, "", fmt.Errorf("resolving source link: %w", err)
	}

	now := s.clock.Now().UTC()
	return FileEntry{
		ContentID:  id,
		Size:       int64(buf.Len()),
		MediaType:  MediaTypeRaw,
		CreatedAt:  now,
		ModifiedAt: now,
	}, id, nil
}
