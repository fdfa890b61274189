package csync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Applier turns a diff into a new container map, uploading the content of
// added and modified files through the content store. Uploads for distinct
// paths are independent and run on a bounded worker pool; results are
// folded into the working map by a single accumulator, so the map never
// sees concurrent writers and its final state is independent of upload
// completion order.
type Applier struct {
	content       ContentStore
	retry         RetryPolicy
	maxUploadSize int64 // 0 means unlimited
	concurrency   int
	logger        Logger
	clock         Clock
}

// NewApplier creates an Applier. concurrency caps in-flight uploads and
// defaults to 4 when non-positive. maxUploadSize of 0 disables the ceiling.
func NewApplier(content ContentStore, retry RetryPolicy, maxUploadSize int64, concurrency int, logger Logger, clock Clock) *Applier {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Applier{
		content:       content,
		retry:         retry,
		maxUploadSize: maxUploadSize,
		concurrency:   concurrency,
		logger:        logger,
		clock:         clock,
	}
}

type uploadResult struct {
	path  string
	entry FileEntry
	err   error
}

// inflight deduplicates concurrent uploads of the same content id within a
// single invocation: the first worker to claim an id performs the write,
// later workers wait for its outcome.
type inflight struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	err  error
}

func newInflight() *inflight {
	return &inflight{calls: make(map[string]*inflightCall)}
}

// do runs fn for id exactly once across concurrent callers and returns its
// result to all of them.
func (f *inflight) do(id string, fn func() error) error {
	f.mu.Lock()
	if c, ok := f.calls[id]; ok {
		f.mu.Unlock()
		<-c.done
		return c.err
	}
	c := &inflightCall{done: make(chan struct{})}
	f.calls[id] = c
	f.mu.Unlock()

	c.err = fn()
	close(c.done)
	return c.err
}

// Apply builds the new container map from the prior map and the diff.
// Deletions are expressed purely by omission from the returned map; no
// remote delete call exists. Per-file failures (size ceiling, read errors,
// exhausted retries) are recorded in the report and do not abort the rest:
// a failed Modified keeps its prior entry, a failed Added is left out.
//
// When dryRun is set no store call is made; entries are still computed so
// the caller sees exactly what a real run would commit. The returned map is
// not committed; that is the committer's job.
func (a *Applier) Apply(ctx context.Context, prior ContainerMap, diffs []DiffEntry, dryRun bool) (ContainerMap, *Report) {
	newMap := prior.Clone()
	if newMap == nil {
		newMap = ContainerMap{}
	}
	report := &Report{}

	var uploads []DiffEntry
	for _, d := range diffs {
		switch d.Op {
		case OpDeleted:
			delete(newMap, d.Path)
			detail := ""
			if d.Old != nil {
				detail = d.Old.ContentID
			}
			report.add(d.Op.Marker(), d.Path, detail)
		case OpAdded, OpModified:
			uploads = append(uploads, d)
		}
	}

	if len(uploads) > 0 {
		flights := newInflight()
		jobs := make(chan DiffEntry)
		results := make(chan uploadResult)

		var wg sync.WaitGroup
		workers := a.concurrency
		if workers > len(uploads) {
			workers = len(uploads)
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for d := range jobs {
					entry, err := a.uploadOne(ctx, d, dryRun, flights)
					results <- uploadResult{path: d.Path, entry: entry, err: err}
				}
			}()
		}

		go func() {
			for _, d := range uploads {
				jobs <- d
			}
			close(jobs)
			wg.Wait()
			close(results)
		}()

		markers := make(map[string]string, len(uploads))
		for _, d := range uploads {
			markers[d.Path] = d.Op.Marker()
		}

		// Single accumulator: the only writer of newMap and report.
		for res := range results {
			if res.err != nil {
				report.addFailure(res.path, res.err)
				a.logger.Warn("skipping file", "path", res.path, "error", res.err)
				continue
			}
			newMap[res.path] = res.entry
			report.add(markers[res.path], res.path, res.entry.ContentID)
		}
	}

	report.Sort()
	return newMap, report
}

// uploadOne prepares the file entry for one added or modified path and
// stores its content unless the identical blob is already present. Regular
// files are streamed from disk under the content id the scanner computed;
// only symlink targets are held in memory.
func (a *Applier) uploadOne(ctx context.Context, d DiffEntry, dryRun bool, flights *inflight) (FileEntry, error) {
	lf := d.Local
	if lf == nil {
		return FileEntry{}, fmt.Errorf("no local file for %s", d.Path)
	}

	var (
		id   string
		size int64
		open func() (io.ReadCloser, error)
	)
	if lf.Symlink {
		target := []byte(lf.LinkTarget)
		id = AddressBytes(target)
		size = int64(len(target))
		open = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(target)), nil
		}
	} else {
		if a.maxUploadSize > 0 && lf.Size > a.maxUploadSize {
			return FileEntry{}, fmt.Errorf("%w (%d > %d bytes)", ErrPayloadTooLarge, lf.Size, a.maxUploadSize)
		}
		id = lf.ContentID
		size = lf.Size
		open = func() (io.ReadCloser, error) {
			return os.Open(lf.AbsPath)
		}
	}

	if !dryRun {
		err := flights.do(id, func() error {
			return a.putDeduped(ctx, id, size, open)
		})
		if err != nil {
			return FileEntry{}, err
		}
	}

	now := a.clock.Now().UTC()
	entry := FileEntry{
		ContentID:  id,
		Size:       size,
		MediaType:  GuessMediaType(d.Path),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if lf.Symlink {
		entry.MediaType = MediaTypeSymlink
	}
	// A modified file keeps its original creation timestamp.
	if d.Old != nil && !d.Old.CreatedAt.IsZero() {
		entry.CreatedAt = d.Old.CreatedAt
	}
	return entry, nil
}

// putDeduped skips the physical write when the blob already exists; the
// entry is recorded either way. Transient store failures go through the
// retry policy, and open runs per attempt so every retry streams the
// content from the start.
func (a *Applier) putDeduped(ctx context.Context, id string, size int64, open func() (io.ReadCloser, error)) error {
	exists, err := a.content.Has(ctx, id)
	if err != nil {
		return fmt.Errorf("checking for existing content: %w", err)
	}
	if exists {
		a.logger.Debug("content deduplicated", "id", id)
		return nil
	}

	return a.retry.Do(ctx, func(ctx context.Context) error {
		r, err := open()
		if err != nil {
			return fmt.Errorf("opening content: %w", err)
		}
		defer r.Close()
		return a.content.Put(ctx, id, r, size)
	})
}
