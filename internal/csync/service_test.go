package csync_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"csync-go/internal/csync"
	"csync-go/internal/scan"
	"csync-go/internal/store"
	"csync-go/internal/testutil"
)

type fixture struct {
	containers csync.ContainerStore
	content    *store.MemoryStore
	service    *csync.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	containers := testutil.NewTestContainerStore(t)
	content := testutil.NewTestContentStore()
	applier := csync.NewApplier(content, fastRetry(), 0, 4, csync.NewNopLogger(), testutil.FixedClock())
	service := csync.NewService(containers, content, scan.NewTreeScanner(), applier,
		fastRetry(), csync.NewNopLogger(), testutil.FixedClock())
	return &fixture{containers: containers, content: content, service: service}
}

func TestServicePut(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	res, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if res.State != csync.StateCommitted {
		t.Errorf("expected committed state, got %s", res.State)
	}
	if res.URL == nil || res.URL.Address == "" {
		t.Fatal("expected a container URL")
	}
	if res.Version == nil || res.Version.Seq != 0 {
		t.Fatalf("expected first version at seq 0, got %+v", res.Version)
	}
	if res.Version.PriorID != "" {
		t.Error("first version must have no prior")
	}

	wantPaths := []string{"/a.txt", "/sub/b.txt"}
	gotPaths := res.Map.Paths()
	if len(gotPaths) != len(wantPaths) {
		t.Fatalf("expected %v, got %v", wantPaths, gotPaths)
	}
	for i := range wantPaths {
		if gotPaths[i] != wantPaths[i] {
			t.Errorf("expected path %s, got %s", wantPaths[i], gotPaths[i])
		}
	}

	// The committed version is fetchable.
	fetched, m, err := f.service.Fetch(context.Background(), res.URL.String())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if fetched.ID != res.Version.ID {
		t.Error("fetched version should match the committed one")
	}
	if m["/a.txt"].ContentID != testutil.SHA256Hex([]byte("alpha")) {
		t.Error("fetched entry carries the wrong content id")
	}
}

func TestServicePutNonRecursiveSkipsSubdirs(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	res, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if len(res.Map) != 1 {
		t.Fatalf("expected only the top-level file, got %v", res.Map.Paths())
	}
}

func TestServicePutDryRun(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "alpha"})

	res, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true, DryRun: true})
	if err != nil {
		t.Fatalf("dry-run put failed: %v", err)
	}

	if res.Version != nil || res.URL != nil {
		t.Error("dry run must not create a container or commit")
	}
	if f.content.Writes() != 0 {
		t.Errorf("dry run must not write content, got %d writes", f.content.Writes())
	}
	if len(res.Map) != 1 {
		t.Error("dry run should still report the would-be map")
	}
}

func TestServicePutOversizedFileSurfacesFailure(t *testing.T) {
	containers := testutil.NewTestContainerStore(t)
	content := testutil.NewTestContentStore()
	applier := csync.NewApplier(content, fastRetry(), 4, 4, csync.NewNopLogger(), testutil.FixedClock())
	service := csync.NewService(containers, content, scan.NewTreeScanner(), applier,
		fastRetry(), csync.NewNopLogger(), testutil.FixedClock())
	root := testutil.WriteTree(t, map[string]string{"big.bin": "well over four bytes"})

	res, err := service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed outright: %v", err)
	}

	if res.Report.Failed() != 1 {
		t.Fatalf("expected 1 failed file, got %d", res.Report.Failed())
	}
	// The report's error carries the per-file cause so the CLI exits
	// non-zero on a partially failed run.
	if rerr := res.Report.Err(); !errors.Is(rerr, csync.ErrPayloadTooLarge) {
		t.Errorf("report error should wrap the oversize failure, got %v", rerr)
	}
}

func TestServiceSyncIdempotent(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	opts := csync.SyncOptions{Recursive: true, Delete: true}
	res, err := f.service.Sync(context.Background(), root, put.URL.String(), opts)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if csync.ChangeCount(res.Diff) != 0 {
		t.Errorf("unchanged tree should produce no changes, got %d", csync.ChangeCount(res.Diff))
	}
	if res.Version == nil || res.Version.ID != put.Version.ID {
		t.Error("unchanged sync must not create a new version")
	}
	if res.Version.Seq != 0 {
		t.Errorf("expected history to stay at seq 0, got %d", res.Version.Seq)
	}
}

func TestServiceSyncCommitsChanges(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Modify one file, add one, remove one.
	writeFile(t, root, "a.txt", "alpha v2")
	writeFile(t, root, "c.txt", "gamma")
	removeFile(t, root, "b.txt")

	res, err := f.service.Sync(context.Background(), root, put.URL.String(),
		csync.SyncOptions{Recursive: true, Delete: true})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if res.Version.Seq != 1 {
		t.Errorf("expected seq 1, got %d", res.Version.Seq)
	}
	if res.Version.PriorID != put.Version.ID {
		t.Error("new version must link to its predecessor")
	}
	if res.Map["/a.txt"].ContentID != testutil.SHA256Hex([]byte("alpha v2")) {
		t.Error("modified entry should carry the new content id")
	}
	if _, ok := res.Map["/b.txt"]; ok {
		t.Error("deleted path should be gone from the new map")
	}
	if _, ok := res.Map["/c.txt"]; !ok {
		t.Error("added path missing from the new map")
	}
}

func TestServiceSyncWithoutDeleteKeepsRemoteOnly(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	removeFile(t, root, "b.txt")

	res, err := f.service.Sync(context.Background(), root, put.URL.String(),
		csync.SyncOptions{Recursive: true})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, ok := res.Map["/b.txt"]; !ok {
		t.Error("remote-only path must survive a sync without the delete flag")
	}
}

func TestServiceSyncRejectsVersionPin(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "alpha"})

	_, err := f.service.Sync(context.Background(), root, "csync://abc?v=deadbeef",
		csync.SyncOptions{Recursive: true})
	if err == nil {
		t.Fatal("sync against a pinned version must fail")
	}
}

func TestServiceSyncUnknownContainer(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "alpha"})

	_, err := f.service.Sync(context.Background(), root, "csync://no-such-address",
		csync.SyncOptions{Recursive: true})
	if !errors.Is(err, csync.ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}

// conflictStore simulates a concurrent writer: every commit fails with a
// version conflict.
type conflictStore struct {
	csync.ContainerStore
}

func (s *conflictStore) Commit(ctx context.Context, address string, m csync.ContainerMap, expectedPriorID string) (*csync.Version, error) {
	return nil, &csync.ConflictError{Address: address, ExpectedID: expectedPriorID, CurrentID: "someone-else"}
}

func TestServiceSyncConflict(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "alpha"})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	content := testutil.NewTestContentStore()
	applier := csync.NewApplier(content, fastRetry(), 0, 4, csync.NewNopLogger(), testutil.FixedClock())
	conflicted := csync.NewService(&conflictStore{ContainerStore: f.containers}, content,
		scan.NewTreeScanner(), applier, fastRetry(), csync.NewNopLogger(), testutil.FixedClock())

	writeFile(t, root, "a.txt", "alpha v2")

	res, err := conflicted.Sync(context.Background(), root, put.URL.String(),
		csync.SyncOptions{Recursive: true})

	var conflict *csync.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected a ConflictError, got %v", err)
	}
	if res == nil || res.State != csync.StateConflict {
		t.Errorf("expected conflict state, got %+v", res)
	}
}

func TestServiceSyncBasePath(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"b.txt": "bee"})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	other := testutil.WriteTree(t, map[string]string{"c.txt": "sea"})
	res, err := f.service.Sync(context.Background(), other, put.URL.String()+"/nested",
		csync.SyncOptions{Recursive: true})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, ok := res.Map["/nested/c.txt"]; !ok {
		t.Errorf("expected entry under the URL's base path, got %v", res.Map.Paths())
	}
	if _, ok := res.Map["/b.txt"]; !ok {
		t.Error("entries outside the base path must be untouched")
	}
}

func TestServiceAdd(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "alpha"})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	url := put.URL.String()

	extra := testutil.WriteTree(t, map[string]string{"extra.txt": "more"})

	t.Run("appends base name at directory target", func(t *testing.T) {
		res, err := f.service.Add(context.Background(), extra+"/extra.txt", url, false)
		if err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if _, ok := res.Map["/extra.txt"]; !ok {
			t.Errorf("expected /extra.txt, got %v", res.Map.Paths())
		}
		if res.Version.Seq != 1 {
			t.Errorf("expected a new version at seq 1, got %d", res.Version.Seq)
		}
	})

	t.Run("same content at same path is always an error", func(t *testing.T) {
		_, err := f.service.Add(context.Background(), extra+"/extra.txt", url, true)
		if !errors.Is(err, csync.ErrEntryExists) {
			t.Fatalf("expected ErrEntryExists, got %v", err)
		}
	})

	t.Run("existing path requires force", func(t *testing.T) {
		writeFile(t, extra, "extra.txt", "different bytes")
		_, err := f.service.Add(context.Background(), extra+"/extra.txt", url, false)
		if !errors.Is(err, csync.ErrEntryExists) {
			t.Fatalf("expected ErrEntryExists, got %v", err)
		}

		res, err := f.service.Add(context.Background(), extra+"/extra.txt", url, true)
		if err != nil {
			t.Fatalf("forced add failed: %v", err)
		}
		if res.Map["/extra.txt"].ContentID != testutil.SHA256Hex([]byte("different bytes")) {
			t.Error("forced add should replace the entry")
		}
	})
}

func TestServiceAddLink(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "alpha"})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	id := testutil.SHA256Hex([]byte("alpha"))
	writes := f.content.Writes()

	res, err := f.service.Add(context.Background(), "csync://"+put.URL.Address+"/"+id,
		put.URL.String()+"/copy.bin", false)
	if err != nil {
		t.Fatalf("add by link failed: %v", err)
	}

	if f.content.Writes() != writes {
		t.Error("adding a link must not re-upload content")
	}
	entry, ok := res.Map["/copy.bin"]
	if !ok {
		t.Fatalf("expected /copy.bin, got %v", res.Map.Paths())
	}
	if entry.ContentID != id {
		t.Error("linked entry should point at the existing blob")
	}
}

func TestServiceRemove(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"a.txt":       "alpha",
		"docs/b.txt":  "bee",
		"docs/c.txt":  "sea",
		"other/d.txt": "dee",
	})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	addr := "csync://" + put.URL.Address

	t.Run("exact entry", func(t *testing.T) {
		res, err := f.service.Remove(context.Background(), addr+"/a.txt", false)
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if _, ok := res.Map["/a.txt"]; ok {
			t.Error("removed entry should be gone")
		}
	})

	t.Run("subtree requires recursive", func(t *testing.T) {
		_, err := f.service.Remove(context.Background(), addr+"/docs", false)
		if err == nil {
			t.Fatal("removing a directory without recursive must fail")
		}

		res, err := f.service.Remove(context.Background(), addr+"/docs", true)
		if err != nil {
			t.Fatalf("recursive remove failed: %v", err)
		}
		if _, ok := res.Map["/docs/b.txt"]; ok {
			t.Error("subtree entries should be gone")
		}
		if _, ok := res.Map["/other/d.txt"]; !ok {
			t.Error("sibling subtree must survive")
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		_, err := f.service.Remove(context.Background(), addr+"/nope.txt", false)
		if !errors.Is(err, csync.ErrPathNotFound) {
			t.Fatalf("expected ErrPathNotFound, got %v", err)
		}
	})

	t.Run("root requires recursive", func(t *testing.T) {
		_, err := f.service.Remove(context.Background(), addr, false)
		if err == nil {
			t.Fatal("removing the root without recursive must fail")
		}
	})
}

func TestServiceFetchVersionPin(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{"a.txt": "v1"})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	writeFile(t, root, "a.txt", "v2")
	if _, err := f.service.Sync(context.Background(), root, put.URL.String(),
		csync.SyncOptions{Recursive: true}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// Latest resolves to v2.
	latest, m, err := f.service.Fetch(context.Background(), put.URL.String())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if latest.Seq != 1 || m["/a.txt"].ContentID != testutil.SHA256Hex([]byte("v2")) {
		t.Error("latest fetch should return the second version")
	}

	// The pin resolves to the first, immutable version.
	pinned, m, err := f.service.Fetch(context.Background(), put.URL.WithVersion(put.Version.ID).String())
	if err != nil {
		t.Fatalf("pinned fetch failed: %v", err)
	}
	if pinned.ID != put.Version.ID || m["/a.txt"].ContentID != testutil.SHA256Hex([]byte("v1")) {
		t.Error("pinned fetch should return the original version")
	}

	// Unknown pins fail.
	_, _, err = f.service.Fetch(context.Background(), put.URL.WithVersion("no-such-version").String())
	if !errors.Is(err, csync.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestServiceFetchSubtree(t *testing.T) {
	f := newFixture(t)
	root := testutil.WriteTree(t, map[string]string{
		"docs/a.txt": "a",
		"docs/b.txt": "b",
		"src/c.go":   "c",
	})

	put, err := f.service.Put(context.Background(), root, "/", csync.PutOptions{Recursive: true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	_, m, err := f.service.Fetch(context.Background(), "csync://"+put.URL.Address+"/docs")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 entries under /docs, got %v", m.Paths())
	}
	if _, ok := m["/src/c.go"]; ok {
		t.Error("entries outside the sub-path must be filtered out")
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", rel, err)
	}
}

func removeFile(t *testing.T, root, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
		t.Fatalf("failed to remove %s: %v", rel, err)
	}
}
