package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// countingStorage wraps LocalStorage and tracks concurrent transfers.
type countingStorage struct {
	*LocalStorage
	active    int32
	maxActive int32
	downloads int32
}

func (c *countingStorage) enter() func() {
	n := atomic.AddInt32(&c.active, 1)
	for {
		m := atomic.LoadInt32(&c.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&c.maxActive, m, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return func() { atomic.AddInt32(&c.active, -1) }
}

func (c *countingStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	defer c.enter()()
	return c.LocalStorage.Upload(ctx, localPath, objectPath)
}

func (c *countingStorage) Download(ctx context.Context, objectPath, localPath string) error {
	defer c.enter()()
	atomic.AddInt32(&c.downloads, 1)
	return c.LocalStorage.Download(ctx, objectPath, localPath)
}

func newCounting(t *testing.T) *countingStorage {
	t.Helper()
	local, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return &countingStorage{LocalStorage: local}
}

func TestArtifactStore_PublishFetch(t *testing.T) {
	backend := newCounting(t)
	cacheDir := t.TempDir()
	store := NewArtifactStore(backend, "runs", 2, cacheDir)

	srcDir := t.TempDir()
	var locals []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		p := filepath.Join(srcDir, name)
		if err := os.WriteFile(p, []byte(name), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		locals = append(locals, p)
	}

	ctx := context.Background()
	keys, err := store.Publish(ctx, locals...)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if keys[0] != "runs/a.txt" || keys[3] != "runs/d.txt" {
		t.Errorf("unexpected keys %v", keys)
	}
	if got := atomic.LoadInt32(&backend.maxActive); got > 2 {
		t.Errorf("upload concurrency %d exceeds limit 2", got)
	}

	result, err := store.Fetch(ctx, keys...)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected fetch errors: %v", result.Errors)
	}
	if result.Downloads != 4 || result.CacheHits != 0 {
		t.Errorf("downloads=%d hits=%d, want 4/0", result.Downloads, result.CacheHits)
	}
	data, err := os.ReadFile(result.LocalPaths["runs/b.txt"])
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if string(data) != "b.txt" {
		t.Errorf("fetched content %q", data)
	}

	// Second fetch is served from the cache directory
	again, err := store.Fetch(ctx, keys...)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if again.CacheHits != 4 || again.Downloads != 0 {
		t.Errorf("downloads=%d hits=%d, want 0/4", again.Downloads, again.CacheHits)
	}
	if got := atomic.LoadInt32(&backend.downloads); got != 4 {
		t.Errorf("backend saw %d downloads, want 4", got)
	}
}

func TestArtifactStore_FetchMissing(t *testing.T) {
	store := NewArtifactStore(newCounting(t), "", 4, t.TempDir())

	result, err := store.Fetch(context.Background(), "absent.txt")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !errors.Is(result.Errors["absent.txt"], ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", result.Errors["absent.txt"])
	}
	if _, ok := result.LocalPaths["absent.txt"]; ok {
		t.Error("missing object should have no local path")
	}
}

func TestArtifactStore_PublishMissingFile(t *testing.T) {
	store := NewArtifactStore(newCounting(t), "runs", 1, "")

	_, err := store.Publish(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	if !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed, got %v", err)
	}
}

func TestArtifactStore_FetchWithoutCacheDir(t *testing.T) {
	store := NewArtifactStore(newCounting(t), "runs", 1, "")
	if _, err := store.Fetch(context.Background(), "runs/a.txt"); err == nil {
		t.Error("expected error without cache directory")
	}
}

func TestArtifactStore_LocalPath(t *testing.T) {
	store := NewArtifactStore(newCounting(t), "", 1, "/cache")
	if got := store.LocalPath("runs/../../etc/trace.txt"); got != filepath.Join("/cache", "etc", "trace.txt") {
		t.Errorf("LocalPath escaped cache: %s", got)
	}
	if got := store.LocalPath("runA/trace.txt"); got != filepath.Join("/cache", "runA", "trace.txt") {
		t.Errorf("LocalPath dropped the key prefix: %s", got)
	}
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestArtifactStore_SameNameDifferentPrefixes(t *testing.T) {
	backend := newCounting(t)
	ctx := context.Background()

	srcA := filepath.Join(t.TempDir(), "trace.txt")
	srcB := filepath.Join(t.TempDir(), "trace.txt")
	writeFile(t, srcA, "TRACE-A")
	writeFile(t, srcB, "TRACE-B")
	if err := backend.Upload(ctx, srcA, "runA/trace.txt"); err != nil {
		t.Fatalf("upload A: %v", err)
	}
	if err := backend.Upload(ctx, srcB, "runB/trace.txt"); err != nil {
		t.Fatalf("upload B: %v", err)
	}

	store := NewArtifactStore(backend, "", 2, t.TempDir())
	first, err := store.Fetch(ctx, "runA/trace.txt")
	if err != nil {
		t.Fatalf("Fetch A failed: %v", err)
	}
	second, err := store.Fetch(ctx, "runB/trace.txt")
	if err != nil {
		t.Fatalf("Fetch B failed: %v", err)
	}

	localA, localB := first.LocalPaths["runA/trace.txt"], second.LocalPaths["runB/trace.txt"]
	if localA == localB {
		t.Fatalf("both keys cached at %s", localA)
	}
	if got := readFile(t, localA); got != "TRACE-A" {
		t.Errorf("runA content %q", got)
	}
	if got := readFile(t, localB); got != "TRACE-B" {
		t.Errorf("runB content %q", got)
	}
	if second.CacheHits != 0 || second.Downloads != 1 {
		t.Errorf("downloads=%d hits=%d, want 1/0", second.Downloads, second.CacheHits)
	}
}

func TestArtifactStore_RepublishedObjectIsDownloaded(t *testing.T) {
	backend := newCounting(t)
	store := NewArtifactStore(backend, "runs", 1, t.TempDir())
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "trace.txt")
	writeFile(t, src, "first trace")
	keys, err := store.Publish(ctx, src)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if _, err := store.Fetch(ctx, keys...); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	writeFile(t, src, "second, longer trace")
	if _, err := store.Publish(ctx, src); err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}
	result, err := store.Fetch(ctx, keys...)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if result.Downloads != 1 || result.CacheHits != 0 {
		t.Errorf("downloads=%d hits=%d, want 1/0", result.Downloads, result.CacheHits)
	}
	if got := readFile(t, result.LocalPaths[keys[0]]); got != "second, longer trace" {
		t.Errorf("fetched stale content %q", got)
	}
}

func TestArtifactStore_OlderCachedCopyIsReplaced(t *testing.T) {
	backend := newCounting(t)
	store := NewArtifactStore(backend, "runs", 1, t.TempDir())
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "trace.txt")
	writeFile(t, src, "TRACE-1")
	keys, err := store.Publish(ctx, src)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Same size as the object but written before it
	local := store.LocalPath(keys[0])
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, local, "TRACE-0")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(local, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result, err := store.Fetch(ctx, keys...)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Downloads != 1 {
		t.Errorf("downloads=%d, want 1", result.Downloads)
	}
	if got := readFile(t, local); got != "TRACE-1" {
		t.Errorf("cached content %q, want TRACE-1", got)
	}
}

func TestArtifactStore_CachedCopyOfDeletedObject(t *testing.T) {
	backend := newCounting(t)
	store := NewArtifactStore(backend, "runs", 1, t.TempDir())
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "trace.txt")
	writeFile(t, src, "TRACE")
	keys, err := store.Publish(ctx, src)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if _, err := store.Fetch(ctx, keys...); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if err := backend.Delete(ctx, keys[0]); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	result, err := store.Fetch(ctx, keys...)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if !errors.Is(result.Errors[keys[0]], ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", result.Errors[keys[0]])
	}
}
