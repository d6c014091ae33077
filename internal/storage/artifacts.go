package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ArtifactStore publishes local files under a key prefix and fetches them
// back into a local cache directory, moving several files in parallel.
type ArtifactStore struct {
	storage     ObjectStorage
	prefix      string
	concurrency int
	cacheDir    string
}

// FetchResult contains the outcome of a fetch.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewArtifactStore creates an artifact store.
// concurrency: maximum number of parallel transfers
// cacheDir: directory fetched objects are written to; a current copy
// already present there is reused instead of downloaded
func NewArtifactStore(storage ObjectStorage, prefix string, concurrency int, cacheDir string) *ArtifactStore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ArtifactStore{
		storage:     storage,
		prefix:      prefix,
		concurrency: concurrency,
		cacheDir:    cacheDir,
	}
}

// Key returns the object key localPath is published under.
func (a *ArtifactStore) Key(localPath string) string {
	return ObjectKey(a.prefix, localPath)
}

// Publish uploads every file and returns their keys in order. The first
// upload error is returned after all transfers finish.
func (a *ArtifactStore) Publish(ctx context.Context, localPaths ...string) ([]string, error) {
	keys := make([]string, len(localPaths))
	errs := make([]error, len(localPaths))
	sem := semaphore.NewWeighted(int64(a.concurrency))
	var wg sync.WaitGroup

	for i, p := range localPaths {
		keys[i] = a.Key(p)
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}

		wg.Add(1)
		go func(i int, local string) {
			defer sem.Release(1)
			defer wg.Done()
			errs[i] = a.storage.Upload(ctx, local, keys[i])
		}(i, p)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return keys, err
		}
		log.Printf("storage: published %s as %s", localPaths[i], keys[i])
	}
	return keys, nil
}

// Fetch downloads the objects into the cache directory. A cached copy is
// reused only while it matches the object's size and is not older than it.
// Per-object failures are reported in the result; the error is non-nil only
// for invalid input.
func (a *ArtifactStore) Fetch(ctx context.Context, objectPaths ...string) (*FetchResult, error) {
	if a.cacheDir == "" {
		return nil, fmt.Errorf("storage: no cache directory configured for fetch")
	}

	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	sem := semaphore.NewWeighted(int64(a.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer sem.Release(1)
			defer wg.Done()

			local := a.LocalPath(key)
			hit, err := a.fresh(ctx, key, local)
			if err != nil {
				err = downloadErr(key, err)
			} else if !hit {
				err = a.storage.Download(ctx, key, local)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[key] = err
				return
			}
			result.LocalPaths[key] = local
			if hit {
				result.CacheHits++
			} else {
				result.Downloads++
			}
		}(p)
	}
	wg.Wait()

	return result, nil
}

// fresh reports whether the cached file at local is a current copy of the
// object.
func (a *ArtifactStore) fresh(ctx context.Context, objectPath, local string) (bool, error) {
	remote, err := a.storage.Stat(ctx, objectPath)
	if err != nil {
		return false, err
	}
	cached, err := os.Stat(local)
	if err != nil {
		return false, nil
	}
	return cached.Size() == remote.Size && !cached.ModTime().Before(remote.LastModified), nil
}

// LocalPath returns the cache path for an object. The whole key is kept so
// objects under different prefixes do not collide, and it is cleaned as an
// absolute path so it cannot escape the cache directory.
func (a *ArtifactStore) LocalPath(objectPath string) string {
	return filepath.Join(a.cacheDir, filepath.FromSlash(path.Clean("/"+objectPath)))
}
