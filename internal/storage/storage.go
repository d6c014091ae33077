// Package storage publishes and fetches run artifacts (traces and their
// generation summaries) through object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations are S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Stat returns the size and modification time of an object, or
	// ErrObjectNotFound.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size         int64
	LastModified time.Time
}

// ObjectKey returns the key a local file is published under.
func ObjectKey(prefix, localPath string) string {
	return path.Join(prefix, filepath.Base(localPath))
}

func uploadErr(objectPath string, err error) error {
	return nperrors.NewStorageError(nperrors.CodeUploadFailed,
		fmt.Sprintf("failed to upload %s", objectPath), fmt.Errorf("%w: %v", ErrUploadFailed, err))
}

func downloadErr(objectPath string, err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return nperrors.NewStorageError(nperrors.CodeObjectNotFound,
			fmt.Sprintf("object %s not found", objectPath), ErrObjectNotFound)
	}
	return nperrors.NewStorageError(nperrors.CodeDownloadFailed,
		fmt.Sprintf("failed to download %s", objectPath), fmt.Errorf("%w: %v", ErrDownloadFailed, err))
}
