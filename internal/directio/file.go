package directio

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// ErrShortTransfer is returned when a read or write stops making progress
// before the full request was transferred.
var ErrShortTransfer = errors.New("directio: short transfer")

// ErrDirectUnsupported is returned by Open when direct I/O was requested on
// a platform without O_DIRECT.
var ErrDirectUnsupported = errors.New("directio: direct I/O is not supported on this platform")

// File is an open file or block device addressed by positioned I/O.
type File struct {
	fd     int
	path   string
	direct bool
}

// Open opens path for reading and writing. With direct set the page cache is
// bypassed, and callers must use aligned buffers, offsets and lengths.
func Open(path string, direct bool) (*File, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if direct {
		if directFlag == 0 {
			return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed,
				fmt.Sprintf("failed to open %s", path), ErrDirectUnsupported)
		}
		flags |= directFlag
	}

	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed,
			fmt.Sprintf("failed to open %s", path), err)
	}
	return &File{fd: fd, path: path, direct: direct}, nil
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// Direct reports whether the file bypasses the page cache.
func (f *File) Direct() bool { return f.direct }

// ReadAt reads len(p) bytes at off. Partial reads are resumed; a read that
// returns no data before p is full fails with ErrShortTransfer.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pread(f.fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, fmt.Errorf("pread %s at %d: %w", f.path, off, err)
		}
		if n == 0 {
			return done, fmt.Errorf("pread %s at %d: %d of %d bytes: %w", f.path, off, done, len(p), ErrShortTransfer)
		}
		done += n
	}
	return done, nil
}

// WriteAt writes len(p) bytes at off, resuming partial writes.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pwrite(f.fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, fmt.Errorf("pwrite %s at %d: %w", f.path, off, err)
		}
		if n == 0 {
			return done, fmt.Errorf("pwrite %s at %d: %d of %d bytes: %w", f.path, off, done, len(p), ErrShortTransfer)
		}
		done += n
	}
	return done, nil
}

// Sync flushes the file to stable storage.
func (f *File) Sync() error {
	for {
		err := unix.Fsync(f.fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("fsync %s: %w", f.path, err)
		}
		return nil
	}
}

// Size returns the size in bytes. Block devices report their capacity.
func (f *File) Size() (int64, error) {
	size, err := unix.Seek(f.fd, 0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek %s: %w", f.path, err)
	}
	return size, nil
}

// Close closes the descriptor. It is safe to call more than once.
func (f *File) Close() error {
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	if err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	return nil
}
