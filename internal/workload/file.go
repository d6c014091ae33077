package workload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// CompressedSuffix marks trace files stored as a snappy framed stream.
const CompressedSuffix = ".sz"

// IsCompressed reports whether path names a snappy-compressed trace.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedSuffix)
}

// SummaryPath returns the generation summary path that belongs to a trace:
// the trace path without its extensions plus ".summary.json".
func SummaryPath(tracePath string) string {
	base := strings.TrimSuffix(tracePath, CompressedSuffix)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + ".summary.json"
}

// FileWriter is a Writer backed by a file on disk.
type FileWriter struct {
	*Writer
	path string
	file *os.File
	sz   *snappy.Writer
}

// CreateFile creates (or truncates) the trace file at path.
func CreateFile(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed,
			fmt.Sprintf("failed to create trace directory for %s", path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed,
			fmt.Sprintf("failed to create trace file %s", path), err)
	}

	fw := &FileWriter{path: path, file: f}
	var dst io.Writer = f
	if IsCompressed(path) {
		fw.sz = snappy.NewBufferedWriter(f)
		dst = fw.sz
	}
	fw.Writer = NewWriter(dst)
	return fw, nil
}

// Path returns the file path.
func (fw *FileWriter) Path() string {
	return fw.path
}

// Close flushes buffered operations, syncs and closes the file.
func (fw *FileWriter) Close() error {
	var firstErr error
	if err := fw.Writer.Flush(); err != nil {
		firstErr = err
	}
	if fw.sz != nil {
		if err := fw.sz.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := fw.file.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fw.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return nperrors.NewTraceError(nperrors.CodeTraceWriteFailed,
			fmt.Sprintf("failed to finish trace file %s", fw.path), firstErr)
	}
	return nil
}

// FileReader is a Reader backed by a file on disk.
type FileReader struct {
	*Reader
	file *os.File
}

// OpenFile opens the trace at path and parses its header.
func OpenFile(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed,
			fmt.Sprintf("failed to open trace file %s", path), err)
	}

	var src io.Reader = f
	if IsCompressed(path) {
		src = snappy.NewReader(f)
	}

	r, err := NewReader(src)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileReader{Reader: r, file: f}, nil
}

// Close closes the underlying file.
func (fr *FileReader) Close() error {
	return fr.file.Close()
}
