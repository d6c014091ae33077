// Package directio provides page-cache-bypassing file access: aligned I/O
// buffers backed by anonymous mappings, and files whose positioned reads and
// writes always transfer the full request or fail.
package directio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// DefaultAlignment satisfies the logical block size of common devices.
const DefaultAlignment = 4096

// Buffer is an aligned, fixed-size I/O buffer. The memory is mapped outside
// the Go heap and must be released with Close.
type Buffer struct {
	mem   []byte
	buf   []byte
	align int
}

// NewBuffer maps size bytes whose start address is a multiple of align.
// align must be a power of two and size a positive multiple of it.
func NewBuffer(size, align int) (*Buffer, error) {
	if align <= 0 || align&(align-1) != 0 {
		return nil, nperrors.NewResourceError(nperrors.CodeAllocationFailed,
			fmt.Sprintf("alignment %d is not a power of two", align), nil)
	}
	if size <= 0 || size%align != 0 {
		return nil, nperrors.NewResourceError(nperrors.CodeAllocationFailed,
			fmt.Sprintf("buffer size %d is not a positive multiple of alignment %d", size, align), nil)
	}

	length := size
	if align > unix.Getpagesize() {
		length += align
	}
	mem, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeAllocationFailed,
			fmt.Sprintf("failed to map %d-byte buffer", length), err)
	}

	start := 0
	if rem := addr(mem) % uintptr(align); rem != 0 {
		start = align - int(rem)
	}
	return &Buffer{
		mem:   mem,
		buf:   mem[start : start+size : start+size],
		align: align,
	}, nil
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Bytes returns the aligned region. It is nil after Close.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the buffer size.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Alignment returns the start-address alignment.
func (b *Buffer) Alignment() int {
	return b.align
}

// Close unmaps the buffer. It is safe to call more than once.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem, b.buf = nil, nil
	if err != nil {
		return nperrors.NewResourceError(nperrors.CodeAllocationFailed, "failed to unmap buffer", err)
	}
	return nil
}
