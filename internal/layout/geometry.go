// Package layout places logical tree nodes onto physical chunk offsets of a
// target file. Each fixed-size block of the file holds a handful of node
// positions that were measured to be fast ("good") or slow ("bad"); the
// mapper decides which nodes land on which kind of position.
package layout

import (
	"fmt"
	"sort"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// Geometry describes the target file and the node positions within a block.
type Geometry struct {
	// FileSize is the size of the target region in bytes
	FileSize int64 `json:"file_size" yaml:"file_size"`

	// BlockSize is the size of one block in bytes
	BlockSize int64 `json:"block_size" yaml:"block_size"`

	// ChunkSize is the addressing unit; offsets are counted in chunks
	ChunkSize int64 `json:"chunk_size" yaml:"chunk_size"`

	// NodeSize is the size of one tree node in bytes
	NodeSize int64 `json:"node_size" yaml:"node_size"`

	// GoodOffsets are the fast node positions within a block, in chunks
	GoodOffsets []int `json:"good_offsets" yaml:"good_offsets"`

	// BadOffsets are the slow node positions within a block, in chunks
	BadOffsets []int `json:"bad_offsets" yaml:"bad_offsets"`
}

// Validate checks sizes and that every configured node extent fits inside a
// block without overlapping another.
func (g *Geometry) Validate() error {
	switch {
	case g.ChunkSize <= 0:
		return geometryErr("chunk size must be positive, got %d", g.ChunkSize)
	case g.BlockSize <= 0:
		return geometryErr("block size must be positive, got %d", g.BlockSize)
	case g.NodeSize <= 0:
		return geometryErr("node size must be positive, got %d", g.NodeSize)
	case g.BlockSize%g.ChunkSize != 0:
		return geometryErr("block size %d is not a multiple of chunk size %d", g.BlockSize, g.ChunkSize)
	case g.NodeSize%g.ChunkSize != 0:
		return geometryErr("node size %d is not a multiple of chunk size %d", g.NodeSize, g.ChunkSize)
	case g.NodeSize > g.BlockSize:
		return geometryErr("node size %d exceeds block size %d", g.NodeSize, g.BlockSize)
	case g.FileSize < g.BlockSize:
		return geometryErr("file size %d is smaller than one block (%d)", g.FileSize, g.BlockSize)
	case len(g.GoodOffsets)+len(g.BadOffsets) == 0:
		return geometryErr("no node positions configured")
	}

	type extent struct {
		start, end int
		kind       string
	}
	chunks := g.ChunksPerBlock()
	span := g.NodeChunks()
	extents := make([]extent, 0, len(g.GoodOffsets)+len(g.BadOffsets))
	for _, pos := range g.GoodOffsets {
		extents = append(extents, extent{pos, pos + span, "good"})
	}
	for _, pos := range g.BadOffsets {
		extents = append(extents, extent{pos, pos + span, "bad"})
	}
	for _, e := range extents {
		if e.start < 0 || e.end > chunks {
			return geometryErr("%s offset %d: node extent [%d, %d) falls outside the %d-chunk block",
				e.kind, e.start, e.start, e.end, chunks)
		}
	}

	sort.Slice(extents, func(i, j int) bool { return extents[i].start < extents[j].start })
	for i := 1; i < len(extents); i++ {
		prev, cur := extents[i-1], extents[i]
		if cur.start == prev.start {
			return geometryErr("offset %d is listed more than once", cur.start)
		}
		if cur.start < prev.end {
			return geometryErr("%s offset %d overlaps the node at %s offset %d",
				cur.kind, cur.start, prev.kind, prev.start)
		}
	}
	return nil
}

func geometryErr(format string, args ...interface{}) error {
	return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidGeometry, format, args...)
}

// ChunksPerBlock returns the number of chunks in one block.
func (g *Geometry) ChunksPerBlock() int {
	return int(g.BlockSize / g.ChunkSize)
}

// NodeChunks returns the number of chunks one node spans.
func (g *Geometry) NodeChunks() int {
	return int(g.NodeSize / g.ChunkSize)
}

// NumBlocks returns the number of whole blocks in the file.
func (g *Geometry) NumBlocks() int64 {
	return g.FileSize / g.BlockSize
}

// FileChunks returns the number of chunks covered by whole blocks.
func (g *Geometry) FileChunks() int64 {
	return g.NumBlocks() * int64(g.ChunksPerBlock())
}

// Capacity returns the number of node positions in the file.
func (g *Geometry) Capacity() int64 {
	return g.NumBlocks() * int64(len(g.GoodOffsets)+len(g.BadOffsets))
}

// GoodChunks returns the absolute chunk id of every good position, block by
// block.
func (g *Geometry) GoodChunks() []int64 {
	return g.absolute(g.GoodOffsets)
}

// BadChunks returns the absolute chunk id of every bad position, block by
// block.
func (g *Geometry) BadChunks() []int64 {
	return g.absolute(g.BadOffsets)
}

func (g *Geometry) absolute(positions []int) []int64 {
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)

	blocks := g.NumBlocks()
	perBlock := int64(g.ChunksPerBlock())
	out := make([]int64, 0, blocks*int64(len(sorted)))
	for b := int64(0); b < blocks; b++ {
		for _, pos := range sorted {
			out = append(out, b*perBlock+int64(pos))
		}
	}
	return out
}

// String summarizes the geometry for logs.
func (g *Geometry) String() string {
	return fmt.Sprintf("%d blocks of %d chunks x %d bytes, node %d chunks, good %v, bad %v",
		g.NumBlocks(), g.ChunksPerBlock(), g.ChunkSize, g.NodeChunks(), g.GoodOffsets, g.BadOffsets)
}
