package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Unmapped is the offset of a node that received no position.
const Unmapped int64 = -1

// Class identifies the kind of position a node was placed on.
type Class byte

const (
	ClassUnmapped Class = iota
	ClassGood
	ClassBad
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassGood:
		return "good"
	case ClassBad:
		return "bad"
	default:
		return "unmapped"
	}
}

// Mapping is the node id to chunk offset table produced by a Mapper.
type Mapping struct {
	offsets   []int64
	classes   []Class
	chunkSize int64
	mapped    int
	stats     Stats
}

// Stats counts placements by node popularity and position class.
type Stats struct {
	PopularGood   int     `json:"popular_good"`
	PopularBad    int     `json:"popular_bad"`
	UnpopularGood int     `json:"unpopular_good"`
	UnpopularBad  int     `json:"unpopular_bad"`
	Unmapped      int     `json:"unmapped"`
	Phases        []Phase `json:"phases"`
}

func newMapping(numNodes int, chunkSize int64) *Mapping {
	m := &Mapping{
		offsets:   make([]int64, numNodes),
		classes:   make([]Class, numNodes),
		chunkSize: chunkSize,
	}
	for i := range m.offsets {
		m.offsets[i] = Unmapped
	}
	return m
}

func (m *Mapping) assign(node int, chunk int64, class Class) {
	m.offsets[node] = chunk
	m.classes[node] = class
	m.mapped++
}

// NumNodes returns the number of node ids the table covers.
func (m *Mapping) NumNodes() int { return len(m.offsets) }

// Mapped returns the number of nodes with a position.
func (m *Mapping) Mapped() int { return m.mapped }

// Unmapped returns the number of nodes without a position.
func (m *Mapping) Unmapped() int { return len(m.offsets) - m.mapped }

// ChunkSize returns the size of one chunk in bytes.
func (m *Mapping) ChunkSize() int64 { return m.chunkSize }

// Stats returns the placement counts.
func (m *Mapping) Stats() Stats { return m.stats }

// Offset returns the chunk id of node. ok is false for unmapped or
// out-of-range ids.
func (m *Mapping) Offset(node int) (int64, bool) {
	if node < 0 || node >= len(m.offsets) {
		return Unmapped, false
	}
	off := m.offsets[node]
	return off, off != Unmapped
}

// ByteOffset returns the file offset of node in bytes.
func (m *Mapping) ByteOffset(node int) (int64, bool) {
	off, ok := m.Offset(node)
	if !ok {
		return Unmapped, false
	}
	return off * m.chunkSize, true
}

// Class returns the kind of position node was placed on.
func (m *Mapping) Class(node int) Class {
	if node < 0 || node >= len(m.classes) {
		return ClassUnmapped
	}
	return m.classes[node]
}

// Fingerprint returns a murmur3 128-bit digest of the offset table as hex.
// Two runs with the same fingerprint placed every node identically.
func (m *Mapping) Fingerprint() string {
	h := murmur3.New128()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m.chunkSize))
	h.Write(buf[:])
	for _, off := range m.offsets {
		binary.LittleEndian.PutUint64(buf[:], uint64(off))
		h.Write(buf[:])
	}
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}
