package workload

import (
	"io"

	"github.com/arkilian/nodeplace/pkg/types"
)

// Recorder is an in-memory OpWriter.
type Recorder struct {
	Header types.TraceHeader
	Ops    []types.Operation
}

// WriteHeader stores a copy of h.
func (r *Recorder) WriteHeader(h *types.TraceHeader) error {
	r.Header = types.TraceHeader{
		NumNodes:     h.NumNodes,
		PopularNodes: append([]int(nil), h.PopularNodes...),
	}
	return nil
}

// WriteOp appends op.
func (r *Recorder) WriteOp(op types.Operation) error {
	r.Ops = append(r.Ops, op)
	return nil
}

// Source returns a SliceSource over the recorded operations.
func (r *Recorder) Source() *SliceSource {
	return NewSliceSource(r.Ops)
}

// SliceSource streams operations from a slice.
type SliceSource struct {
	ops []types.Operation
	pos int
}

// NewSliceSource returns a source over ops.
func NewSliceSource(ops []types.Operation) *SliceSource {
	return &SliceSource{ops: ops}
}

// Next returns the next operation, or io.EOF when the slice is exhausted.
func (s *SliceSource) Next() (types.Operation, error) {
	if s.pos >= len(s.ops) {
		return types.Operation{}, io.EOF
	}
	op := s.ops[s.pos]
	s.pos++
	return op, nil
}
