package types

// TraceHeader precedes the operations of a trace. It carries enough of the
// popularity model for the replay side to rebuild the node mapping.
type TraceHeader struct {
	// NumNodes is the total number of nodes in the modelled tree
	NumNodes int `json:"num_nodes"`

	// PopularNodes lists the hot node ids in ascending order
	PopularNodes []int `json:"popular_nodes"`
}

// NumPopular returns the number of popular nodes declared by the header.
func (h *TraceHeader) NumPopular() int {
	return len(h.PopularNodes)
}

// Contains reports whether node is a valid id for this trace.
func (h *TraceHeader) Contains(node int) bool {
	return node >= 0 && node < h.NumNodes
}
