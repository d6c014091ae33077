// Package topology models the shape of a fixed-fanout B+tree: how many nodes
// it has, which ids lie on the path from a node to the root, and which nodes
// are hot.
//
// Node ids follow the integer-division convention parent(i) = i / fanout,
// with the root at id 0.
package topology

import (
	"math"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// Model is an immutable description of a tree of constant fanout and depth.
type Model struct {
	fanout   int
	levels   int
	numNodes int
	lastLvl  int
}

// New validates fanout and levels and returns the model.
func New(fanout, levels int) (*Model, error) {
	if fanout < 2 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidTopology,
			"fanout must be at least 2, got %d", fanout)
	}
	if levels < 1 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidTopology,
			"levels must be at least 1, got %d", levels)
	}

	total, last, ok := countNodes(fanout, levels)
	if !ok {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidTopology,
			"tree with fanout %d and %d levels has too many nodes", fanout, levels)
	}

	return &Model{
		fanout:   fanout,
		levels:   levels,
		numNodes: total,
		lastLvl:  last,
	}, nil
}

// TotalNodes returns Σ fanout^i for i in [0, levels).
// It returns 0 when the count does not fit in an int.
func TotalNodes(fanout, levels int) int {
	total, _, ok := countNodes(fanout, levels)
	if !ok {
		return 0
	}
	return total
}

// countNodes returns the total node count and the size of the last level.
func countNodes(fanout, levels int) (total, last int, ok bool) {
	width := 1
	for i := 0; i < levels; i++ {
		if total > math.MaxInt32-width {
			return 0, 0, false
		}
		total += width
		last = width
		if i < levels-1 {
			if width > math.MaxInt32/fanout {
				return 0, 0, false
			}
			width *= fanout
		}
	}
	return total, last, true
}

// Fanout returns the maximum number of children per internal node.
func (m *Model) Fanout() int { return m.fanout }

// Levels returns the depth of the tree including the root level.
func (m *Model) Levels() int { return m.levels }

// NumNodes returns the total number of nodes in the tree.
func (m *Model) NumNodes() int { return m.numNodes }

// LastLevelNodes returns fanout^(levels-1), the number of leaf-level nodes.
func (m *Model) LastLevelNodes() int { return m.lastLvl }

// TopLevelNodes returns the number of nodes above the leaf level.
func (m *Model) TopLevelNodes() int { return m.numNodes - m.lastLvl }

// Contains reports whether node is a valid id in this tree.
func (m *Model) Contains(node int) bool {
	return node >= 0 && node < m.numNodes
}

// Ancestors returns the ancestor chain of node under this model's fanout.
func (m *Model) Ancestors(node int) []int {
	return Ancestors(node, m.fanout)
}

// Ancestors returns the ids visited by repeatedly dividing node by fanout
// until reaching zero, plus the root. The result is deduplicated and sorted
// ascending, so the root comes first.
func Ancestors(node, fanout int) []int {
	// Dividing only shrinks the id, so the walk produces a strictly
	// decreasing sequence; reversing it yields ascending order.
	chain := make([]int, 0, 8)
	for i := node; i > 0; i /= fanout {
		chain = append(chain, i)
	}
	chain = append(chain, 0)

	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}
