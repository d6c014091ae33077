package topology

import (
	"math"
	"math/rand"
	"sort"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// NodeSet partitions node ids into hot and cold sets. Both slices are sorted
// ascending and are disjoint.
type NodeSet struct {
	Popular   []int
	Unpopular []int
}

// IsPopular reports whether node is in the popular set.
func (s *NodeSet) IsPopular(node int) bool {
	i := sort.SearchInts(s.Popular, node)
	return i < len(s.Popular) && s.Popular[i] == node
}

// Size returns the number of ids covered by the partition.
func (s *NodeSet) Size() int {
	return len(s.Popular) + len(s.Unpopular)
}

// Partition splits the tree into popular and unpopular nodes.
//
// Every node above the leaf level is popular. The leaf level is cut into
// contiguous groups of numNodesInLastLevel/remaining ids and one id per group
// is drawn to be popular. A final short group is truncated, and when its draw
// lands past the truncation point it contributes no popular node.
func (m *Model) Partition(popularRatio float64, rng *rand.Rand) (*NodeSet, error) {
	if math.IsNaN(popularRatio) || popularRatio <= 0 || popularRatio > 1 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"popular ratio must be in (0, 1], got %v", popularRatio)
	}

	target := int(math.Floor(float64(m.numNodes) * popularRatio))
	top := m.TopLevelNodes()
	remaining := target - top
	if remaining <= 0 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInsufficientPopularNodes,
			"popular ratio %v selects %d nodes but the %d nodes above the leaf level already exceed it",
			popularRatio, target, top).WithDetails(map[string]interface{}{
			"num_nodes":        m.numNodes,
			"target_popular":   target,
			"top_level_nodes":  top,
			"remaining":        remaining,
			"last_level_nodes": m.lastLvl,
		})
	}

	groupSize := m.lastLvl / remaining
	if groupSize == 0 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInsufficientPopularNodes,
			"%d leaf-level popular nodes requested but only %d leaf nodes exist", remaining, m.lastLvl)
	}

	set := &NodeSet{
		Popular:   make([]int, 0, target),
		Unpopular: make([]int, 0, m.numNodes-target),
	}
	for i := 0; i < top; i++ {
		set.Popular = append(set.Popular, i)
	}

	for start := top; start < m.numNodes; start += groupSize {
		pick := rng.Intn(groupSize)
		for j := 0; j < groupSize; j++ {
			node := start + j
			if node == m.numNodes {
				return set, nil
			}
			if j == pick {
				set.Popular = append(set.Popular, node)
			} else {
				set.Unpopular = append(set.Unpopular, node)
			}
		}
	}

	return set, nil
}
