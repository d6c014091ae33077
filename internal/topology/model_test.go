package topology

import (
	"testing"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalNodes(t *testing.T) {
	assert.Equal(t, 266305, TotalNodes(64, 4))
	assert.Equal(t, 7, TotalNodes(2, 3))
	assert.Equal(t, 1, TotalNodes(10, 1))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(1, 3)
	assert.Equal(t, nperrors.CodeInvalidTopology, nperrors.GetCode(err))

	_, err = New(4, 0)
	assert.Equal(t, nperrors.CodeInvalidTopology, nperrors.GetCode(err))

	_, err = New(1<<20, 4)
	assert.Equal(t, nperrors.CodeInvalidTopology, nperrors.GetCode(err))
}

func TestModel_LevelCounts(t *testing.T) {
	m, err := New(64, 4)
	require.NoError(t, err)

	assert.Equal(t, 266305, m.NumNodes())
	assert.Equal(t, 262144, m.LastLevelNodes())
	assert.Equal(t, 4161, m.TopLevelNodes())
	assert.True(t, m.Contains(0))
	assert.True(t, m.Contains(266304))
	assert.False(t, m.Contains(266305))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []int{0}, Ancestors(0, 64))
	assert.Equal(t, []int{0, 1, 64}, Ancestors(64, 64))
	assert.Equal(t, []int{0, 1, 3, 6}, Ancestors(6, 2))
	assert.Equal(t, []int{0, 1, 65, 4160, 266244}, Ancestors(266244, 64))
	assert.Equal(t, []int{0, 1, 65, 4161, 266304}, Ancestors(266304, 64))
}

func TestPartition_ToyTree(t *testing.T) {
	m, err := New(2, 3)
	require.NoError(t, err)

	set, err := m.Partition(0.6, rng.New(1))
	require.NoError(t, err)

	// floor(7*0.6) = 4 popular: the three internal nodes plus one leaf.
	assert.Equal(t, []int{0, 1, 2}, set.Popular[:3])
	assert.Len(t, set.Popular, 4)
	assert.Len(t, set.Unpopular, 3)
	assert.Equal(t, 7, set.Size())
	assert.GreaterOrEqual(t, set.Popular[3], 3)
	assert.True(t, set.IsPopular(set.Popular[3]))
	assert.False(t, set.IsPopular(set.Unpopular[0]))
}

func TestPartition_DefaultTree(t *testing.T) {
	m, err := New(64, 4)
	require.NoError(t, err)

	set, err := m.Partition(0.1, rng.New(7))
	require.NoError(t, err)

	// target 26630 with 4161 internal nodes leaves 22469 leaf picks, which
	// floors the group size to 11: 23831 full groups plus a group of 3.
	for i := 0; i < m.TopLevelNodes(); i++ {
		require.Equal(t, i, set.Popular[i])
	}
	assert.Equal(t, m.NumNodes(), set.Size())
	assert.GreaterOrEqual(t, len(set.Popular), 4161+23831)
	assert.LessOrEqual(t, len(set.Popular), 4161+23832)
}

func TestPartition_InsufficientPopularNodes(t *testing.T) {
	m, err := New(2, 3)
	require.NoError(t, err)

	// floor(7*0.4) = 2 is below the 3 internal nodes.
	_, err = m.Partition(0.4, rng.New(1))
	require.Error(t, err)
	assert.Equal(t, nperrors.ErrCategoryConfig, nperrors.GetCategory(err))
	assert.Equal(t, nperrors.CodeInsufficientPopularNodes, nperrors.GetCode(err))

	// Exactly the internal nodes leaves no leaf-level hot nodes either.
	_, err = m.Partition(3.0/7.0+0.01, rng.New(1))
	assert.Equal(t, nperrors.CodeInsufficientPopularNodes, nperrors.GetCode(err))
}

func TestPartition_SingleLevel(t *testing.T) {
	m, err := New(4, 1)
	require.NoError(t, err)

	// A lone root is both top and leaf; one popular leaf means the root.
	set, err := m.Partition(1, rng.New(3))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, set.Popular)
	assert.Empty(t, set.Unpopular)
}

func TestPartition_InvalidRatio(t *testing.T) {
	m, err := New(2, 3)
	require.NoError(t, err)

	for _, ratio := range []float64{0, -0.5, 1.5} {
		_, err := m.Partition(ratio, rng.New(1))
		assert.Equal(t, nperrors.CodeInvalidConfig, nperrors.GetCode(err), "ratio %v", ratio)
	}
}

func TestPartition_TruncatedFinalGroup(t *testing.T) {
	m, err := New(3, 3)
	require.NoError(t, err)

	// 13 nodes, 9 leaves at ids 4..12, floor(13*0.54)=7 popular target,
	// remaining 3, groups of 3 cover the leaves exactly.
	set, err := m.Partition(0.54, rng.New(11))
	require.NoError(t, err)
	assert.Len(t, set.Popular, 7)

	// floor(13*0.62)=8, remaining 4, groups of 2: the fifth group holds a
	// single id and only gets a popular node when its draw is 0.
	set, err = m.Partition(0.62, rng.New(11))
	require.NoError(t, err)
	assert.Equal(t, 13, set.Size())
	assert.GreaterOrEqual(t, len(set.Popular), 4+4)
	assert.LessOrEqual(t, len(set.Popular), 4+5)
}
