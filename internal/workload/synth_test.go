package workload

import (
	"testing"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/rng"
	"github.com/arkilian/nodeplace/internal/topology"
	"github.com/arkilian/nodeplace/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toyTree(t *testing.T) (*topology.Model, *topology.NodeSet) {
	t.Helper()
	m, err := topology.New(2, 3)
	require.NoError(t, err)
	set, err := m.Partition(0.6, rng.New(5))
	require.NoError(t, err)
	return m, set
}

func TestMix_Plan(t *testing.T) {
	plan := Mix{RoundSize: 2000, Rounds: 1, PopularShare: 0.9, InsertRatio: 0.1}.Plan()
	assert.Equal(t, 1800, plan.PopularQueries)
	assert.Equal(t, 200, plan.UnpopularQueries)
	assert.Equal(t, 180, plan.PopularInserts)
	assert.Equal(t, 20, plan.UnpopularInserts)
	assert.Equal(t, 1620, plan.PopularSearches())
	assert.Equal(t, 180, plan.UnpopularSearches())
}

func TestMix_Validate(t *testing.T) {
	good := Mix{RoundSize: 10, Rounds: 1, PopularShare: 0.5, InsertRatio: 0.5}
	assert.NoError(t, good.Validate())

	bad := []Mix{
		{RoundSize: 0, Rounds: 1},
		{RoundSize: 10, Rounds: 0},
		{RoundSize: 10, Rounds: 1, PopularShare: 1.2},
		{RoundSize: 10, Rounds: 1, InsertRatio: -0.1},
	}
	for _, m := range bad {
		err := m.Validate()
		assert.Equal(t, nperrors.ErrCategoryConfig, nperrors.GetCategory(err), "%+v", m)
	}
}

func TestSynthesizer_OneSplitPerRound(t *testing.T) {
	m, set := toyTree(t)
	mix := Mix{RoundSize: 20, Rounds: 4, PopularShare: 0.5, InsertRatio: 0.5}

	s, err := NewSynthesizer(m, set, mix, rng.New(1))
	require.NoError(t, err)

	rec := &Recorder{}
	summary, err := s.Generate(rec)
	require.NoError(t, err)

	require.Len(t, summary.Rounds, 4)
	for i, r := range summary.Rounds {
		assert.Equal(t, 1, r.Splits, "round %d", i)
		assert.Equal(t, 10, r.Inserts, "round %d", i)
		assert.Equal(t, 10, r.Searches, "round %d", i)
		assert.Equal(t, mix.RoundSize, r.Inserts+r.Searches, "the split comes on top of the round size")
	}
	assert.Equal(t, summary.Total.Ops(), len(rec.Ops))
	assert.Equal(t, 7, rec.Header.NumNodes)
	assert.Equal(t, set.Popular, rec.Header.PopularNodes)
}

func TestSynthesizer_QueryShape(t *testing.T) {
	m, set := toyTree(t)
	mix := Mix{RoundSize: 50, Rounds: 2, PopularShare: 0.7, InsertRatio: 0.3}

	var queries []Query
	s, err := NewSynthesizer(m, set, mix, rng.New(2), WithObserver(func(q Query) {
		queries = append(queries, q)
	}))
	require.NoError(t, err)

	rec := &Recorder{}
	_, err = s.Generate(rec)
	require.NoError(t, err)

	// Queries tile the trace exactly, in order.
	pos := 0
	for _, q := range queries {
		require.LessOrEqual(t, pos+len(q.Ops), len(rec.Ops))
		assert.Equal(t, q.Ops, rec.Ops[pos:pos+len(q.Ops)])
		pos += len(q.Ops)

		ancestors := m.Ancestors(q.Node)
		require.GreaterOrEqual(t, len(q.Ops), len(ancestors))
		for i, id := range ancestors {
			assert.Equal(t, types.Read(id), q.Ops[i], "query %v on %d", q.Kind, q.Node)
		}
		tail := q.Ops[len(ancestors):]

		assert.Equal(t, q.Popular, set.IsPopular(q.Node))

		switch q.Kind {
		case QuerySearch:
			assert.Empty(t, tail)
		case QueryInsert:
			assert.Equal(t, []types.Operation{types.Write(q.Node)}, tail)
		case QuerySplit:
			require.NotEmpty(t, tail)
			require.LessOrEqual(t, len(tail), len(ancestors))
			for i, op := range tail {
				assert.Equal(t, types.Write(ancestors[len(ancestors)-1-i]), op)
			}
		}
	}
	assert.Equal(t, len(rec.Ops), pos)
}

func TestSynthesizer_RoundOrder(t *testing.T) {
	m, set := toyTree(t)
	mix := Mix{RoundSize: 10, Rounds: 1, PopularShare: 0.6, InsertRatio: 0.5}

	var kinds []string
	s, err := NewSynthesizer(m, set, mix, rng.New(3), WithObserver(func(q Query) {
		label := q.Kind.String()
		if q.Popular {
			label = "p-" + label
		} else {
			label = "u-" + label
		}
		kinds = append(kinds, label)
	}))
	require.NoError(t, err)

	_, err = s.Generate(&Recorder{})
	require.NoError(t, err)

	expected := []string{
		"p-insert", "p-insert", "p-insert",
		"p-split",
		"p-search", "p-search", "p-search",
		"u-insert", "u-insert",
		"u-search", "u-search",
	}
	assert.Equal(t, expected, kinds)
}

func TestSynthesizer_Deterministic(t *testing.T) {
	m, set := toyTree(t)
	mix := Mix{RoundSize: 30, Rounds: 3, PopularShare: 0.9, InsertRatio: 0.1}

	run := func() []types.Operation {
		s, err := NewSynthesizer(m, set, mix, rng.New(99))
		require.NoError(t, err)
		rec := &Recorder{}
		_, err = s.Generate(rec)
		require.NoError(t, err)
		return rec.Ops
	}
	assert.Equal(t, run(), run())
}

func TestSynthesizer_EmptyUnpopularSet(t *testing.T) {
	m, err := topology.New(2, 3)
	require.NoError(t, err)
	set, err := m.Partition(1, rng.New(1))
	require.NoError(t, err)
	require.Empty(t, set.Unpopular)

	_, err = NewSynthesizer(m, set, Mix{RoundSize: 10, Rounds: 1, PopularShare: 0.5}, rng.New(1))
	assert.Equal(t, nperrors.CodeEmptyNodeSet, nperrors.GetCode(err))

	_, err = NewSynthesizer(m, set, Mix{RoundSize: 10, Rounds: 1, PopularShare: 1}, rng.New(1))
	assert.NoError(t, err)
}
