// Package workload synthesizes B+tree access traces and reads and writes them
// in the line-oriented trace format shared by the generate and replay stages.
package workload

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/topology"
	"github.com/arkilian/nodeplace/pkg/types"
)

// QueryKind is the logical query that produced a run of operations.
type QueryKind int

const (
	QuerySearch QueryKind = iota
	QueryInsert
	QuerySplit
)

// String returns the lowercase query name.
func (k QueryKind) String() string {
	switch k {
	case QuerySearch:
		return "search"
	case QueryInsert:
		return "insert"
	case QuerySplit:
		return "split"
	default:
		return fmt.Sprintf("QueryKind(%d)", int(k))
	}
}

// Query is one logical tree query and the operations it expands to.
type Query struct {
	Round   int
	Kind    QueryKind
	Popular bool
	Node    int
	Ops     []types.Operation
}

// OpWriter receives a trace header followed by its operations in order.
type OpWriter interface {
	WriteHeader(h *types.TraceHeader) error
	WriteOp(op types.Operation) error
}

// Mix is the per-round query mix.
type Mix struct {
	// RoundSize is the number of searches and inserts per round; each round
	// also emits one split on top of them
	RoundSize int `json:"round_size" yaml:"round_size"`

	// Rounds is the number of rounds to emit
	Rounds int `json:"rounds" yaml:"rounds"`

	// PopularShare is the fraction of queries that target popular nodes
	PopularShare float64 `json:"popular_share" yaml:"popular_share"`

	// InsertRatio is the fraction of queries in each class that insert
	InsertRatio float64 `json:"insert_ratio" yaml:"insert_ratio"`
}

// Validate checks the mix parameters.
func (m Mix) Validate() error {
	if m.RoundSize < 1 {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"round size must be at least 1, got %d", m.RoundSize)
	}
	if m.Rounds < 1 {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"rounds must be at least 1, got %d", m.Rounds)
	}
	if !inUnit(m.PopularShare) {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"popular share must be in [0, 1], got %v", m.PopularShare)
	}
	if !inUnit(m.InsertRatio) {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"insert ratio must be in [0, 1], got %v", m.InsertRatio)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// RoundPlan holds the query counts derived from a Mix.
type RoundPlan struct {
	PopularQueries   int `json:"popular_queries"`
	UnpopularQueries int `json:"unpopular_queries"`
	PopularInserts   int `json:"popular_inserts"`
	UnpopularInserts int `json:"unpopular_inserts"`
}

// PopularSearches returns the number of popular searches per round.
func (p RoundPlan) PopularSearches() int { return p.PopularQueries - p.PopularInserts }

// UnpopularSearches returns the number of unpopular searches per round.
func (p RoundPlan) UnpopularSearches() int { return p.UnpopularQueries - p.UnpopularInserts }

// Plan derives the per-round counts.
func (m Mix) Plan() RoundPlan {
	popular := int(math.Round(float64(m.RoundSize) * m.PopularShare))
	unpopular := m.RoundSize - popular
	return RoundPlan{
		PopularQueries:   popular,
		UnpopularQueries: unpopular,
		PopularInserts:   int(math.Round(float64(popular) * m.InsertRatio)),
		UnpopularInserts: int(math.Round(float64(unpopular) * m.InsertRatio)),
	}
}

// RoundStats counts what one round emitted.
type RoundStats struct {
	Searches int `json:"searches"`
	Inserts  int `json:"inserts"`
	Splits   int `json:"splits"`
	Reads    int `json:"reads"`
	Writes   int `json:"writes"`
}

func (r *RoundStats) add(o RoundStats) {
	r.Searches += o.Searches
	r.Inserts += o.Inserts
	r.Splits += o.Splits
	r.Reads += o.Reads
	r.Writes += o.Writes
}

// Ops returns the number of operations the round emitted.
func (r RoundStats) Ops() int { return r.Reads + r.Writes }

// Summary describes a generated trace.
type Summary struct {
	NumNodes   int          `json:"num_nodes"`
	NumPopular int          `json:"num_popular"`
	Plan       RoundPlan    `json:"plan"`
	Rounds     []RoundStats `json:"rounds"`
	Total      RoundStats   `json:"total"`
}

// Synthesizer emits a trace for one tree and popularity partition.
type Synthesizer struct {
	model    *topology.Model
	nodes    *topology.NodeSet
	mix      Mix
	rng      *rand.Rand
	observer func(Query)
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithObserver registers fn to receive every query after it is written.
func WithObserver(fn func(Query)) Option {
	return func(s *Synthesizer) {
		s.observer = fn
	}
}

// NewSynthesizer validates the mix against the node sets.
func NewSynthesizer(model *topology.Model, nodes *topology.NodeSet, mix Mix, rng *rand.Rand, opts ...Option) (*Synthesizer, error) {
	if err := mix.Validate(); err != nil {
		return nil, err
	}
	if len(nodes.Popular) == 0 {
		return nil, nperrors.NewConfigError(nperrors.CodeEmptyNodeSet, "popular node set is empty")
	}
	plan := mix.Plan()
	if plan.UnpopularQueries > 0 && len(nodes.Unpopular) == 0 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeEmptyNodeSet,
			"mix sends %d queries per round to unpopular nodes but the unpopular set is empty",
			plan.UnpopularQueries)
	}

	s := &Synthesizer{
		model: model,
		nodes: nodes,
		mix:   mix,
		rng:   rng,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate writes the header and all rounds to w.
func (s *Synthesizer) Generate(w OpWriter) (*Summary, error) {
	header := &types.TraceHeader{
		NumNodes:     s.model.NumNodes(),
		PopularNodes: s.nodes.Popular,
	}
	if err := w.WriteHeader(header); err != nil {
		return nil, nperrors.NewTraceError(nperrors.CodeTraceWriteFailed, "failed to write trace header", err)
	}

	plan := s.mix.Plan()
	log.Printf("workload: %d nodes, %d popular, %d unpopular", header.NumNodes, len(s.nodes.Popular), len(s.nodes.Unpopular))
	log.Printf("workload: per round %d popular queries (%d inserts), %d unpopular queries (%d inserts)",
		plan.PopularQueries, plan.PopularInserts, plan.UnpopularQueries, plan.UnpopularInserts)

	summary := &Summary{
		NumNodes:   header.NumNodes,
		NumPopular: len(s.nodes.Popular),
		Plan:       plan,
		Rounds:     make([]RoundStats, 0, s.mix.Rounds),
	}

	for round := 0; round < s.mix.Rounds; round++ {
		stats, err := s.round(w, round, plan)
		if err != nil {
			return summary, err
		}
		summary.Rounds = append(summary.Rounds, stats)
		summary.Total.add(stats)
	}

	return summary, nil
}

// round emits one round in the fixed order: popular inserts, one popular
// split, popular searches, unpopular inserts, unpopular searches.
func (s *Synthesizer) round(w OpWriter, round int, plan RoundPlan) (RoundStats, error) {
	var stats RoundStats

	steps := []struct {
		kind    QueryKind
		popular bool
		count   int
	}{
		{QueryInsert, true, plan.PopularInserts},
		{QuerySplit, true, 1},
		{QuerySearch, true, plan.PopularSearches()},
		{QueryInsert, false, plan.UnpopularInserts},
		{QuerySearch, false, plan.UnpopularSearches()},
	}

	for _, step := range steps {
		for i := 0; i < step.count; i++ {
			q := Query{
				Round:   round,
				Kind:    step.kind,
				Popular: step.popular,
				Node:    s.pick(step.popular),
			}
			q.Ops = s.expand(q.Kind, q.Node)

			for _, op := range q.Ops {
				if err := w.WriteOp(op); err != nil {
					return stats, nperrors.NewTraceError(nperrors.CodeTraceWriteFailed, "failed to write trace operation", err)
				}
				if op.Kind == types.OpRead {
					stats.Reads++
				} else {
					stats.Writes++
				}
			}

			switch q.Kind {
			case QuerySearch:
				stats.Searches++
			case QueryInsert:
				stats.Inserts++
			case QuerySplit:
				stats.Splits++
			}

			if s.observer != nil {
				s.observer(q)
			}
		}
	}

	return stats, nil
}

// pick draws a node uniformly from the popular or unpopular set.
func (s *Synthesizer) pick(popular bool) int {
	set := s.nodes.Unpopular
	if popular {
		set = s.nodes.Popular
	}
	return set[s.rng.Intn(len(set))]
}

// expand returns the operations for one query against node.
func (s *Synthesizer) expand(kind QueryKind, node int) []types.Operation {
	ancestors := s.model.Ancestors(node)
	ops := make([]types.Operation, 0, 2*len(ancestors))

	// Every query descends from the root first.
	for _, id := range ancestors {
		ops = append(ops, types.Read(id))
	}

	switch kind {
	case QueryInsert:
		ops = append(ops, types.Write(node))
	case QuerySplit:
		// The split propagates k levels up from the leaf before stopping.
		k := s.rng.Intn(len(ancestors)) + 1
		for i := 0; i < k; i++ {
			ops = append(ops, types.Write(ancestors[len(ancestors)-1-i]))
		}
	}

	return ops
}
