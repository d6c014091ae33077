package layout

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

// Policy controls how popular nodes are placed.
type Policy struct {
	// GoodOffsetRatio is the fraction of popular nodes placed on good
	// positions; the rest of the popular set goes to bad positions first
	GoodOffsetRatio float64 `json:"good_offset_ratio" yaml:"good_offset_ratio"`

	// AllowUnmapped accepts a mapping that leaves nodes without a position.
	// Operations on those nodes are skipped at replay.
	AllowUnmapped bool `json:"allow_unmapped" yaml:"allow_unmapped"`
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if math.IsNaN(p.GoodOffsetRatio) || p.GoodOffsetRatio < 0 || p.GoodOffsetRatio > 1 {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"good offset ratio must be in [0, 1], got %v", p.GoodOffsetRatio)
	}
	return nil
}

// End is the condition that terminated an assignment phase.
type End int

const (
	nodesExhausted End = iota
	offsetsExhausted
	limitReached
)

// String returns the condition name.
func (e End) String() string {
	switch e {
	case nodesExhausted:
		return "nodes exhausted"
	case offsetsExhausted:
		return "offsets exhausted"
	case limitReached:
		return "limit reached"
	default:
		return fmt.Sprintf("End(%d)", int(e))
	}
}

// Phase records one assignment pass.
type Phase struct {
	Name     string `json:"name"`
	Assigned int    `json:"assigned"`
	End      End    `json:"end"`
}

// queue pops from the front of a pre-shuffled slice.
type queue[T any] struct {
	items []T
	pos   int
}

func (q *queue[T]) empty() bool { return q.pos >= len(q.items) }

func (q *queue[T]) pop() T {
	v := q.items[q.pos]
	q.pos++
	return v
}

// nodeSource yields node ids for a phase.
type nodeSource interface {
	next() (int, bool)
}

// popularSource drains the shuffled popular queue, skipping nodes that were
// already placed.
type popularSource struct {
	q *queue[int]
	m *Mapping
}

func (s popularSource) next() (int, bool) {
	for !s.q.empty() {
		node := s.q.pop()
		if _, ok := s.m.Offset(node); !ok {
			return node, true
		}
	}
	return 0, false
}

// unmappedScan walks node ids ascending and yields those without a position.
type unmappedScan struct {
	m    *Mapping
	next int
}

func (s *unmappedScan) nextNode() (int, bool) {
	for s.next < s.m.NumNodes() {
		node := s.next
		s.next++
		if _, ok := s.m.Offset(node); !ok {
			return node, true
		}
	}
	return 0, false
}

type scanSource struct{ s *unmappedScan }

func (s scanSource) next() (int, bool) { return s.s.nextNode() }

// Mapper computes node placements for one geometry and policy.
type Mapper struct {
	geometry Geometry
	policy   Policy
	rng      *rand.Rand
}

// NewMapper validates g and p.
func NewMapper(g Geometry, p Policy, rng *rand.Rand) (*Mapper, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{geometry: g, policy: p, rng: rng}, nil
}

// Geometry returns the mapper's geometry.
func (mp *Mapper) Geometry() Geometry { return mp.geometry }

// Map assigns chunk offsets to the node ids [0, numNodes).
//
// Popular nodes, good positions and bad positions are shuffled
// independently, then assigned in four passes: a share of popular nodes to
// good positions, the remaining popular nodes to bad positions, then every
// unplaced node in ascending id order to the remaining bad positions and
// finally to the remaining good positions.
func (mp *Mapper) Map(numNodes int, popular []int) (*Mapping, error) {
	if numNodes < 1 {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeEmptyNodeSet,
			"cannot map %d nodes", numNodes)
	}
	for _, id := range popular {
		if id < 0 || id >= numNodes {
			return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
				"popular node %d outside [0, %d)", id, numNodes)
		}
	}

	hot := append([]int(nil), popular...)
	good := mp.geometry.GoodChunks()
	bad := mp.geometry.BadChunks()
	mp.rng.Shuffle(len(hot), func(i, j int) { hot[i], hot[j] = hot[j], hot[i] })
	mp.rng.Shuffle(len(good), func(i, j int) { good[i], good[j] = good[j], good[i] })
	mp.rng.Shuffle(len(bad), func(i, j int) { bad[i], bad[j] = bad[j], bad[i] })

	m := newMapping(numNodes, mp.geometry.ChunkSize)
	hotQ := &queue[int]{items: hot}
	goodQ := &queue[int64]{items: good}
	badQ := &queue[int64]{items: bad}
	scan := &unmappedScan{m: m}

	limit := int(math.Floor(float64(len(hot)) * mp.policy.GoodOffsetRatio))
	phases := []struct {
		name  string
		nodes nodeSource
		slots *queue[int64]
		class Class
		limit int
	}{
		{"popular to good", popularSource{hotQ, m}, goodQ, ClassGood, limit},
		{"popular to bad", popularSource{hotQ, m}, badQ, ClassBad, -1},
		{"remaining to bad", scanSource{scan}, badQ, ClassBad, -1},
		{"remaining to good", scanSource{scan}, goodQ, ClassGood, -1},
	}

	for _, ph := range phases {
		assigned, end := assignPhase(m, ph.nodes, ph.slots, ph.class, ph.limit)
		m.stats.Phases = append(m.stats.Phases, Phase{Name: ph.name, Assigned: assigned, End: end})
		log.Printf("layout: %s: %d nodes (%s)", ph.name, assigned, end)
	}

	mp.tally(m, popular)

	if m.Unmapped() > 0 && !mp.policy.AllowUnmapped {
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInsufficientOffsets,
			"%d of %d nodes have no position; the file holds %d positions",
			m.Unmapped(), numNodes, mp.geometry.Capacity()).WithDetails(map[string]interface{}{
			"num_nodes": numNodes,
			"capacity":  mp.geometry.Capacity(),
			"unmapped":  m.Unmapped(),
		})
	}
	if m.Unmapped() > 0 {
		log.Printf("layout: %d nodes left unmapped; their operations will be skipped", m.Unmapped())
	}
	return m, nil
}

// assignPhase pairs nodes with slots until one side runs out or limit
// assignments were made. A negative limit means no limit.
func assignPhase(m *Mapping, nodes nodeSource, slots *queue[int64], class Class, limit int) (int, End) {
	assigned := 0
	for {
		if limit >= 0 && assigned >= limit {
			return assigned, limitReached
		}
		if slots.empty() {
			return assigned, offsetsExhausted
		}
		node, ok := nodes.next()
		if !ok {
			return assigned, nodesExhausted
		}
		m.assign(node, slots.pop(), class)
		assigned++
	}
}

func (mp *Mapper) tally(m *Mapping, popular []int) {
	hot := make(map[int]struct{}, len(popular))
	for _, id := range popular {
		hot[id] = struct{}{}
	}
	for node := 0; node < m.NumNodes(); node++ {
		_, isHot := hot[node]
		switch m.Class(node) {
		case ClassGood:
			if isHot {
				m.stats.PopularGood++
			} else {
				m.stats.UnpopularGood++
			}
		case ClassBad:
			if isHot {
				m.stats.PopularBad++
			} else {
				m.stats.UnpopularBad++
			}
		default:
			m.stats.Unmapped++
		}
	}
}
