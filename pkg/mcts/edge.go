package mcts

import (
	"fmt"
	"math"
	"slices"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// Edge is a potential move out of a LowNode together with its policy prior.
// Edges are immutable once search visits begin; the only permitted mutation
// is the one-shot descending-prior sort while no child has been realized.
type Edge struct {
	move chess.Move

	// Policy prior compressed to a 16-bit minifloat: 5 bits of exponent,
	// 11 bits of significand. Covers [0, 1] with an exact round-trip for
	// every representable value and monotonic ordering for the rest.
	p uint16
}

// NewEdges builds an edge array from a legal move list with zero priors.
func NewEdges(moves []chess.Move) []Edge {
	edges := make([]Edge, len(moves))
	for i, m := range moves {
		edges[i].move = m
	}
	return edges
}

// Move returns the stored move, flipped to the opponent's perspective when
// asOpponent is set.
func (e *Edge) Move(asOpponent bool) chess.Move {
	if asOpponent {
		return chess.FlipPerspective(e.move)
	}
	return e.move
}

// P returns the decoded policy prior.
func (e *Edge) P() float32 {
	return decompressP(e.p)
}

// SetP stores a prior. Values outside [0, 1] are a contract violation.
func (e *Edge) SetP(p float32) {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("mcts: prior %v out of [0, 1]", p))
	}
	e.p = compressP(p)
}

func (e *Edge) String() string {
	return fmt.Sprintf("Edge{%s p=%.4f}", e.move.String(), e.P())
}

// SortEdges orders edges by descending prior. The caller guarantees that no
// child has been realized yet; LowNode.SortEdges enforces that.
func SortEdges(edges []Edge) {
	// The encoding is monotonic, so raw compressed values sort like the
	// decoded priors. Stable keeps generation order among equal priors.
	slices.SortStableFunc(edges, func(a, b Edge) int {
		return int(b.p) - int(a.p)
	})
}

const pRoundings = int32(1<<11) - int32(3<<28)

func compressP(p float32) uint16 {
	tmp := int32(math.Float32bits(p)) + pRoundings
	if tmp < 0 {
		return 0
	}
	return uint16(tmp >> 12)
}

func decompressP(c uint16) float32 {
	tmp := uint32(c) << 12
	if tmp != 0 {
		tmp += 3 << 28
	}
	return math.Float32frombits(tmp)
}
