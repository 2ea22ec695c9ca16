package mcts

import (
	"fmt"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// EdgeAndNode pairs an edge with its realized node, if any, and offers the
// proxies the selection policy ranks children by. The node may be nil for a
// dangling edge.
type EdgeAndNode struct {
	edge *Edge
	node *Node
}

func (en EdgeAndNode) Edge() *Edge { return en.edge }
func (en EdgeAndNode) Node() *Node { return en.node }

func (en EdgeAndNode) HasNode() bool { return en.node != nil }

// Q returns the node value with the draw score mixed in, or defaultQ for an
// unvisited child.
func (en EdgeAndNode) Q(defaultQ, drawScore float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.Q(drawScore)
	}
	return defaultQ
}

func (en EdgeAndNode) WL(defaultWL float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.WL()
	}
	return defaultWL
}

func (en EdgeAndNode) D(defaultD float32) float32 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.D()
	}
	return defaultD
}

func (en EdgeAndNode) M(defaultM float32) float32 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.M()
	}
	return defaultM
}

func (en EdgeAndNode) N() uint32 {
	if en.node != nil {
		return en.node.N()
	}
	return 0
}

func (en EdgeAndNode) NStarted() uint32 {
	if en.node != nil {
		return en.node.NStarted()
	}
	return 0
}

func (en EdgeAndNode) NInFlight() int32 {
	if en.node != nil {
		return en.node.NInFlight()
	}
	return 0
}

func (en EdgeAndNode) IsTerminal() bool {
	return en.node != nil && en.node.IsTerminal()
}

func (en EdgeAndNode) IsTbTerminal() bool {
	return en.node != nil && en.node.IsTbTerminal()
}

func (en EdgeAndNode) Bounds() Bounds {
	if en.node != nil {
		return en.node.Bounds()
	}
	return widestBounds()
}

// P prefers the node's edge copy, which may have been renormalized, over the
// parent's stored prior.
func (en EdgeAndNode) P() float32 {
	if en.node != nil {
		return en.node.P()
	}
	return en.edge.P()
}

func (en EdgeAndNode) GetMove(asOpponent bool) chess.Move {
	if en.edge != nil {
		return en.edge.Move(asOpponent)
	}
	return chess.Move(0)
}

// U returns the exploration term numerator * p / (1 + nStarted). The caller
// passes cpuct * sqrt(parent visits) as the numerator.
func (en EdgeAndNode) U(numerator float64) float64 {
	return numerator * float64(en.P()) / float64(1+en.NStarted())
}

func (en EdgeAndNode) String() string {
	return fmt.Sprintf("EdgeAndNode{%v, %v}", en.edge, en.node)
}

// EdgeIterator walks a position's edges in stored order, yielding the edge
// together with the realized child when one exists. It is a plain cursor,
// not safe for concurrent use by multiple goroutines, but GetOrSpawnNode is
// safe against other threads realizing the same edge (the position's CAS
// serializes them).
//
//	for it := low.Edges(); it.Ok(); it.Next() { ... }
type EdgeIterator struct {
	EdgeAndNode
	parent *LowNode
	idx    int
	total  int
}

// Edges returns an edge cursor over the position.
func (ln *LowNode) Edges() EdgeIterator {
	it := EdgeIterator{parent: ln}
	if ln != nil && ln.NumEdges() > 0 {
		it.total = ln.NumEdges()
		it.edge = ln.EdgeAt(0)
		it.node = ln.GetChildAt(0)
	}
	return it
}

// Edges returns an edge cursor over the node's child position.
func (nd *Node) Edges() EdgeIterator {
	if nd.child == nil {
		return EdgeIterator{}
	}
	return nd.child.Edges()
}

// Ok reports whether the cursor points at an edge.
func (it *EdgeIterator) Ok() bool { return it.edge != nil }

// Index returns the current edge index.
func (it *EdgeIterator) Index() int { return it.idx }

// Next advances to the following edge.
func (it *EdgeIterator) Next() {
	it.idx++
	if it.idx >= it.total {
		it.edge = nil
		it.node = nil
		return
	}
	it.edge = it.parent.EdgeAt(it.idx)
	it.node = it.parent.GetChildAt(it.idx)
}

// GetOrSpawnNode returns the realized child for the current edge, creating
// it first if needed.
func (it *EdgeIterator) GetOrSpawnNode() *Node {
	if it.node == nil {
		it.node = it.parent.InsertChildAt(it.idx)
	}
	return it.node
}

// VisitedNodeIterator walks only the realized children with at least one
// completed visit. Because edges are sorted by descending prior before any
// child is realized, the first realized child with zero started visits ends
// the walk: every later child must have zero started visits too.
type VisitedNodeIterator struct {
	parent *LowNode
	node   *Node
	idx    int
	total  int
}

// VisitedChildren returns a cursor over the position's visited children.
func (ln *LowNode) VisitedChildren() VisitedNodeIterator {
	it := VisitedNodeIterator{parent: ln, idx: -1}
	if ln == nil || ln.NumEdges() == 0 {
		return it
	}
	it.total = ln.NumEdges()
	// The first child goes through the same branching as the rest: a
	// realized child that is idle with zero visits ends the walk right away.
	it.Next()
	return it
}

// VisitedChildren returns a cursor over the node's child position.
func (nd *Node) VisitedChildren() VisitedNodeIterator {
	if nd.child == nil {
		return VisitedNodeIterator{}
	}
	return nd.child.VisitedChildren()
}

// Ok reports whether the cursor points at a visited child.
func (it *VisitedNodeIterator) Ok() bool { return it.node != nil }

// Node returns the current child.
func (it *VisitedNodeIterator) Node() *Node { return it.node }

// Next advances to the following visited child.
func (it *VisitedNodeIterator) Next() {
	for {
		it.idx++
		if it.idx >= it.total {
			it.node = nil
			return
		}
		it.node = it.parent.GetChildAt(it.idx)
		if it.node == nil {
			// Sorted priors make realization prefix-shaped; an unrealized
			// slot means no visited child can follow.
			return
		}
		if it.node.N() > 0 {
			return
		}
		if it.node.NInFlight() == 0 {
			// Sorted priors: the first zero-started realized child marks
			// the start of the never-started tail.
			it.node = nil
			return
		}
	}
}
