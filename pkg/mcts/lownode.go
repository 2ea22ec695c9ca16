package mcts

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// inlineChildren is the number of child slots allocated inside the LowNode
// itself. Most positions realize only a couple of children early in the
// search; inlining them avoids an allocation and keeps hot data together.
const inlineChildren = 2

// maxEdges is the largest legal-move count a position may carry.
const maxEdges = 255

// NNEval is a network evaluation ready to be installed into a LowNode:
// an edge array with priors filled in, plus the value head outputs from the
// point of view of the player who just moved into the position.
type NNEval struct {
	Edges []Edge
	WL    float32
	D     float32
	M     float32
}

// LowNode is a position shared by every arc that reaches it: the immutable
// edge array, the realized children (two inline slots plus one on-demand
// spill array for indices >= 2), the aggregated statistics of the subtree
// and the parent count that keeps it alive in the transposition table.
//
// Like Node, the aggregates are single-writer per visit and read through
// atomics. Child realization is lock-free: slots are claimed by CAS on the
// child's index and published with its final-index store; spill growth is
// monotonic so child pointers stay valid for the LowNode's lifetime.
type LowNode struct {
	staticChildren [inlineChildren]Node

	wl atomic.Uint64 // float64 bits

	edges []Edge

	// Spill array for children at indices >= inlineChildren, sized
	// numEdges-inlineChildren, allocated on first use and never replaced.
	dynamicChildren atomic.Pointer[[]Node]

	d atomic.Uint32 // float32 bits
	m atomic.Uint32 // float32 bits
	n atomic.Uint32

	// How many child slots are currently backed by memory.
	allocatedChildren atomic.Int32

	numParents atomic.Int32

	numEdges uint8

	terminalType Terminal
	lowerBound   chess.GameResult
	upperBound   chess.GameResult

	// Latched forever once a second parent appears.
	isTransposition atomic.Bool
}

// NewLowNode builds a position from a legal move list with zero priors.
func NewLowNode(moves []chess.Move) *LowNode {
	ln := newEmptyLowNode()
	ln.SetMoves(moves)
	return ln
}

// NewLowNodeWithChild builds a position from a move list and eagerly
// realizes the child at the given edge index.
func NewLowNodeWithChild(moves []chess.Move, index int) *LowNode {
	ln := NewLowNode(moves)
	ln.InsertChildAt(index)
	return ln
}

// CloneLowNode copies another position's edges and network outputs into a
// fresh, unvisited, unshared LowNode. Used for positions that must not be
// interned, such as a search root about to receive prior noise.
func CloneLowNode(src *LowNode) *LowNode {
	ln := newEmptyLowNode()
	ln.edges = make([]Edge, len(src.edges))
	copy(ln.edges, src.edges)
	ln.numEdges = src.numEdges
	ln.wl.Store(src.wl.Load())
	ln.d.Store(src.d.Load())
	ln.m.Store(src.m.Load())
	return ln
}

func newEmptyLowNode() *LowNode {
	ln := &LowNode{}
	ln.lowerBound = chess.BlackWon
	ln.upperBound = chess.WhiteWon
	ln.allocatedChildren.Store(inlineChildren)
	for i := range ln.staticChildren {
		ln.staticChildren[i].Reset()
	}
	return ln
}

// SetMoves installs the edge array from a move list with zero priors.
// Legal only on a position that has no edges yet.
func (ln *LowNode) SetMoves(moves []chess.Move) {
	if ln.edges != nil {
		panic("mcts: low node already has edges")
	}
	if len(moves) > maxEdges {
		panic(fmt.Sprintf("mcts: %d moves exceed the edge limit", len(moves)))
	}
	ln.edges = NewEdges(moves)
	ln.numEdges = uint8(len(moves))
}

// SetNNEval installs a network evaluation: the edge array with priors and
// the value head outputs. Legal only on an unvisited position without edges.
func (ln *LowNode) SetNNEval(eval *NNEval) {
	if ln.edges != nil {
		panic("mcts: low node already has edges")
	}
	if ln.n.Load() != 0 {
		panic("mcts: low node already visited")
	}
	if len(eval.Edges) > maxEdges {
		panic(fmt.Sprintf("mcts: %d edges exceed the edge limit", len(eval.Edges)))
	}
	ln.edges = make([]Edge, len(eval.Edges))
	copy(ln.edges, eval.Edges)
	ln.numEdges = uint8(len(eval.Edges))
	ln.wl.Store(math.Float64bits(float64(eval.WL)))
	ln.d.Store(math.Float32bits(eval.D))
	ln.m.Store(math.Float32bits(eval.M))
}

func (ln *LowNode) HasChildren() bool { return ln.numEdges > 0 }

func (ln *LowNode) NumEdges() int { return int(ln.numEdges) }

// EdgeAt returns the edge at the given index.
func (ln *LowNode) EdgeAt(index int) *Edge { return &ln.edges[index] }

func (ln *LowNode) N() uint32 { return ln.n.Load() }

// ChildrenVisits returns the visits that continued past this position.
func (ln *LowNode) ChildrenVisits() uint32 {
	if n := ln.n.Load(); n > 0 {
		return n - 1
	}
	return 0
}

func (ln *LowNode) WL() float64 { return math.Float64frombits(ln.wl.Load()) }
func (ln *LowNode) D() float32  { return math.Float32frombits(ln.d.Load()) }
func (ln *LowNode) M() float32  { return math.Float32frombits(ln.m.Load()) }

func (ln *LowNode) IsTerminal() bool { return ln.terminalType != NonTerminal }

func (ln *LowNode) TerminalType() Terminal { return ln.terminalType }

func (ln *LowNode) Bounds() Bounds {
	return Bounds{Lower: ln.lowerBound, Upper: ln.upperBound}
}

func (ln *LowNode) SetBounds(lower, upper chess.GameResult) {
	ln.lowerBound = lower
	ln.upperBound = upper
}

// SortEdges orders the edges by descending prior. Sorting after any child
// has been realized is a contract violation: realized children record their
// index into the edge array and would be left pointing at the wrong move.
func (ln *LowNode) SortEdges() {
	if ln.edges == nil {
		panic("mcts: sorting a low node without edges")
	}
	if ln.hasRealizedChild() {
		panic("mcts: sorting edges after a child was realized")
	}
	SortEdges(ln.edges)
}

func (ln *LowNode) hasRealizedChild() bool {
	for i := range ln.staticChildren {
		if ln.staticChildren[i].Realized() {
			return true
		}
	}
	if spill := ln.dynamicChildren.Load(); spill != nil {
		for i := range *spill {
			if (*spill)[i].Realized() {
				return true
			}
		}
	}
	return false
}

// AddParent registers one more arc pointing at this position. The second
// parent latches the transposition flag permanently.
func (ln *LowNode) AddParent() {
	if ln.numParents.Add(1) > 1 {
		ln.isTransposition.Store(true)
	}
}

// RemoveParent drops one arc. A position with zero parents is unreachable
// and eligible for eviction by the next maintenance sweep.
func (ln *LowNode) RemoveParent() {
	if ln.numParents.Add(-1) < 0 {
		panic("mcts: negative parent count")
	}
}

func (ln *LowNode) NumParents() int { return int(ln.numParents.Load()) }

func (ln *LowNode) IsTransposition() bool { return ln.isTransposition.Load() }

// GetChildAt returns the realized child at the given edge index, or nil.
func (ln *LowNode) GetChildAt(index int) *Node {
	slot := ln.slotAt(index)
	if slot == nil || !slot.Realized() {
		return nil
	}
	return slot
}

// GetChild returns the first realized child, or nil.
func (ln *LowNode) GetChild() *Node {
	for i := 0; i < ln.NumEdges(); i++ {
		if child := ln.GetChildAt(i); child != nil {
			return child
		}
	}
	return nil
}

// slotAt locates the storage slot for the given edge index without
// allocating; nil when the spill is not backed yet.
func (ln *LowNode) slotAt(index int) *Node {
	if index < inlineChildren {
		if index >= int(ln.numEdges) {
			return nil
		}
		return &ln.staticChildren[index]
	}
	spill := ln.dynamicChildren.Load()
	if spill == nil {
		return nil
	}
	return &(*spill)[index-inlineChildren]
}

// InsertChildAt realizes the child at the given edge index, idempotently.
// Exactly one caller claims the slot via CAS from constructed to assigning,
// copies the edge and publishes the final index; racing callers spin for the
// winner's bounded publish and everyone returns the same pointer.
func (ln *LowNode) InsertChildAt(index int) *Node {
	if index < 0 || index >= int(ln.numEdges) {
		panic(fmt.Sprintf("mcts: child index %d out of %d edges", index, ln.numEdges))
	}
	var slot *Node
	if index < inlineChildren {
		slot = &ln.staticChildren[index]
	} else {
		spill := ln.allocateSpill()
		slot = &(*spill)[index-inlineChildren]
	}
	for {
		switch cur := slot.index.Load(); cur {
		case uint32(index):
			return slot
		case indexConstructed:
			if slot.index.CompareAndSwap(indexConstructed, indexAssigning) {
				slot.edge = ln.edges[index]
				slot.index.Store(uint32(index))
				return slot
			}
		case indexAssigning:
			runtime.Gosched()
		default:
			panic(fmt.Sprintf("mcts: child slot %d published with index %d", index, cur))
		}
	}
}

// allocateSpill backs the spill array, once. Growth is monotonic; the slice
// is never replaced, so child pointers handed out earlier stay valid.
func (ln *LowNode) allocateSpill() *[]Node {
	if spill := ln.dynamicChildren.Load(); spill != nil {
		return spill
	}
	arr := make([]Node, int(ln.numEdges)-inlineChildren)
	for i := range arr {
		arr[i].Reset()
	}
	if ln.dynamicChildren.CompareAndSwap(nil, &arr) {
		ln.allocatedChildren.Store(int32(ln.numEdges))
		return &arr
	}
	return ln.dynamicChildren.Load()
}

// AllocatedChildren returns how many child slots are currently backed.
func (ln *LowNode) AllocatedChildren() int {
	return int(ln.allocatedChildren.Load())
}

// CancelScoreUpdate is the position half of an abandoned visit. Positions
// carry no virtual loss, and the aggregates only move on completed visits,
// so there is nothing to undo here; the call exists to keep the pairing
// discipline symmetric with Node.
func (ln *LowNode) CancelScoreUpdate(multivisit int) {
	_ = multivisit
}

// FinalizeScoreUpdate merges a completed visit into the position aggregates,
// so transposed positions accumulate joint statistics visible through every
// parent arc.
func (ln *LowNode) FinalizeScoreUpdate(v float64, d, m float32, multivisit int) {
	k := float64(multivisit)
	total := float64(ln.n.Load()) + k
	ln.wl.Store(math.Float64bits(ln.WL() + k*(v-ln.WL())/total))
	ln.d.Store(math.Float32bits(ln.D() + float32(k*(float64(d)-float64(ln.D()))/total)))
	ln.m.Store(math.Float32bits(ln.M() + float32(k*(float64(m)-float64(ln.M()))/total)))
	ln.n.Add(uint32(multivisit))
}

// AdjustForTerminal shifts the aggregates by deltas over multivisit of the
// existing visits without changing n.
func (ln *LowNode) AdjustForTerminal(v float64, d, m float32, multivisit int) {
	k := float64(multivisit)
	total := float64(ln.n.Load())
	if total == 0 {
		panic("mcts: terminal adjustment on unvisited low node")
	}
	ln.wl.Store(math.Float64bits(ln.WL() + k*v/total))
	ln.d.Store(math.Float32bits(ln.D() + float32(k*float64(d)/total)))
	ln.m.Store(math.Float32bits(ln.M() + float32(k*float64(m)/total)))
}

// MakeTerminal fixes the position's value to the exact game result, from
// the point of view of the player who just moved into it.
func (ln *LowNode) MakeTerminal(result chess.GameResult, pliesLeft float32, typ Terminal) {
	ln.terminalType = typ
	ln.lowerBound = result
	ln.upperBound = result
	ln.m.Store(math.Float32bits(pliesLeft))
	switch result {
	case chess.Draw:
		ln.wl.Store(math.Float64bits(0))
		ln.d.Store(math.Float32bits(1))
	case chess.WhiteWon:
		ln.wl.Store(math.Float64bits(1))
		ln.d.Store(0)
	case chess.BlackWon:
		ln.wl.Store(math.Float64bits(-1))
		ln.d.Store(0)
	default:
		panic(fmt.Sprintf("mcts: cannot make low node terminal with result %v", result))
	}
}

// MakeNotTerminal clears terminal status and recomputes bounds, visits and
// values from the realized children, seen through the supplied parent arc.
// Bounds tighten from the children only when every edge has a realized
// child; otherwise an unvisited move could still hold any result and the
// interval stays at its widest.
func (ln *LowNode) MakeNotTerminal(via *Node) {
	ln.terminalType = NonTerminal
	ln.lowerBound = chess.BlackWon
	ln.upperBound = chess.WhiteWon

	n := uint32(1)
	var wl float64
	var d, m float64
	lower, upper := chess.WhiteWon, chess.BlackWon
	complete := ln.numEdges > 0
	for i := 0; i < ln.NumEdges(); i++ {
		child := ln.GetChildAt(i)
		if child == nil {
			complete = false
			continue
		}
		childBounds := child.Bounds()
		lower = minResult(lower, -childBounds.Upper)
		upper = maxResult(upper, -childBounds.Lower)
		if cn := child.N(); cn > 0 {
			n += cn
			// Children are scored by the opposing player; flip back.
			wl += -child.WL() * float64(cn)
			d += float64(child.D()) * float64(cn)
			m += (float64(child.M()) + 1) * float64(cn)
		}
	}
	if complete {
		ln.lowerBound = lower
		ln.upperBound = upper
	}
	if n > 1 {
		ln.wl.Store(math.Float64bits(wl / float64(n)))
		ln.d.Store(math.Float32bits(float32(d / float64(n))))
		ln.m.Store(math.Float32bits(float32(m / float64(n))))
	} else if via != nil {
		// No surviving child visits; fall back to the arc's recorded view.
		ln.wl.Store(math.Float64bits(via.WL()))
		ln.d.Store(math.Float32bits(via.D()))
		ln.m.Store(math.Float32bits(via.M()))
	}
	ln.n.Store(n)
}

// ReleaseChildren resets every realized child, decrementing the parent
// counts of their positions, and drops the spill array. Callers guarantee
// no thread still holds a child pointer.
func (ln *LowNode) ReleaseChildren() {
	for i := range ln.staticChildren {
		if ln.staticChildren[i].Realized() {
			ln.staticChildren[i].Reset()
		}
	}
	if spill := ln.dynamicChildren.Load(); spill != nil {
		for i := range *spill {
			if (*spill)[i].Realized() {
				(*spill)[i].Reset()
			}
		}
		ln.dynamicChildren.Store(nil)
	}
	ln.allocatedChildren.Store(inlineChildren)
}

// ReleaseChildrenExceptOne moves the saved child into the first inline slot,
// releases every other child and returns the saved child's new location.
// The kept child's edge is swapped to the front of the edge array and the
// child renumbered to index 0, so child storage stays positional for any
// later realization through a transposed parent. With a nil save everything
// is released and nil returned.
func (ln *LowNode) ReleaseChildrenExceptOne(save *Node) *Node {
	if save == nil {
		ln.ReleaseChildren()
		return nil
	}
	keptIdx := save.Index()
	var kept Node
	kept.moveFrom(save)
	ln.ReleaseChildren()
	dst := &ln.staticChildren[0]
	dst.moveFrom(&kept)
	if keptIdx != 0 {
		ln.edges[0], ln.edges[keptIdx] = ln.edges[keptIdx], ln.edges[0]
		dst.index.Store(0)
	}
	return dst
}
