package mcts

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// Sentinels stored in a Node's index while it is not yet realized. Any value
// below indexAssigning is a real edge index, so a single atomic load tells
// both which edge a node belongs to and whether it is visible yet.
const (
	indexConstructed uint32 = 0xFFFF
	indexAssigning   uint32 = 0x7FFF
)

// Node is a realized edge: an arc of the search DAG carrying visit counts,
// running value averages and the link to the position it leads to.
//
// wl, d, m and n are written only by the thread that owns the current visit
// (the one whose TryStartScoreUpdate succeeded); they are stored through
// atomics so concurrent selection reads stale-but-consistent values.
// wl is the average W minus L over the visited subtree, from the point of
// view of the player who just played this node's move. d is the average draw
// probability and m the average estimated remaining plies.
type Node struct {
	wl    atomic.Uint64 // float64 bits
	child *LowNode

	d atomic.Uint32 // float32 bits
	m atomic.Uint32 // float32 bits
	n atomic.Uint32

	// Virtual loss: number of threads currently descending through this
	// node. Added to n during selection so concurrent workers spread out.
	nInFlight atomic.Int32

	// Copy of the parent's edge at this node's index, so the selection hot
	// loop reads move and prior without chasing the parent's edge array.
	edge Edge

	index atomic.Uint32

	terminalType Terminal
	lowerBound   chess.GameResult
	upperBound   chess.GameResult
}

// Reset returns the node to the freshly constructed state. Any child link is
// dropped first, with the matching parent-count decrement.
func (nd *Node) Reset() {
	nd.UnsetChild()
	nd.wl.Store(0)
	nd.d.Store(0)
	nd.m.Store(0)
	nd.n.Store(0)
	nd.nInFlight.Store(0)
	nd.edge = Edge{}
	nd.terminalType = NonTerminal
	nd.lowerBound = chess.BlackWon
	nd.upperBound = chess.WhiteWon
	nd.index.Store(indexConstructed)
}

// Trim clears per-search state (visits, values, virtual loss, terminal
// status) while keeping the edge, the index and the child link, so the
// subtree below stays reusable.
func (nd *Node) Trim() {
	nd.wl.Store(0)
	nd.d.Store(0)
	nd.m.Store(0)
	nd.n.Store(0)
	nd.nInFlight.Store(0)
	nd.terminalType = NonTerminal
	nd.lowerBound = chess.BlackWon
	nd.upperBound = chess.WhiteWon
}

// moveFrom transfers src's whole state into nd and resets src. The child
// link moves over without touching the low node's parent count.
func (nd *Node) moveFrom(src *Node) {
	nd.wl.Store(src.wl.Load())
	nd.child = src.child
	src.child = nil // ownership transferred, parent count unchanged
	nd.d.Store(src.d.Load())
	nd.m.Store(src.m.Load())
	nd.n.Store(src.n.Load())
	nd.nInFlight.Store(src.nInFlight.Load())
	nd.edge = src.edge
	nd.terminalType = src.terminalType
	nd.lowerBound = src.lowerBound
	nd.upperBound = src.upperBound
	nd.index.Store(src.index.Load())
	src.Reset()
}

// Realized reports whether the node has been published at a real edge index.
func (nd *Node) Realized() bool {
	return nd.index.Load() < indexAssigning
}

// Index returns the node's position in the parent's edge array.
func (nd *Node) Index() int {
	return int(nd.index.Load())
}

func (nd *Node) N() uint32 { return nd.n.Load() }

func (nd *Node) NInFlight() int32 { return nd.nInFlight.Load() }

// NStarted returns n plus the virtual loss, the count selection ranks by.
func (nd *Node) NStarted() uint32 {
	return nd.n.Load() + uint32(nd.nInFlight.Load())
}

func (nd *Node) WL() float64 { return math.Float64frombits(nd.wl.Load()) }
func (nd *Node) D() float32  { return math.Float32frombits(nd.d.Load()) }
func (nd *Node) M() float32  { return math.Float32frombits(nd.m.Load()) }

// Q returns the node value with the given draw score mixed in.
func (nd *Node) Q(drawScore float64) float64 {
	return nd.WL() + drawScore*float64(nd.D())
}

func (nd *Node) IsTerminal() bool   { return nd.terminalType != NonTerminal }
func (nd *Node) IsTbTerminal() bool { return nd.terminalType == Tablebase }

func (nd *Node) TerminalType() Terminal { return nd.terminalType }

func (nd *Node) Bounds() Bounds {
	return Bounds{Lower: nd.lowerBound, Upper: nd.upperBound}
}

func (nd *Node) SetBounds(lower, upper chess.GameResult) {
	nd.lowerBound = lower
	nd.upperBound = upper
}

// Move returns the node's move, flipped to the opponent's perspective when
// asOpponent is set.
func (nd *Node) Move(asOpponent bool) chess.Move { return nd.edge.Move(asOpponent) }

func (nd *Node) P() float32     { return nd.edge.P() }
func (nd *Node) SetP(p float32) { nd.edge.SetP(p) }

// Child returns the position this arc leads to, or nil before linking.
func (nd *Node) Child() *LowNode { return nd.child }

// SetChild links the target position and registers this node as a parent.
func (nd *Node) SetChild(low *LowNode) {
	if nd.child != nil {
		panic("mcts: node already has a child low node")
	}
	nd.child = low
	low.AddParent()
}

// UnsetChild drops the child link and the matching parent count.
func (nd *Node) UnsetChild() {
	if nd.child == nil {
		return
	}
	nd.child.RemoveParent()
	nd.child = nil
}

func (nd *Node) HasChildren() bool {
	return nd.child != nil && nd.child.HasChildren()
}

func (nd *Node) NumEdges() int {
	if nd.child == nil {
		return 0
	}
	return nd.child.NumEdges()
}

// VisitedPolicy returns the summed priors of children with at least one
// completed visit.
func (nd *Node) VisitedPolicy() float32 {
	if nd.child == nil {
		return 0
	}
	var sum float32
	for it := nd.VisitedChildren(); it.Ok(); it.Next() {
		sum += it.Node().P()
	}
	return sum
}

// TryStartScoreUpdate claims a visit by incrementing the virtual loss.
// It fails when the node is being exclusively expanded by another thread,
// which is exactly the state "never visited and one visit in flight".
func (nd *Node) TryStartScoreUpdate() bool {
	for {
		flight := nd.nInFlight.Load()
		if nd.n.Load() == 0 && flight > 0 {
			return false
		}
		if nd.nInFlight.CompareAndSwap(flight, flight+1) {
			return true
		}
	}
}

// CancelScoreUpdate retires multivisit virtual losses without recording a
// result. Used when the descent is abandoned.
func (nd *Node) CancelScoreUpdate(multivisit int) {
	if nd.nInFlight.Add(-int32(multivisit)) < 0 {
		panic("mcts: negative n-in-flight after cancel")
	}
}

// FinalizeScoreUpdate merges a freshly computed evaluation into the running
// averages, counts the visit and retires the virtual loss. v is relative to
// the player to move at this node.
func (nd *Node) FinalizeScoreUpdate(v float64, d, m float32, multivisit int) {
	k := float64(multivisit)
	total := float64(nd.n.Load()) + k
	nd.wl.Store(math.Float64bits(nd.WL() + k*(v-nd.WL())/total))
	nd.d.Store(math.Float32bits(nd.D() + float32(k*(float64(d)-float64(nd.D()))/total)))
	nd.m.Store(math.Float32bits(nd.M() + float32(k*(float64(m)-float64(nd.M()))/total)))
	nd.n.Add(uint32(multivisit))
	if nd.nInFlight.Add(-int32(multivisit)) < 0 {
		panic("mcts: negative n-in-flight after finalize")
	}
}

// AdjustForTerminal shifts the running averages by the given deltas over
// multivisit of the existing visits, without changing n. Used when a node in
// the subtree was re-classified as terminal.
func (nd *Node) AdjustForTerminal(v float64, d, m float32, multivisit int) {
	k := float64(multivisit)
	total := float64(nd.n.Load())
	if total == 0 {
		panic("mcts: terminal adjustment on unvisited node")
	}
	nd.wl.Store(math.Float64bits(nd.WL() + k*v/total))
	nd.d.Store(math.Float32bits(nd.D() + float32(k*float64(d)/total)))
	nd.m.Store(math.Float32bits(nd.M() + float32(k*float64(m)/total)))
}

// IncrementNInFlight amplifies the current visit to multivisit pseudo-visits.
func (nd *Node) IncrementNInFlight(multivisit int) {
	nd.nInFlight.Add(int32(multivisit))
}

// MakeTerminal fixes the node's value to the exact game result, given from
// this node's point of view: WhiteWon means a win for the player who just
// moved here.
func (nd *Node) MakeTerminal(result chess.GameResult, pliesLeft float32, typ Terminal) {
	nd.terminalType = typ
	nd.lowerBound = result
	nd.upperBound = result
	nd.m.Store(math.Float32bits(pliesLeft))
	switch result {
	case chess.Draw:
		nd.wl.Store(math.Float64bits(0))
		nd.d.Store(math.Float32bits(1))
	case chess.WhiteWon:
		nd.wl.Store(math.Float64bits(1))
		nd.d.Store(0)
	case chess.BlackWon:
		nd.wl.Store(math.Float64bits(-1))
		nd.d.Store(0)
	default:
		panic(fmt.Sprintf("mcts: cannot make node terminal with result %v", result))
	}
}

// MakeNotTerminal clears terminal status and widens the bounds back to the
// full interval. When alsoLowNode is set and a child position exists, the
// position recomputes its own bounds and averages from its realized
// children. The node's running averages are left as recorded; subsequent
// AdjustForTerminal calls from the search correct them incrementally.
func (nd *Node) MakeNotTerminal(alsoLowNode bool) {
	nd.terminalType = NonTerminal
	nd.lowerBound = chess.BlackWon
	nd.upperBound = chess.WhiteWon
	if alsoLowNode && nd.child != nil {
		nd.child.MakeNotTerminal(nd)
	}
}

// ZeroNInFlight reports whether every node reachable from nd has retired all
// of its virtual losses. Transpositions are visited once.
func (nd *Node) ZeroNInFlight() bool {
	seen := make(map[*LowNode]bool)
	return nd.zeroNInFlight(seen)
}

func (nd *Node) zeroNInFlight(seen map[*LowNode]bool) bool {
	if nd.nInFlight.Load() != 0 {
		return false
	}
	low := nd.child
	if low == nil || seen[low] {
		return true
	}
	seen[low] = true
	for i := 0; i < low.NumEdges(); i++ {
		if child := low.GetChildAt(i); child != nil {
			if !child.zeroNInFlight(seen) {
				return false
			}
		}
	}
	return true
}
