package mcts

import (
	"fmt"
	"slices"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// Tree holds one game's search DAG: the game-begin node, the current head
// the search descends from, the move history, the transposition table that
// owns every shared position, and the side collection of positions that must
// not be shared. Lifecycle operations (MakeMove, ResetToPosition, release)
// require that no search is running; the concurrency protocol only covers
// the descend/expand/back-up phase.
type Tree struct {
	currentHead   *Node
	gamebeginNode *Node
	history       *chess.PositionHistory
	moves         []chess.Move

	tt *TranspositionTable

	// Positions owned directly by the tree, never interned or shared:
	// root-like clones carrying search-only prior noise.
	nonTT []*LowNode
}

// NewTree returns an empty tree; ResetToPosition installs the first game.
func NewTree() *Tree {
	return &Tree{tt: NewTranspositionTable()}
}

func newRootNode() *Node {
	nd := &Node{}
	nd.Reset()
	return nd
}

// GetCurrentHead returns the node the search currently starts from.
func (t *Tree) GetCurrentHead() *Node { return t.currentHead }

// GetGameBeginNode returns the root of the whole game.
func (t *Tree) GetGameBeginNode() *Node { return t.gamebeginNode }

// HeadPosition returns the position at the current head.
func (t *Tree) HeadPosition() chess.Position { return t.history.Last() }

func (t *Tree) GetPlyCount() int { return t.HeadPosition().GamePly() }

func (t *Tree) IsBlackToMove() bool { return t.HeadPosition().IsBlackToMove() }

// GetPositionHistory returns the history backing the head.
func (t *Tree) GetPositionHistory() *chess.PositionHistory { return t.history }

// GetMoves returns the moves played from the starting position.
func (t *Tree) GetMoves() []chess.Move { return t.moves }

// ResetToPosition installs a game defined by a starting FEN and a move list.
// When the new history extends the current one, the head walks forward and
// the subtree reachable from the new head survives; otherwise everything is
// deallocated and rebuilt. Returns whether the tree was reused.
func (t *Tree) ResetToPosition(fen string, moves []chess.Move) (bool, error) {
	reusable := t.gamebeginNode != nil && t.history != nil &&
		t.history.StartingFen() == fen &&
		len(moves) >= len(t.moves) &&
		slices.Equal(t.moves, moves[:len(t.moves)])

	if !reusable {
		history, err := chess.NewPositionHistory(fen)
		if err != nil {
			return false, err
		}
		t.DeallocateTree()
		t.history = history
		t.gamebeginNode = newRootNode()
		t.currentHead = t.gamebeginNode
		t.moves = nil
	}
	for _, m := range moves[len(t.moves):] {
		t.MakeMove(m)
	}
	t.TrimTreeAtHead()
	return reusable, nil
}

// MakeMove advances the head one ply, keeping exactly the arc of the played
// move and releasing its siblings. The released arcs drop their positions'
// parent counts; a later TTMaintenance reclaims positions that hit zero.
func (t *Tree) MakeMove(m chess.Move) {
	pos := t.HeadPosition()
	low := t.currentHead.Child()
	if low == nil {
		// The head was never expanded; intern its position now so the new
		// arc has somewhere to live.
		ln, _ := t.tt.GetOrCreate(pos.Hash())
		if ln.edges == nil {
			ln.SetMoves(pos.LegalMoves())
		}
		t.currentHead.SetChild(ln)
		low = ln
	}
	idx := low.edgeIndexOf(m)
	if idx < 0 {
		panic(fmt.Sprintf("mcts: move %s not found among the head's edges", m.String()))
	}
	child := low.InsertChildAt(idx)
	t.currentHead = low.ReleaseChildrenExceptOne(child)
	t.history.Append(m)
	t.moves = append(t.moves, m)
}

// TrimTreeAtHead clears per-search state from the head node so a fresh
// search starts cleanly without losing the structure below it.
func (t *Tree) TrimTreeAtHead() {
	if t.currentHead != nil {
		t.currentHead.Trim()
	}
}

// DeallocateTree drops the whole DAG: the game nodes, every interned
// position and the side collection. Callers guarantee no search is running.
func (t *Tree) DeallocateTree() {
	if t.gamebeginNode != nil {
		t.gamebeginNode.UnsetChild()
		t.gamebeginNode = nil
	}
	t.currentHead = nil
	t.history = nil
	t.moves = nil
	t.tt.Clear()
	t.nonTTClear()
}

// TTFind looks a position up by hash. The reference is borrowed.
func (t *Tree) TTFind(hash uint64) *LowNode { return t.tt.Find(hash) }

// TTGetOrCreate interns the hash, creating an empty position if absent.
// Exactly one concurrent creator sees created == true.
func (t *Tree) TTGetOrCreate(hash uint64) (*LowNode, bool) {
	return t.tt.GetOrCreate(hash)
}

// TTMaintenance evicts unreachable positions from the table and sweeps the
// non-shared side collection.
func (t *Tree) TTMaintenance() {
	t.tt.Maintenance()
	t.nonTTMaintenance()
}

// TTClear drops every interned position. Callers guarantee no outstanding
// references.
func (t *Tree) TTClear() { t.tt.Clear() }

// TTLen returns the number of interned positions.
func (t *Tree) TTLen() int { return t.tt.Len() }

// NonTTAddClone copies a position into the side collection, outside the
// table: never indexed by hash, never shared between parents.
func (t *Tree) NonTTAddClone(src *LowNode) *LowNode {
	clone := CloneLowNode(src)
	t.nonTT = append(t.nonTT, clone)
	return clone
}

func (t *Tree) nonTTMaintenance() {
	kept := t.nonTT[:0]
	for _, ln := range t.nonTT {
		if ln.NumParents() == 0 && !ln.hasInFlight() {
			ln.ReleaseChildren()
			continue
		}
		kept = append(kept, ln)
	}
	t.nonTT = kept
}

func (t *Tree) nonTTClear() {
	for _, ln := range t.nonTT {
		ln.ReleaseChildren()
	}
	t.nonTT = nil
}

// edgeIndexOf locates the edge storing the given move, or -1.
func (ln *LowNode) edgeIndexOf(m chess.Move) int {
	for i := range ln.edges {
		if ln.edges[i].move == m {
			return i
		}
	}
	return -1
}
