// Package search is a PUCT client of the mcts tree: workers descend from the
// head under the virtual-loss protocol, expand leaves through the
// transposition table, score them with an evaluator and back the results up.
package search

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Etcaqab/lc0/pkg/chess"
	"github.com/Etcaqab/lc0/pkg/mcts"
	"github.com/Etcaqab/lc0/pkg/nn"
)

// Searcher runs playouts over one tree. Create one per search; the tree may
// be reused across searchers via its own lifecycle operations.
type Searcher struct {
	tree     *mcts.Tree
	eval     nn.Evaluator
	params   Params
	limiter  *Limiter
	listener StatsListener

	wg         sync.WaitGroup
	cycles     atomic.Uint32
	collisions atomic.Uint32
	maxdepth   atomic.Int32

	errMu sync.Mutex
	err   error
}

func NewSearcher(tree *mcts.Tree, eval nn.Evaluator, params Params) *Searcher {
	return &Searcher{
		tree:     tree,
		eval:     eval,
		params:   params,
		limiter:  NewLimiter(),
		listener: NewStatsListener(),
	}
}

func (s *Searcher) Limiter() *Limiter { return s.limiter }

func (s *Searcher) SetLimits(l *Limits) { s.limiter.SetLimits(l) }

// SetContext enables cancellation of the search through a context.
func (s *Searcher) SetContext(ctx context.Context) { s.limiter.SetContext(ctx) }

func (s *Searcher) SetListener(listener StatsListener) { s.listener = listener }

// Stop asks the workers to finish their current playout and exit.
func (s *Searcher) Stop() { s.limiter.SetStop(true) }

// Cycles returns the number of completed playouts.
func (s *Searcher) Cycles() uint32 { return s.cycles.Load() }

// Collisions counts playouts abandoned because another worker held the
// exclusive expansion claim on the selected node.
func (s *Searcher) Collisions() uint32 { return s.collisions.Load() }

// MaxDepth returns the deepest selection path seen so far.
func (s *Searcher) MaxDepth() int { return int(s.maxdepth.Load()) }

// Err returns the first evaluator error, if any stopped the search.
func (s *Searcher) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Search runs to the configured limits and blocks until done.
func (s *Searcher) Search() error {
	if err := s.Start(); err != nil {
		return err
	}
	s.Wait()
	return s.Err()
}

// Start bootstraps the head, applies root noise if configured and spawns
// the worker goroutines. Wait collects them.
func (s *Searcher) Start() error {
	head := s.tree.GetCurrentHead()
	if head == nil {
		return errors.New("search: tree has no position; call ResetToPosition first")
	}
	s.limiter.Reset()
	s.cycles.Store(0)
	s.collisions.Store(0)
	s.maxdepth.Store(0)
	s.errMu.Lock()
	s.err = nil
	s.errMu.Unlock()

	// Bootstrap: guarantee an expanded position under the head before the
	// workers race for it.
	if head.Child() == nil || head.N() == 0 {
		if s.playout() {
			s.cycles.Add(1)
		}
		if err := s.Err(); err != nil {
			return err
		}
	}
	if head.IsTerminal() {
		// Finished game: nothing to search. Wait still reports the stop.
		return nil
	}
	s.applyRootNoise(rand.New(rand.NewSource(SeedGeneratorFn())))

	threads := max(1, s.limiter.Limits().NThreads)
	for id := 0; id < threads; id++ {
		s.wg.Add(1)
		go s.worker(id)
	}
	return nil
}

// Wait blocks until every worker exits, then fires the stop callback.
func (s *Searcher) Wait() {
	s.wg.Wait()
	s.limiter.EvaluateStopReason(uint32(s.maxdepth.Load()), s.cycles.Load())
	s.notifyStop()
}

func (s *Searcher) worker(threadId int) {
	defer s.wg.Done()
	for s.limiter.Ok(uint32(s.maxdepth.Load()), s.cycles.Load()) {
		if !s.playout() {
			// Collision; let the owning worker publish and retry.
			runtime.Gosched()
			continue
		}
		cycles := s.cycles.Add(1)
		if threadId == mainThreadId && s.listener.onCycle != nil &&
			int(cycles)%s.listener.nCycles == 0 {
			s.listener.onCycle(s.info())
		}
	}
	// First worker out pulls the rest.
	s.limiter.SetStop(true)
}

// playout runs one descend-expand-backup cycle. Returns false when the
// descent was abandoned; every virtual loss taken on the way is retired
// either way.
func (s *Searcher) playout() bool {
	head := s.tree.GetCurrentHead()
	if !head.TryStartScoreUpdate() {
		s.collisions.Add(1)
		return false
	}
	pos := s.tree.HeadPosition()
	path := make([]*mcts.Node, 1, 32)
	path[0] = head
	var pathHashes []uint64
	node := head
	depth := 0

	for {
		if node.IsTerminal() {
			s.backup(path, node.WL(), node.D(), node.M(), false)
			s.observeDepth(depth)
			return true
		}
		low := node.Child()
		if low == nil {
			// Our TryStartScoreUpdate made us the exclusive expander.
			ok := s.expand(path, node, pos, s.repetitions(pathHashes, pos))
			if ok {
				s.observeDepth(depth)
			}
			return ok
		}
		best := s.selectChild(low)
		if !best.Ok() {
			s.cancelPath(path)
			return false
		}
		child := best.GetOrSpawnNode()
		if !child.TryStartScoreUpdate() {
			s.collisions.Add(1)
			s.cancelPath(path)
			return false
		}
		pos = pos.Apply(child.Move(false))
		pathHashes = append(pathHashes, pos.Hash())
		path = append(path, child)
		node = child
		depth++
	}
}

// repetitions counts earlier occurrences of the leaf position in the game
// history and on the descent path.
func (s *Searcher) repetitions(pathHashes []uint64, pos chess.Position) int {
	history := s.tree.GetPositionHistory()
	if len(pathHashes) == 0 {
		// The leaf is the head, which is the history's own last entry.
		return history.Repetitions()
	}
	hash := pos.Hash()
	count := history.RepetitionsOf(hash)
	// The leaf's own hash is the last entry; earlier entries are ancestors.
	for i := 0; i < len(pathHashes)-1; i++ {
		if pathHashes[i] == hash {
			count++
		}
	}
	return count
}

// expand resolves the leaf: terminal marking for finished games, otherwise
// a transposition-table lookup and, on a miss, a network evaluation.
func (s *Searcher) expand(path []*mcts.Node, node *mcts.Node, pos chess.Position, reps int) bool {
	moves := pos.LegalMoves()
	outcome, over := pos.Outcome(len(moves), reps)
	low, created := s.tree.TTGetOrCreate(pos.Hash())

	if !created && low.N() == 0 {
		// The creator has not published its first visit yet; treat the
		// position as busy and retry on a later playout.
		s.collisions.Add(1)
		s.cancelPath(path)
		return false
	}

	if over {
		result := relativeResult(outcome, pos.IsBlackToMove())
		if created {
			low.SetMoves(moves)
			// Checkmate and stalemate are properties of the position;
			// rule draws (repetition, fifty moves) belong to the path and
			// only make the arc terminal.
			if len(moves) == 0 {
				low.MakeTerminal(result, 0, mcts.EndOfGame)
			}
		}
		node.SetChild(low)
		node.MakeTerminal(result, 0, mcts.EndOfGame)
		s.backup(path, node.WL(), node.D(), node.M(), created)
		return true
	}

	if created {
		out, err := s.eval.Evaluate(pos, moves)
		if err != nil {
			s.fail(err)
			s.cancelPath(path)
			return false
		}
		edges := mcts.NewEdges(moves)
		for i := range edges {
			edges[i].SetP(clamp01(out.Priors[i]))
		}
		low.SetNNEval(&mcts.NNEval{
			Edges: edges,
			// The network scores the side to move; the position records
			// the just-moved player's view.
			WL: -out.Value,
			D:  out.Draw,
			M:  out.MovesLeft,
		})
		low.SortEdges()
		node.SetChild(low)
		s.backup(path, low.WL(), low.D(), low.M(), true)
		return true
	}

	// Transposition hit: link the shared position and back its joint
	// statistics up this fresh path.
	node.SetChild(low)
	if low.IsTerminal() {
		bounds := low.Bounds()
		node.MakeTerminal(bounds.Lower, low.M(), low.TerminalType())
	}
	s.backup(path, low.WL(), low.D(), low.M(), false)
	return true
}

// backup finalizes the visit along the path, deepest node first, flipping
// the value each ply. Interior positions always aggregate the visit; the
// leaf position only on the visit that created it.
func (s *Searcher) backup(path []*mcts.Node, v float64, d, m float32, creation bool) {
	for i := len(path) - 1; i >= 0; i-- {
		nd := path[i]
		nd.FinalizeScoreUpdate(v, d, m, 1)
		if low := nd.Child(); low != nil && (i < len(path)-1 || creation) {
			low.FinalizeScoreUpdate(v, d, m, 1)
		}
		v = -v
		m++
	}
}

func (s *Searcher) cancelPath(path []*mcts.Node) {
	for i := len(path) - 1; i >= 0; i-- {
		nd := path[i]
		nd.CancelScoreUpdate(1)
		if low := nd.Child(); low != nil && i < len(path)-1 {
			low.CancelScoreUpdate(1)
		}
	}
}

// selectChild ranks the position's children by Q + U and returns the cursor
// at the best one. Children score from the mover's perspective, so the
// maximum is taken directly; unvisited children assume the parent's value
// less the first-play reduction.
func (s *Searcher) selectChild(low *mcts.LowNode) mcts.EdgeIterator {
	fpu := -low.WL() - s.params.FpuReduction
	parentN := low.N()
	if parentN == 0 {
		parentN = 1
	}
	numerator := s.params.CPuct * math.Sqrt(float64(parentN))

	var best mcts.EdgeIterator
	bestScore := math.Inf(-1)
	for it := low.Edges(); it.Ok(); it.Next() {
		score := it.Q(fpu, s.params.DrawScore) + it.U(numerator)
		if score > bestScore {
			bestScore = score
			best = it
		}
	}
	return best
}

// applyRootNoise swaps the head's position for an unshared clone with
// Dirichlet noise mixed into the priors, so the interned position never
// carries search-only values.
func (s *Searcher) applyRootNoise(rng *rand.Rand) {
	if s.params.DirichletEpsilon <= 0 {
		return
	}
	head := s.tree.GetCurrentHead()
	low := head.Child()
	if low == nil || low.NumEdges() == 0 || low.IsTerminal() {
		return
	}
	clone := s.tree.NonTTAddClone(low)
	n := clone.NumEdges()
	noise := make([]float64, n)
	var sum float64
	for i := range noise {
		noise[i] = gammaSample(rng, s.params.DirichletAlpha)
		sum += noise[i]
	}
	eps := s.params.DirichletEpsilon
	for i := 0; i < n; i++ {
		edge := clone.EdgeAt(i)
		edge.SetP(float32((1-eps)*float64(edge.P()) + eps*noise[i]/sum))
	}
	clone.SortEdges()
	head.UnsetChild()
	head.SetChild(clone)
	head.Trim()
}

func (s *Searcher) observeDepth(depth int) {
	for {
		cur := s.maxdepth.Load()
		if int32(depth) <= cur {
			return
		}
		if s.maxdepth.CompareAndSwap(cur, int32(depth)) {
			if s.listener.onDepth != nil {
				s.listener.onDepth(s.info())
			}
			return
		}
	}
}

func (s *Searcher) notifyStop() {
	if s.listener.onStop != nil {
		s.listener.onStop(s.info())
	}
}

func (s *Searcher) info() SearchInfo {
	info := SearchInfo{
		Depth:      s.MaxDepth(),
		Cycles:     int(s.cycles.Load()),
		Collisions: int(s.collisions.Load()),
		TimeMs:     s.limiter.Elapsed(),
		StopReason: s.limiter.StopReason(),
	}
	info.Cps = uint32(info.Cycles * 1000 / info.TimeMs)
	if best := bestChild(s.tree.GetCurrentHead()); best != nil {
		info.BestMove = best.Move(false)
		info.Eval = best.Q(s.params.DrawScore)
		info.Pv = s.Pv()
	}
	return info
}

func (s *Searcher) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.limiter.SetStop(true)
}

// BestMove returns the most visited move at the head.
func (s *Searcher) BestMove() (chess.Move, bool) {
	best := bestChild(s.tree.GetCurrentHead())
	if best == nil {
		return chess.Move(0), false
	}
	return best.Move(false), true
}

// Pv returns the best line by following most-visited children. Repetition
// cycles through transpositions are cut off.
func (s *Searcher) Pv() []chess.Move {
	var pv []chess.Move
	seen := make(map[*mcts.LowNode]bool)
	node := s.tree.GetCurrentHead()
	for node != nil {
		low := node.Child()
		if low == nil || seen[low] {
			break
		}
		seen[low] = true
		next := bestChild(node)
		if next == nil {
			break
		}
		pv = append(pv, next.Move(false))
		node = next
	}
	return pv
}

func bestChild(nd *mcts.Node) *mcts.Node {
	if nd == nil {
		return nil
	}
	var best *mcts.Node
	var bestN uint32
	for it := nd.VisitedChildren(); it.Ok(); it.Next() {
		if n := it.Node().N(); n > bestN {
			bestN = n
			best = it.Node()
		}
	}
	return best
}

// relativeResult converts a White-relative game result to the point of view
// of the player who just moved (WhiteWon meaning a win for that player).
func relativeResult(result chess.GameResult, justMovedIsWhite bool) chess.GameResult {
	if result == chess.Draw {
		return chess.Draw
	}
	if (result == chess.WhiteWon) == justMovedIsWhite {
		return chess.WhiteWon
	}
	return chess.BlackWon
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// gammaSample draws from Gamma(alpha, 1) with Marsaglia-Tsang squeeze.
func gammaSample(rng *rand.Rand, alpha float64) float64 {
	if alpha < 1 {
		return gammaSample(rng, alpha+1) * math.Pow(rng.Float64(), 1/alpha)
	}
	d := alpha - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x || math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
