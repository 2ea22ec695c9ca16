// Package nn provides the position evaluators the search consumes: a
// deterministic material fallback and a batched ONNX Runtime session.
package nn

import "github.com/Etcaqab/lc0/pkg/chess"

// Output is one network evaluation of a position. Value is W minus L from
// the side to move's perspective, Draw the draw probability, MovesLeft the
// estimated remaining plies. Priors is index-parallel to the legal move
// list the position was evaluated with.
type Output struct {
	Value     float32
	Draw      float32
	MovesLeft float32
	Priors    []float32
}

// Evaluator scores a position for the given legal moves. Implementations
// must be safe for concurrent use; the search calls Evaluate from many
// worker goroutines.
type Evaluator interface {
	Evaluate(pos chess.Position, moves []chess.Move) (Output, error)
}
