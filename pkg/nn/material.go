package nn

import (
	"math"
	"math/bits"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// Material is a deterministic, network-free evaluator: value from the
// material balance squashed into [-1, 1], uniform priors. Useful for tests
// and CPU-only runs.
type Material struct{}

// Piece values in pawns.
const (
	pawnValue   = 1.0
	knightValue = 3.0
	bishopValue = 3.25
	rookValue   = 5.0
	queenValue  = 9.0
)

func (Material) Evaluate(pos chess.Position, moves []chess.Move) (Output, error) {
	board := pos.Board()
	white := sideMaterial(board.White.Pawns, board.White.Knights, board.White.Bishops,
		board.White.Rooks, board.White.Queens)
	black := sideMaterial(board.Black.Pawns, board.Black.Knights, board.Black.Bishops,
		board.Black.Rooks, board.Black.Queens)

	balance := white - black
	if pos.IsBlackToMove() {
		balance = -balance
	}

	out := Output{
		// A four pawn lead maps to roughly 0.76.
		Value:     float32(math.Tanh(balance / 4)),
		Draw:      0.3,
		MovesLeft: float32(40 + len(moves)),
	}
	if len(moves) > 0 {
		out.Priors = make([]float32, len(moves))
		uniform := 1 / float32(len(moves))
		for i := range out.Priors {
			out.Priors[i] = uniform
		}
	}
	return out, nil
}

func sideMaterial(pawns, knights, bishops, rooks, queens uint64) float64 {
	return pawnValue*float64(bits.OnesCount64(pawns)) +
		knightValue*float64(bits.OnesCount64(knights)) +
		bishopValue*float64(bits.OnesCount64(bishops)) +
		rookValue*float64(bits.OnesCount64(rooks)) +
		queenValue*float64(bits.OnesCount64(queens))
}
