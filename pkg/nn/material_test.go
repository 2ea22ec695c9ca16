package nn

import (
	"math"
	"testing"

	"github.com/Etcaqab/lc0/pkg/chess"
)

func TestMaterialBalancedPosition(t *testing.T) {
	pos := chess.StartingPosition()
	moves := pos.LegalMoves()
	out, err := Material{}.Evaluate(pos, moves)
	if err != nil {
		t.Fatal(err)
	}
	if out.Value != 0 {
		t.Errorf("value = %v on a balanced position, want 0", out.Value)
	}
	if len(out.Priors) != len(moves) {
		t.Fatalf("got %d priors for %d moves", len(out.Priors), len(moves))
	}
	var sum float64
	for _, p := range out.Priors {
		if p != out.Priors[0] {
			t.Fatal("priors are not uniform")
		}
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("priors sum to %v, want 1", sum)
	}
	if out.MovesLeft <= 0 {
		t.Errorf("moves left = %v, want positive", out.MovesLeft)
	}
}

func TestMaterialSideToMoveRelative(t *testing.T) {
	// Black is missing the queen; the score follows the side to move.
	white, err := chess.PositionFromFen("rnb1kbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", 0)
	if err != nil {
		t.Fatal(err)
	}
	outWhite, err := Material{}.Evaluate(white, white.LegalMoves())
	if err != nil {
		t.Fatal(err)
	}
	if outWhite.Value <= 0 {
		t.Errorf("queen-up side to move scored %v, want positive", outWhite.Value)
	}

	black, err := chess.PositionFromFen("rnb1kbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR b KQkq - 0 1", 0)
	if err != nil {
		t.Fatal(err)
	}
	outBlack, err := Material{}.Evaluate(black, black.LegalMoves())
	if err != nil {
		t.Fatal(err)
	}
	if outBlack.Value >= 0 {
		t.Errorf("queen-down side to move scored %v, want negative", outBlack.Value)
	}
	if outWhite.Value != -outBlack.Value {
		t.Errorf("values not symmetric: %v vs %v", outWhite.Value, outBlack.Value)
	}
}

func TestEncodePositionPlanes(t *testing.T) {
	dst := make([]float32, InputSize)
	encodePosition(chess.StartingPosition(), dst)

	pieceOnes := 0
	for i := 0; i < 12*64; i++ {
		if dst[i] == 1 {
			pieceOnes++
		}
	}
	if pieceOnes != 32 {
		t.Fatalf("piece planes carry %d ones, want 32", pieceOnes)
	}
	// White pawns on rank 2: plane 0, squares 8..15.
	for sq := 8; sq < 16; sq++ {
		if dst[sq] != 1 {
			t.Fatalf("white pawn missing from square %d", sq)
		}
	}
	// Side-to-move plane is zero for white.
	if dst[12*64] != 0 {
		t.Fatal("side-to-move plane set for white")
	}
}

func TestEncodePositionMirrorsForBlack(t *testing.T) {
	pos, err := chess.PositionFromFen("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1", 1)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]float32, InputSize)
	encodePosition(pos, dst)

	// Black pawns are "ours" and mirrored onto rank 2.
	for sq := 8; sq < 16; sq++ {
		if dst[sq] != 1 {
			t.Fatalf("mirrored black pawn missing from square %d", sq)
		}
	}
	if dst[12*64] != 1 {
		t.Fatal("side-to-move plane clear for black")
	}
}

func TestPolicyIndexMirrors(t *testing.T) {
	m, err := chess.ParseMove("e2e4")
	if err != nil {
		t.Fatal(err)
	}
	if got := policyIndex(m, false); got != 12*64+28 {
		t.Fatalf("white policy index = %d, want %d", got, 12*64+28)
	}
	// For black, e7e5 mirrors onto the same slot as white's e2e4.
	bm, err := chess.ParseMove("e7e5")
	if err != nil {
		t.Fatal(err)
	}
	if got := policyIndex(bm, true); got != 12*64+28 {
		t.Fatalf("black policy index = %d, want %d", got, 12*64+28)
	}
}
