package nn

import (
	"math/bits"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// Input geometry: 12 piece planes from the side to move's perspective
// ("our" pieces first), one side-to-move plane and one rule-50 plane.
const (
	InputPlanes = 14
	InputSize   = InputPlanes * 64
)

// PolicySize indexes moves as from*64+to in the mover's frame; promotions
// share the index of the underlying move.
const PolicySize = 64 * 64

// encodePosition fills dst (length InputSize) with the board planes.
// For Black the board is rank-mirrored so the network always sees the mover
// playing up the board.
func encodePosition(pos chess.Position, dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	board := pos.Board()
	black := pos.IsBlackToMove()

	us, them := board.White, board.Black
	if black {
		us, them = board.Black, board.White
	}
	planes := [InputPlanes - 2]uint64{
		us.Pawns, us.Knights, us.Bishops, us.Rooks, us.Queens, us.Kings,
		them.Pawns, them.Knights, them.Bishops, them.Rooks, them.Queens, them.Kings,
	}
	for p, bb := range planes {
		if black {
			bb = bits.ReverseBytes64(bb) // mirror ranks
		}
		base := p * 64
		for bb != 0 {
			sq := bits.TrailingZeros64(bb)
			dst[base+sq] = 1
			bb &= bb - 1
		}
	}

	stm := float32(0)
	if black {
		stm = 1
	}
	for sq := 0; sq < 64; sq++ {
		dst[12*64+sq] = stm
		dst[13*64+sq] = float32(board.Halfmoveclock) / 100
	}
}

// policyIndex maps a move to its slot in the policy head, mirroring for
// Black like encodePosition does.
func policyIndex(m chess.Move, black bool) int {
	from, to := int(m.From()), int(m.To())
	if black {
		from ^= 56
		to ^= 56
	}
	return from*64 + to
}
