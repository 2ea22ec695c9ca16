package chess

import (
	dtm "github.com/IlikeChooros/dragontoothmg"
)

// ParseMove parses a UCI move string such as "e2e4" or "e7e8q".
func ParseMove(s string) (Move, error) {
	return dtm.ParseMove(s)
}

// FlipPerspective mirrors a move vertically so it reads from the other
// player's side of the board (e2e4 becomes e7e5).
func FlipPerspective(m Move) Move {
	var flipped Move
	flipped.Setfrom(flipSquare(dtm.Square(m.From()))).Setto(flipSquare(dtm.Square(m.To())))
	if m.Promote() != 0 {
		flipped.Setpromote(m.Promote())
	}
	return flipped
}

func flipSquare(s dtm.Square) dtm.Square {
	// XOR with 56 mirrors the rank and keeps the file.
	return s ^ 56
}
