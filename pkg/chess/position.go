package chess

import (
	"fmt"
	"strings"

	dtm "github.com/IlikeChooros/dragontoothmg"
)

// Move is the wire type of the move generator. Moves use absolute board
// squares for both colours (Black's replies read e7e5, not e2e4); the engine
// stores them as generated, not in the side to move's frame, and flips them
// only for display from the opponent's side.
type Move = dtm.Move

// Startpos is the FEN of the standard initial position.
const Startpos = dtm.Startpos

// GameResult is the outcome of a finished game, ordered so that interval
// bounds compare naturally: BlackWon < Draw < WhiteWon.
type GameResult int8

const (
	Undecided GameResult = -2
	BlackWon  GameResult = -1
	Draw      GameResult = 0
	WhiteWon  GameResult = 1
)

func (r GameResult) String() string {
	switch r {
	case BlackWon:
		return "black won"
	case Draw:
		return "draw"
	case WhiteWon:
		return "white won"
	}
	return "undecided"
}

// Position is an immutable snapshot of a game state plus its ply counter.
// Apply clones the underlying board, so positions can be shared freely
// between goroutines.
type Position struct {
	board *dtm.Board
	ply   int
}

// PositionFromFen parses a FEN string into a Position at the given ply.
func PositionFromFen(fen string, ply int) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || len(strings.Fields(fen)) < 4 {
		return Position{}, fmt.Errorf("chess: malformed fen %q", fen)
	}
	board := dtm.ParseFen(fen)
	return Position{board: &board, ply: ply}, nil
}

// StartingPosition returns the standard initial position.
func StartingPosition() Position {
	board := dtm.ParseFen(dtm.Startpos)
	return Position{board: &board, ply: 0}
}

// LegalMoves returns the legal moves in generation order. The order is
// deterministic for a given position, which callers rely on when pairing
// move lists with externally computed priors.
func (p Position) LegalMoves() []Move {
	return p.board.GenerateLegalMoves()
}

// Hash returns the 64-bit Zobrist hash of the position.
func (p Position) Hash() uint64 {
	return p.board.Hash()
}

// Apply plays m on a copy of the position and returns the successor.
func (p Position) Apply(m Move) Position {
	board := p.board.Clone()
	board.Make(m)
	return Position{board: board, ply: p.ply + 1}
}

func (p Position) IsBlackToMove() bool { return !p.board.Wtomove }

func (p Position) GamePly() int { return p.ply }

func (p Position) Fen() string { return p.board.ToFen() }

// Board exposes the underlying board for evaluators that need raw piece
// placement. Callers must not mutate it.
func (p Position) Board() *dtm.Board { return p.board }

// Outcome classifies the position given the number of legal moves available
// to the side to move and the number of earlier occurrences of this position
// in the game. The result is from White's point of view. The second return
// reports whether the game is over.
func (p Position) Outcome(numLegal, repetitions int) (GameResult, bool) {
	if numLegal == 0 {
		if p.board.OurKingInCheck() {
			if p.board.Wtomove {
				return BlackWon, true
			}
			return WhiteWon, true
		}
		return Draw, true
	}
	if p.board.Halfmoveclock >= 100 {
		return Draw, true
	}
	if repetitions >= 2 {
		return Draw, true
	}
	return Undecided, false
}
