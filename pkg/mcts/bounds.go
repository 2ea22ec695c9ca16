package mcts

import (
	"fmt"

	"github.com/Etcaqab/lc0/pkg/chess"
)

// Terminal classifies how a node's value became exact.
type Terminal uint8

const (
	NonTerminal Terminal = iota
	EndOfGame
	Tablebase
)

func (t Terminal) String() string {
	switch t {
	case EndOfGame:
		return "terminal"
	case Tablebase:
		return "tablebase"
	}
	return "nonterminal"
}

// Bounds is the proven result interval of a node, both ends from the point
// of view of the player who just moved. Lower <= Upper always holds in the
// ordering BlackWon < Draw < WhiteWon.
type Bounds struct {
	Lower chess.GameResult
	Upper chess.GameResult
}

func widestBounds() Bounds {
	return Bounds{Lower: chess.BlackWon, Upper: chess.WhiteWon}
}

func (b Bounds) String() string {
	return fmt.Sprintf("(%v, %v)", b.Lower, b.Upper)
}

func minResult(a, b chess.GameResult) chess.GameResult {
	if a < b {
		return a
	}
	return b
}

func maxResult(a, b chess.GameResult) chess.GameResult {
	if a > b {
		return a
	}
	return b
}
