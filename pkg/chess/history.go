package chess

// PositionHistory is the sequence of positions of one game, kept so the
// search tree can detect repetitions and decide whether a new game is an
// extension of the current one.
type PositionHistory struct {
	startFen  string
	positions []Position
}

// NewPositionHistory starts a history at the given FEN.
func NewPositionHistory(fen string) (*PositionHistory, error) {
	pos, err := PositionFromFen(fen, 0)
	if err != nil {
		return nil, err
	}
	return &PositionHistory{
		startFen:  fen,
		positions: []Position{pos},
	}, nil
}

// Last returns the most recent position.
func (h *PositionHistory) Last() Position {
	return h.positions[len(h.positions)-1]
}

// Append plays m on the last position and records the successor.
func (h *PositionHistory) Append(m Move) {
	h.positions = append(h.positions, h.Last().Apply(m))
}

// Len returns the number of recorded positions (initial position included).
func (h *PositionHistory) Len() int { return len(h.positions) }

// StartingFen returns the FEN the history was started from.
func (h *PositionHistory) StartingFen() string { return h.startFen }

// Repetitions counts how many earlier positions share the last position's
// hash. Zero means the current position is fresh.
func (h *PositionHistory) Repetitions() int {
	last := h.Last().Hash()
	count := 0
	for i := 0; i < len(h.positions)-1; i++ {
		if h.positions[i].Hash() == last {
			count++
		}
	}
	return count
}

// RepetitionsOf counts occurrences of hash anywhere in the history. Used by
// the search to score would-be repetitions before they are played.
func (h *PositionHistory) RepetitionsOf(hash uint64) int {
	count := 0
	for i := range h.positions {
		if h.positions[i].Hash() == hash {
			count++
		}
	}
	return count
}
