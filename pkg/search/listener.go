package search

import "github.com/Etcaqab/lc0/pkg/chess"

// SearchInfo is a snapshot handed to listener callbacks.
type SearchInfo struct {
	Depth      int
	Cycles     int
	Collisions int
	TimeMs     int
	Cps        uint32
	Eval       float64
	BestMove   chess.Move
	Pv         []chess.Move
	StopReason StopReason
}

// ListenerFunc receives search progress snapshots.
type ListenerFunc func(SearchInfo)

// StatsListener bundles the progress callbacks. onCycle runs on the main
// search worker; onDepth runs on whichever worker first reaches the new
// depth, so several workers may call it concurrently; onStop runs once on
// the goroutine that waits for the search.
type StatsListener struct {
	// called when the maximum selection depth increases
	onDepth ListenerFunc

	// called every nCycles completed playouts
	onCycle ListenerFunc
	nCycles int

	// called once when the search stops
	onStop ListenerFunc
}

func NewStatsListener() StatsListener {
	return StatsListener{nCycles: 1000}
}

// OnDepth attaches the depth-increase callback.
func (listener *StatsListener) OnDepth(f ListenerFunc) *StatsListener {
	listener.onDepth = f
	return listener
}

// OnCycle attaches the periodic callback. Building the snapshot walks the
// tree for the pv, so a small interval slows the search down noticeably.
func (listener *StatsListener) OnCycle(f ListenerFunc) *StatsListener {
	listener.onCycle = f
	return listener
}

// SetCycleInterval sets how many playouts pass between OnCycle calls.
func (listener *StatsListener) SetCycleInterval(n int) *StatsListener {
	if n < 1 {
		n = 1
	}
	listener.nCycles = n
	return listener
}

// OnStop attaches the search-end callback; StopReason is valid inside it.
func (listener *StatsListener) OnStop(f ListenerFunc) *StatsListener {
	listener.onStop = f
	return listener
}
