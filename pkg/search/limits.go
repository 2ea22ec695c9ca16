package search

import (
	"encoding/json"
	"math"
	"strings"
)

// Limits bound one search. Fields are used as given: a zero Depth, Cycles
// or Movetime is a limit of zero. DefaultLimits returns an unlimited set
// that the fluent setters narrow.
type Limits struct {
	Depth    int
	Cycles   uint32
	Movetime int
	Infinite bool
	NThreads int
}

func (l Limits) String() string {
	builder := strings.Builder{}
	_ = json.NewEncoder(&builder).Encode(l)
	return builder.String()
}

const (
	DefaultDepthLimit    int    = math.MaxInt
	DefaultCyclesLimit   uint32 = math.MaxUint32
	DefaultMovetimeLimit int    = -1
)

func DefaultLimits() *Limits {
	return &Limits{
		Depth:    DefaultDepthLimit,
		Cycles:   DefaultCyclesLimit,
		Movetime: DefaultMovetimeLimit,
		Infinite: true,
		NThreads: 1,
	}
}

// SetDepth caps the maximum selection depth.
func (l *Limits) SetDepth(depth int) *Limits {
	l.Depth = depth
	l.Infinite = false
	return l
}

// SetCycles caps the number of completed playouts.
func (l *Limits) SetCycles(cycles uint32) *Limits {
	l.Cycles = cycles
	l.Infinite = false
	return l
}

// SetMovetime caps the search time in milliseconds.
func (l *Limits) SetMovetime(movetime int) *Limits {
	l.Movetime = movetime
	l.Infinite = false
	return l
}

func (l *Limits) SetInfinite(infinite bool) *Limits {
	l.Infinite = infinite
	return l
}

// SetThreads sets the number of search workers.
func (l *Limits) SetThreads(threads int) *Limits {
	l.NThreads = max(threads, 1)
	return l
}
