package search

// Params tune the selection policy. The tree itself does not read them;
// they only shape how this client ranks children.
type Params struct {
	// CPuct scales the exploration term of the PUCT score.
	CPuct float64

	// DrawScore is mixed into Q via q = wl + drawScore*d. Zero treats a
	// draw as neutral for both sides.
	DrawScore float64

	// FpuReduction lowers the assumed value of unvisited children below
	// the parent's, discouraging blind fan-out.
	FpuReduction float64

	// DirichletEpsilon is the noise fraction mixed into the root priors;
	// zero disables root noise. DirichletAlpha is the concentration.
	DirichletEpsilon float64
	DirichletAlpha   float64
}

func DefaultParams() Params {
	return Params{
		CPuct:            1.75,
		DrawScore:        0,
		FpuReduction:     0.23,
		DirichletEpsilon: 0,
		DirichletAlpha:   0.3,
	}
}
