package search

import "time"

const mainThreadId = 0

// SeedGeneratorFn seeds the random number generator of the root noise; by
// default the current time in nanoseconds.
var SeedGeneratorFn = func() int64 {
	return time.Now().UnixNano()
}

// SetSeedGeneratorFn installs a custom seed generator, e.g. a constant for
// reproducible tests.
func SetSeedGeneratorFn(f func() int64) {
	if f != nil {
		SeedGeneratorFn = f
	}
}
