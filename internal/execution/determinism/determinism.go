// Package determinism owns the seeding contract: one integer seed per run,
// applied before any stage executes, yielding identical outcomes for
// identical (seed, snapshot, input) triples.
//
// Stage code should take the explicit generator carried on the execution
// context. The ambient generator exists only as a compatibility shim for
// code that was not refactored to accept one.
package determinism

import (
	"math/rand"
	"sync"
)

var (
	mu          sync.Mutex
	ambient     *rand.Rand
	ambientSeed int64
	seeded      bool
)

// SeedAll applies the seed to the ambient generator. It must be called
// once per run before any stage executes; calling it again with the same
// seed is a no-op, so repeated application is idempotent.
func SeedAll(seed int64) {
	mu.Lock()
	defer mu.Unlock()
	if seeded && ambientSeed == seed {
		return
	}
	ambient = rand.New(rand.NewSource(seed))
	ambientSeed = seed
	seeded = true
}

// Ambient returns the process-wide generator last configured by SeedAll.
// If SeedAll was never called, the generator is seeded with the default
// run seed semantics (seed zero) so behavior stays deterministic.
func Ambient() *rand.Rand {
	mu.Lock()
	defer mu.Unlock()
	if ambient == nil {
		ambient = rand.New(rand.NewSource(0))
		seeded = true
	}
	return ambient
}

// Generator returns an explicit, independently seeded generator. Two
// generators built from the same seed produce identical sequences.
func Generator(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
