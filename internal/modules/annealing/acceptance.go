package annealing

import (
	"math"
	"math/rand/v2"
)

// Accept applies the Metropolis criterion. Improvements are always accepted
// without consuming randomness; otherwise one uniform draw is compared with
// exp((current-candidate)/temperature). Underflow of that probability simply
// rejects, as does a non-positive temperature.
func Accept(current, candidate, temperature float64, rng *rand.Rand) bool {
	if candidate < current {
		return true
	}
	if !(temperature > 0) {
		return false
	}
	p := math.Exp((current - candidate) / temperature)
	return rng.Float64() < p
}
