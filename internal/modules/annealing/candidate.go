package annealing

import "math/rand/v2"

// Perturb writes a trial allocation into dst: every entry of src receives
// independent N(0,1) noise scaled by beta and is then clamped at zero.
// The budget is left as is; only the penalty term pulls Σw back to one.
// dst and src must have equal length and may not overlap.
func Perturb(dst, src []float64, beta float64, rng *rand.Rand) {
	for i, x := range src {
		v := x + beta*rng.NormFloat64()
		if !(v > 0) {
			v = 0
		}
		dst[i] = v
	}
}

// Project clamps negative entries of w to zero in place.
func Project(w []float64) {
	for i, x := range w {
		if !(x > 0) {
			w[i] = 0
		}
	}
}
