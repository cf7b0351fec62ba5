package annealing

import (
	"fmt"
	"math"
)

// symmetryTolerance bounds |S_ij - S_ji| relative to the larger magnitude.
const symmetryTolerance = 1e-9

// Problem is a minimum-variance allocation problem together with the starting
// allocation of the search. It is never modified by a solve.
type Problem struct {
	ExpectedReturns []float64   `json:"expected_returns" msgpack:"expected_returns"`
	Covariance      [][]float64 `json:"covariance" msgpack:"covariance"`
	TargetReturn    float64     `json:"target_return" msgpack:"target_return"`
	InitialWeights  []float64   `json:"initial_weights" msgpack:"initial_weights"`
}

// NumAssets returns the number of assets implied by the expected-return vector.
func (p Problem) NumAssets() int {
	return len(p.ExpectedReturns)
}

// Validate checks dimensions first, then finiteness and symmetry.
func (p Problem) Validate() error {
	n := len(p.ExpectedReturns)
	if n == 0 {
		return fmt.Errorf("%w: no assets", ErrInvalidProblem)
	}
	if len(p.Covariance) != n {
		return fmt.Errorf("%w: covariance has %d rows, expected %d", ErrInvalidDimension, len(p.Covariance), n)
	}
	for i, row := range p.Covariance {
		if len(row) != n {
			return fmt.Errorf("%w: covariance row %d has %d columns, expected %d", ErrInvalidDimension, i, len(row), n)
		}
	}
	if len(p.InitialWeights) != n {
		return fmt.Errorf("%w: initial allocation has %d entries, expected %d", ErrInvalidDimension, len(p.InitialWeights), n)
	}

	if !isFinite(p.TargetReturn) {
		return fmt.Errorf("%w: target return is not finite", ErrInvalidProblem)
	}
	for i := 0; i < n; i++ {
		if !isFinite(p.ExpectedReturns[i]) {
			return fmt.Errorf("%w: expected return %d is not finite", ErrInvalidProblem, i)
		}
		if !isFinite(p.InitialWeights[i]) {
			return fmt.Errorf("%w: initial weight %d is not finite", ErrInvalidProblem, i)
		}
		for j := 0; j < n; j++ {
			v := p.Covariance[i][j]
			if !isFinite(v) {
				return fmt.Errorf("%w: covariance[%d][%d] is not finite", ErrInvalidProblem, i, j)
			}
			if j > i {
				w := p.Covariance[j][i]
				scale := math.Max(1, math.Max(math.Abs(v), math.Abs(w)))
				if math.Abs(v-w) > symmetryTolerance*scale {
					return fmt.Errorf("%w: covariance is not symmetric at (%d,%d)", ErrInvalidProblem, i, j)
				}
			}
		}
		if p.Covariance[i][i] < 0 {
			return fmt.Errorf("%w: negative variance for asset %d", ErrInvalidProblem, i)
		}
	}

	return nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
