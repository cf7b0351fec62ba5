package annealing

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogSentinel replaces ln(x) for x <= 0. It keeps the barrier finite and
// comparable instead of letting it reach -Inf.
const LogSentinel = -1e10

// SafeLog returns ln(x) for x > 0 and LogSentinel otherwise.
func SafeLog(x float64) float64 {
	if x > 0 {
		return math.Log(x)
	}
	return LogSentinel
}

// Objective evaluates the penalised variance objective
//
//	wᵗSw + (1/(2ρ))·[(Σw - 1)² + (gᵗw - R)²] - (1/μ)·Σ SafeLog(w_i)
//
// Lower scores are better. An Objective is immutable and safe for concurrent use.
type Objective struct {
	returns []float64
	cov     *mat.SymDense
	target  float64
}

// NewObjective builds the evaluator for a validated problem.
func NewObjective(p Problem) (*Objective, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	n := p.NumAssets()
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		copy(data[i*n:(i+1)*n], p.Covariance[i])
	}

	returns := make([]float64, n)
	copy(returns, p.ExpectedReturns)

	return &Objective{
		returns: returns,
		cov:     mat.NewSymDense(n, data),
		target:  p.TargetReturn,
	}, nil
}

// Dim returns the number of assets.
func (o *Objective) Dim() int {
	return len(o.returns)
}

// Variance returns wᵗSw. It reads the upper triangle in place and does not
// allocate.
func (o *Objective) Variance(w []float64) float64 {
	raw := o.cov.RawSymmetric()
	n := raw.N
	var sum float64
	for i := 0; i < n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+n]
		sum += w[i] * (row[i]*w[i] + 2*floats.Dot(row[i+1:], w[i+1:n]))
	}
	return sum
}

// ExpectedReturn returns gᵗw.
func (o *Objective) ExpectedReturn(w []float64) float64 {
	return floats.Dot(o.returns, w)
}

// Residuals returns the budget residual Σw - 1 and the return residual gᵗw - R.
func (o *Objective) Residuals(w []float64) (budget, ret float64) {
	return floats.Sum(w) - 1, floats.Dot(o.returns, w) - o.target
}

// ConstraintPenalty returns (1/(2ρ))·[(Σw - 1)² + (gᵗw - R)²].
func (o *Objective) ConstraintPenalty(w []float64, rho float64) float64 {
	budget, ret := o.Residuals(w)
	return (budget*budget + ret*ret) / (2 * rho)
}

// Barrier returns Σ SafeLog(w_i), before scaling by -1/μ.
func (o *Objective) Barrier(w []float64) float64 {
	var sum float64
	for _, x := range w {
		sum += SafeLog(x)
	}
	return sum
}

// Score combines the three terms under the given penalty weights.
func (o *Objective) Score(w []float64, p PenaltyState) float64 {
	return o.Variance(w) + o.ConstraintPenalty(w, p.Rho) - o.Barrier(w)/p.Mu
}
