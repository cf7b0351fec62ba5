package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrSolverInfeasible is returned when the solver stops without a point that
	// satisfies the budget, minimum-return and bound constraints.
	ErrSolverInfeasible = errors.New("solver found no feasible optimum")

	// ErrSolverFailed is returned when the underlying optimizer itself fails.
	ErrSolverFailed = errors.New("solver failed")
)

// ConvexProblem is min wᵗSw subject to Σw = 1, gᵗw ≥ R and lo ≤ w ≤ hi.
type ConvexProblem struct {
	Covariance      [][]float64  `json:"covariance" msgpack:"covariance"`
	ExpectedReturns []float64    `json:"expected_returns" msgpack:"expected_returns"`
	TargetReturn    float64      `json:"target_return" msgpack:"target_return"`
	Bounds          [][2]float64 `json:"bounds" msgpack:"bounds"`
	InitialPoint    []float64    `json:"initial_point" msgpack:"initial_point"`
}

// QPResult is an optimal point of a ConvexProblem.
type QPResult struct {
	Weights        []float64 `json:"weights" msgpack:"weights"`
	ObjectiveValue float64   `json:"objective_value" msgpack:"objective_value"`
	Status         string    `json:"status" msgpack:"status"`
}

// QPSolver solves a ConvexProblem or fails with ErrSolverInfeasible or
// ErrSolverFailed.
type QPSolver interface {
	SolveQP(ctx context.Context, p ConvexProblem) (*QPResult, error)
}

// GonumQPSolver solves the program with an augmented Lagrangian around gonum's
// unconstrained minimisers. Bounds are enforced by a quadratic penalty during
// the search and by projection at the end.
type GonumQPSolver struct {
	// Tolerance is the accepted constraint violation of the final point.
	Tolerance float64
	// MaxRounds limits the multiplier updates.
	MaxRounds int
	log       zerolog.Logger
}

// NewGonumQPSolver creates a solver with the default tolerance of 1e-6.
func NewGonumQPSolver(log zerolog.Logger) *GonumQPSolver {
	return &GonumQPSolver{
		Tolerance: 1e-6,
		MaxRounds: 12,
		log:       log.With().Str("component", "qp_solver").Logger(),
	}
}

// alm carries the multipliers of one solve. Budget is an equality, the
// minimum return an inequality.
type alm struct {
	sigma    *mat.SymDense
	mu       []float64
	target   float64
	bounds   [][2]float64
	lambda   float64
	nu       float64
	penalty  float64
	gradient *mat.VecDense
}

func (a *alm) variance(x []float64) float64 {
	v := mat.NewVecDense(len(x), x)
	return mat.Inner(v, a.sigma, v)
}

func (a *alm) value(x []float64) float64 {
	c := a.penalty
	budget := floats.Sum(x) - 1
	shortfall := a.target - floats.Dot(a.mu, x)

	f := a.variance(x)
	f += a.lambda*budget + 0.5*c*budget*budget

	// Rockafellar form of the inequality term
	m := math.Max(0, a.nu+c*shortfall)
	f += (m*m - a.nu*a.nu) / (2 * c)

	for i, b := range a.bounds {
		if x[i] < b[0] {
			d := b[0] - x[i]
			f += 0.5 * c * d * d
		} else if x[i] > b[1] {
			d := x[i] - b[1]
			f += 0.5 * c * d * d
		}
	}
	return f
}

func (a *alm) grad(grad, x []float64) {
	c := a.penalty
	n := len(x)
	budget := floats.Sum(x) - 1
	shortfall := a.target - floats.Dot(a.mu, x)
	m := math.Max(0, a.nu+c*shortfall)

	v := mat.NewVecDense(n, x)
	a.gradient.MulVec(a.sigma, v)

	for i := 0; i < n; i++ {
		g := 2*a.gradient.AtVec(i) + a.lambda + c*budget - m*a.mu[i]
		if b := a.bounds[i]; x[i] < b[0] {
			g -= c * (b[0] - x[i])
		} else if x[i] > b[1] {
			g += c * (x[i] - b[1])
		}
		grad[i] = g
	}
}

// SolveQP implements QPSolver.
func (s *GonumQPSolver) SolveQP(ctx context.Context, p ConvexProblem) (*QPResult, error) {
	n := len(p.ExpectedReturns)
	if n == 0 {
		return nil, fmt.Errorf("no assets provided")
	}
	if len(p.Covariance) != n {
		return nil, fmt.Errorf("covariance matrix size %d doesn't match asset count %d", len(p.Covariance), n)
	}
	for i := range p.Covariance {
		if len(p.Covariance[i]) != n {
			return nil, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(p.Covariance[i]), n)
		}
	}

	bounds := p.Bounds
	if len(bounds) == 0 {
		bounds = make([][2]float64, n)
		for i := range bounds {
			bounds[i] = [2]float64{0, 1}
		}
	}
	if len(bounds) != n {
		return nil, fmt.Errorf("bounds size %d doesn't match asset count %d", len(bounds), n)
	}
	for i, b := range bounds {
		if b[0] > b[1] {
			return nil, fmt.Errorf("%w: bound %d has lower %v above upper %v", ErrSolverInfeasible, i, b[0], b[1])
		}
	}
	best, ok := maxAttainableReturn(p.ExpectedReturns, bounds)
	if !ok {
		return nil, fmt.Errorf("%w: bounds cannot sum to one", ErrSolverInfeasible)
	}
	if best < p.TargetReturn-s.Tolerance {
		return nil, fmt.Errorf("%w: target return %.4f exceeds attainable %.4f", ErrSolverInfeasible, p.TargetReturn, best)
	}

	x := make([]float64, n)
	if len(p.InitialPoint) == n {
		copy(x, p.InitialPoint)
	} else {
		for i := range x {
			x[i] = 1.0 / float64(n)
		}
	}

	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		copy(data[i*n:(i+1)*n], p.Covariance[i])
	}

	state := &alm{
		sigma:    mat.NewSymDense(n, data),
		mu:       p.ExpectedReturns,
		target:   p.TargetReturn,
		bounds:   bounds,
		penalty:  10,
		gradient: mat.NewVecDense(n, nil),
	}

	problem := optimize.Problem{
		Func: state.value,
		Grad: state.grad,
	}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}

	status := optimize.NotTerminated
	for round := 0; round < s.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := optimize.Minimize(problem, x, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil || result == nil || !successStatuses[result.Status] {
			// Try with different method, from wherever BFGS stopped
			s.log.Debug().Err(err).Int("round", round).Msg("BFGS did not converge, retrying with Nelder-Mead")
			start := x
			if result != nil && result.X != nil {
				start = result.X
			}
			result, err = optimize.Minimize(problem, start, &optimize.Settings{}, &optimize.NelderMead{})
			if result == nil {
				return nil, fmt.Errorf("%w: %v", ErrSolverFailed, err)
			}
		}
		copy(x, result.X)
		status = result.Status

		budget := floats.Sum(x) - 1
		shortfall := p.TargetReturn - floats.Dot(p.ExpectedReturns, x)
		if math.Abs(budget) <= s.Tolerance && shortfall <= s.Tolerance && boundViolation(x, bounds) <= s.Tolerance {
			break
		}

		state.lambda += state.penalty * budget
		state.nu = math.Max(0, state.nu+state.penalty*shortfall)
		state.penalty = math.Min(state.penalty*10, 1e8)
	}

	for i, b := range bounds {
		x[i] = math.Max(b[0], math.Min(b[1], x[i]))
	}

	budget := floats.Sum(x) - 1
	achieved := floats.Dot(p.ExpectedReturns, x)
	if math.Abs(budget) > s.feasibilityTolerance() || p.TargetReturn-achieved > s.feasibilityTolerance() {
		s.log.Debug().
			Float64("budget_residual", budget).
			Float64("achieved_return", achieved).
			Float64("target_return", p.TargetReturn).
			Msg("QP terminated without a feasible point")
		return nil, fmt.Errorf("%w: budget residual %.3g, return %.4f below target %.4f",
			ErrSolverInfeasible, budget, achieved, p.TargetReturn)
	}

	return &QPResult{
		Weights:        x,
		ObjectiveValue: state.variance(x),
		Status:         status.String(),
	}, nil
}

// feasibilityTolerance is looser than the stopping tolerance: the projection
// onto the bounds moves the point by up to the remaining bound violation.
func (s *GonumQPSolver) feasibilityTolerance() float64 {
	return math.Max(100*s.Tolerance, 1e-5)
}

// maxAttainableReturn fills the budget greedily from the highest expected
// return, starting from every asset at its lower bound. ok is false when no
// point inside the bounds sums to one.
func maxAttainableReturn(mu []float64, bounds [][2]float64) (float64, bool) {
	var lo, hi float64
	for _, b := range bounds {
		lo += b[0]
		hi += b[1]
	}
	if lo > 1+1e-12 || hi < 1-1e-12 {
		return 0, false
	}

	order := make([]int, len(mu))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return mu[order[a]] > mu[order[b]] })

	remaining := 1 - lo
	ret := 0.0
	for i, b := range bounds {
		ret += mu[i] * b[0]
	}
	for _, i := range order {
		if remaining <= 0 {
			break
		}
		add := math.Min(remaining, bounds[i][1]-bounds[i][0])
		ret += mu[i] * add
		remaining -= add
	}
	return ret, true
}

func boundViolation(x []float64, bounds [][2]float64) float64 {
	var worst float64
	for i, b := range bounds {
		worst = math.Max(worst, b[0]-x[i])
		worst = math.Max(worst, x[i]-b[1])
	}
	return worst
}
