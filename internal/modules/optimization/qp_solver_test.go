package optimization

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQPSolver() *GonumQPSolver {
	return NewGonumQPSolver(zerolog.New(nil).Level(zerolog.Disabled))
}

// Uncorrelated assets with variances 0.04 and 0.09. The unconstrained
// minimum-variance point is (0.09, 0.04)/0.13.
func uncorrelatedPair(target float64) ConvexProblem {
	return ConvexProblem{
		Covariance: [][]float64{
			{0.04, 0},
			{0, 0.09},
		},
		ExpectedReturns: []float64{0.10, 0.20},
		TargetReturn:    target,
	}
}

func TestGonumQPSolver_MinimumVariancePoint(t *testing.T) {
	result, err := newTestQPSolver().SolveQP(context.Background(), uncorrelatedPair(0.10))
	require.NoError(t, err)
	require.Len(t, result.Weights, 2)

	assert.InDelta(t, 0.6923, result.Weights[0], 1e-3)
	assert.InDelta(t, 0.3077, result.Weights[1], 1e-3)
	assert.InDelta(t, 0.0036/0.13, result.ObjectiveValue, 1e-4)
	assert.NotEmpty(t, result.Status)
}

func TestGonumQPSolver_ReturnConstraintBinds(t *testing.T) {
	// 0.1·w1 + 0.2·w2 >= 0.15 forces w2 >= 0.5
	result, err := newTestQPSolver().SolveQP(context.Background(), uncorrelatedPair(0.15))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Weights[0], 1e-3)
	assert.InDelta(t, 0.5, result.Weights[1], 1e-3)
	assert.GreaterOrEqual(t, 0.1*result.Weights[0]+0.2*result.Weights[1], 0.15-1e-4)
}

func TestGonumQPSolver_UpperBoundBinds(t *testing.T) {
	p := uncorrelatedPair(0.10)
	p.Bounds = [][2]float64{{0, 0.6}, {0, 1}}

	result, err := newTestQPSolver().SolveQP(context.Background(), p)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.Weights[0], 0.6)
	assert.InDelta(t, 0.6, result.Weights[0], 1e-3)
	assert.InDelta(t, 0.4, result.Weights[1], 1e-3)
}

func TestGonumQPSolver_ThreeAssetsFeasible(t *testing.T) {
	p := ConvexProblem{
		Covariance: [][]float64{
			{0.04, 0.01, 0.005},
			{0.01, 0.03, 0.008},
			{0.005, 0.008, 0.025},
		},
		ExpectedReturns: []float64{0.12, 0.08, 0.10},
		TargetReturn:    0.10,
	}

	result, err := newTestQPSolver().SolveQP(context.Background(), p)
	require.NoError(t, err)

	sum, ret := 0.0, 0.0
	for i, w := range result.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
		ret += w * p.ExpectedReturns[i]
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
	assert.GreaterOrEqual(t, ret, 0.10-1e-4)
}

func TestGonumQPSolver_Infeasible(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ConvexProblem)
	}{
		{"target above best asset", func(p *ConvexProblem) { p.TargetReturn = 0.5 }},
		{"bounds cannot reach budget", func(p *ConvexProblem) { p.Bounds = [][2]float64{{0, 0.3}, {0, 0.3}} }},
		{"inverted bound", func(p *ConvexProblem) { p.Bounds = [][2]float64{{0.5, 0.2}, {0, 1}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := uncorrelatedPair(0.10)
			tt.mutate(&p)

			_, err := newTestQPSolver().SolveQP(context.Background(), p)
			assert.ErrorIs(t, err, ErrSolverInfeasible)
			assert.NotErrorIs(t, err, ErrSolverFailed)
		})
	}
}

func TestGonumQPSolver_DimensionMismatch(t *testing.T) {
	p := uncorrelatedPair(0.10)
	p.Covariance = [][]float64{{0.04}}

	_, err := newTestQPSolver().SolveQP(context.Background(), p)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSolverInfeasible)
}

func TestGonumQPSolver_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestQPSolver().SolveQP(ctx, uncorrelatedPair(0.10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxAttainableReturn(t *testing.T) {
	mu := []float64{0.05, 0.20, 0.10}

	best, ok := maxAttainableReturn(mu, [][2]float64{{0, 1}, {0, 1}, {0, 1}})
	require.True(t, ok)
	assert.InDelta(t, 0.20, best, 1e-12)

	best, ok = maxAttainableReturn(mu, [][2]float64{{0.2, 1}, {0, 0.5}, {0, 1}})
	require.True(t, ok)
	// 0.2 forced into the first asset, 0.5 into the second, 0.3 into the third
	assert.InDelta(t, 0.01+0.10+0.03, best, 1e-12)

	_, ok = maxAttainableReturn(mu, [][2]float64{{0.5, 1}, {0.5, 1}, {0.5, 1}})
	assert.False(t, ok)
}
