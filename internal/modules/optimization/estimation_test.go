package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyReturns(t *testing.T) {
	got := dailyReturns([]float64{100, 110, 99, 0, 50})
	require.Len(t, got, 4)
	assert.InDelta(t, 0.10, got[0], 1e-12)
	assert.InDelta(t, -0.10, got[1], 1e-12)
	assert.InDelta(t, -1.0, got[2], 1e-12)
	assert.Equal(t, 0.0, got[3], "non-positive base price yields 0")

	assert.Empty(t, dailyReturns([]float64{100}))
	assert.Equal(t, []float64{0}, dailyReturns([]float64{100, math.NaN()}))
}

func TestSampleCovariance(t *testing.T) {
	returns := map[string][]float64{
		"A": {0.1, -0.1, 0.1, -0.1},
		"B": {-0.1, 0.1, -0.1, 0.1},
	}

	cov, err := sampleCovariance(returns, []string{"A", "B"})
	require.NoError(t, err)

	// mean 0, sum of squares 0.04, N-1 = 3
	assert.InDelta(t, 0.04/3, cov[0][0], 1e-12)
	assert.InDelta(t, 0.04/3, cov[1][1], 1e-12)
	assert.InDelta(t, -0.04/3, cov[0][1], 1e-12)
	assert.Equal(t, cov[0][1], cov[1][0])
}

func TestSampleCovariance_Errors(t *testing.T) {
	_, err := sampleCovariance(map[string][]float64{
		"A": {0.1, 0.2, 0.3},
		"B": {0.1, 0.2},
	}, []string{"A", "B"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = sampleCovariance(map[string][]float64{"A": {0.1}}, []string{"A"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestShrinkToConstantCorrelation_TwoAssets(t *testing.T) {
	sample := [][]float64{
		{0.04, 0.01},
		{0.01, 0.02},
	}

	shrunk, intensity := shrinkToConstantCorrelation(sample)
	assert.Equal(t, 0.2, intensity)

	// Target: average variance 0.03 on the diagonal, 0.01 off it
	assert.InDelta(t, 0.8*0.04+0.2*0.03, shrunk[0][0], 1e-12)
	assert.InDelta(t, 0.8*0.02+0.2*0.03, shrunk[1][1], 1e-12)
	assert.InDelta(t, 0.01, shrunk[0][1], 1e-12)
	assert.InDelta(t, shrunk[0][1], shrunk[1][0], 1e-15)
}

func TestShrinkToConstantCorrelation_BoundedIntensity(t *testing.T) {
	sample := [][]float64{
		{0.04, 0.01, 0.005},
		{0.01, 0.03, 0.008},
		{0.005, 0.008, 0.025},
	}

	shrunk, intensity := shrinkToConstantCorrelation(sample)
	assert.GreaterOrEqual(t, intensity, 0.0)
	assert.LessOrEqual(t, intensity, maxShrinkage)
	for i := range shrunk {
		for j := range shrunk[i] {
			assert.InDelta(t, shrunk[i][j], shrunk[j][i], 1e-15)
		}
	}
}

func TestShrinkToConstantCorrelation_SingleAsset(t *testing.T) {
	shrunk, intensity := shrinkToConstantCorrelation([][]float64{{0.04}})
	assert.Equal(t, 0.0, intensity)
	assert.Equal(t, [][]float64{{0.04}}, shrunk)
}

func geometricPrices(start, rate float64, n int) []float64 {
	prices := make([]float64, n)
	prices[0] = start
	for i := 1; i < n; i++ {
		prices[i] = prices[i-1] * (1 + rate)
	}
	return prices
}

func TestEstimateRiskModel_EMAOfConstantReturns(t *testing.T) {
	est, err := EstimateRiskModel(EstimateRequest{
		ISINs: []string{"US0378331005", "US5949181045"},
		Prices: map[string][]float64{
			"US0378331005": geometricPrices(100, 0.001, 120),
			"US5949181045": geometricPrices(50, 0.0005, 120),
		},
		EMAPeriod: 20,
	})
	require.NoError(t, err)

	assert.Equal(t, 119, est.Observations)
	assert.InDelta(t, 0.001*252, est.ExpectedReturns["US0378331005"], 1e-9)
	assert.InDelta(t, 0.0005*252, est.ExpectedReturns["US5949181045"], 1e-9)
	require.Len(t, est.Covariance, 2)
	assert.InDelta(t, 0.0, est.Covariance[0][0], 1e-12)
}

func TestEstimateRiskModel_ShortHistoryUsesMean(t *testing.T) {
	est, err := EstimateRiskModel(EstimateRequest{
		ISINs: []string{"A", "B"},
		Prices: map[string][]float64{
			"A": {100, 110, 99, 108.9},
			"B": {100, 90, 99, 89.1},
		},
		PeriodsPerYear: 12,
		NoShrinkage:    true,
	})
	require.NoError(t, err)

	assert.InDelta(t, (0.1-0.1+0.1)/3*12, est.ExpectedReturns["A"], 1e-9)
	assert.InDelta(t, (-0.1+0.1-0.1)/3*12, est.ExpectedReturns["B"], 1e-9)
	assert.Equal(t, 0.0, est.Shrinkage)
	assert.Less(t, est.Covariance[0][1], 0.0, "mirror-image series are negatively correlated")
}

func TestEstimateRiskModel_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  EstimateRequest
	}{
		{"no isins", EstimateRequest{}},
		{"missing prices", EstimateRequest{
			ISINs:  []string{"A", "B"},
			Prices: map[string][]float64{"A": {1, 2, 3}},
		}},
		{"too short", EstimateRequest{
			ISINs:  []string{"A"},
			Prices: map[string][]float64{"A": {1, 2}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EstimateRiskModel(tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestEstimateRiskModel_RejectsNonFiniteResults(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
	}{
		{"overflowing return", []float64{1e-300, 1e308, 1e-300, 1e308}},
		{"overflowing covariance", []float64{1, 1e155, 1, 1e155}},
		{"infinite price", []float64{100, math.Inf(1), 100, 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := EstimateRiskModel(EstimateRequest{
				ISINs: []string{"A", "B"},
				Prices: map[string][]float64{
					"A": tt.prices,
					"B": {100, 101, 102, 103},
				},
			})
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), "finite")
			assert.Nil(t, est)
		})
	}
}
