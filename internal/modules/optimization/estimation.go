package optimization

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Constants for risk model estimation
const (
	DefaultPeriodsPerYear = 252 // trading days
	DefaultEMAPeriod      = 60
	maxShrinkage          = 0.5
)

// EstimateRequest carries aligned price histories keyed by ISIN.
type EstimateRequest struct {
	ISINs          []string             `json:"isins"`
	Prices         map[string][]float64 `json:"prices"`
	EMAPeriod      int                  `json:"ema_period,omitempty"`
	PeriodsPerYear int                  `json:"periods_per_year,omitempty"`
	NoShrinkage    bool                 `json:"no_shrinkage,omitempty"`
}

// Estimate is an annualised risk model ready to feed a solve.
type Estimate struct {
	ISINs           []string           `json:"isins"`
	ExpectedReturns map[string]float64 `json:"expected_returns"`
	Covariance      [][]float64        `json:"covariance"`
	Shrinkage       float64            `json:"shrinkage"`
	Observations    int                `json:"observations"`
}

// EstimateRiskModel derives expected returns and covariance from prices.
// Expected returns are an EMA of simple daily returns, falling back to the
// plain mean when the history is shorter than the EMA period.
func EstimateRiskModel(req EstimateRequest) (*Estimate, error) {
	if len(req.ISINs) == 0 {
		return nil, fmt.Errorf("%w: no ISINs provided", ErrInvalidRequest)
	}
	period := req.EMAPeriod
	if period <= 0 {
		period = DefaultEMAPeriod
	}
	ppy := req.PeriodsPerYear
	if ppy <= 0 {
		ppy = DefaultPeriodsPerYear
	}

	returns := make(map[string][]float64, len(req.ISINs))
	for _, isin := range req.ISINs {
		prices, ok := req.Prices[isin]
		if !ok {
			return nil, fmt.Errorf("%w: missing prices for ISIN %s", ErrInvalidRequest, isin)
		}
		r := dailyReturns(prices)
		if i := firstNonFinite(r); i >= 0 {
			return nil, fmt.Errorf("%w: non-finite return %v at index %d for ISIN %s", ErrInvalidRequest, r[i], i, isin)
		}
		returns[isin] = r
	}

	cov, err := sampleCovariance(returns, req.ISINs)
	if err != nil {
		return nil, err
	}

	shrinkage := 0.0
	if !req.NoShrinkage {
		cov, shrinkage = shrinkToConstantCorrelation(cov)
	}

	expected := make(map[string]float64, len(req.ISINs))
	for _, isin := range req.ISINs {
		expected[isin] = smoothedMean(returns[isin], period) * float64(ppy)
	}
	for i := range cov {
		for j := range cov[i] {
			cov[i][j] *= float64(ppy)
		}
		if j := firstNonFinite(cov[i]); j >= 0 {
			return nil, fmt.Errorf("%w: covariance entry (%d,%d) is not finite", ErrInvalidRequest, i, j)
		}
	}
	for _, isin := range req.ISINs {
		if v := expected[isin]; math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: expected return for ISIN %s is not finite", ErrInvalidRequest, isin)
		}
	}

	return &Estimate{
		ISINs:           req.ISINs,
		ExpectedReturns: expected,
		Covariance:      cov,
		Shrinkage:       shrinkage,
		Observations:    len(returns[req.ISINs[0]]),
	}, nil
}

// dailyReturns computes simple returns. Gaps and non-positive prices yield 0.
func dailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && !math.IsNaN(prices[i]) && !math.IsNaN(prices[i-1]) {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// firstNonFinite returns the index of the first NaN or Inf in xs, or -1.
func firstNonFinite(xs []float64) int {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i
		}
	}
	return -1
}

func smoothedMean(returns []float64, period int) float64 {
	if len(returns) == 0 {
		return 0
	}
	if len(returns) < period {
		return stat.Mean(returns, nil)
	}

	ema := talib.Ema(returns, period)
	if last := ema[len(ema)-1]; !math.IsNaN(last) {
		return last
	}
	return stat.Mean(returns[len(returns)-period:], nil)
}

// sampleCovariance builds the N-1 sample covariance of the return columns.
func sampleCovariance(returns map[string][]float64, isins []string) ([][]float64, error) {
	length := len(returns[isins[0]])
	for _, isin := range isins {
		if len(returns[isin]) != length {
			return nil, fmt.Errorf("%w: inconsistent history lengths: expected %d returns, got %d for ISIN %s",
				ErrInvalidRequest, length, len(returns[isin]), isin)
		}
	}
	if length < 2 {
		return nil, fmt.Errorf("%w: need at least 2 returns, got %d", ErrInvalidRequest, length)
	}

	n := len(isins)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(returns[isins[i]], returns[isins[j]], nil)
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov, nil
}

// shrinkToConstantCorrelation blends the sample covariance with a target that
// keeps the average variance on the diagonal and the average covariance off
// it. The intensity is capped at 0.5.
func shrinkToConstantCorrelation(sample [][]float64) ([][]float64, float64) {
	n := len(sample)
	if n < 2 {
		return sample, 0
	}

	s := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		s.SetRow(i, sample[i])
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += s.At(i, i)
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += s.At(i, j)
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))

	target := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				target.Set(i, j, avgVar)
			} else if avgVar > 0 {
				target.Set(i, j, avgCov)
			}
		}
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var diff mat.Dense
		diff.Sub(s, target)
		meanSqDiff := mat.Norm(&diff, 2) // Frobenius
		meanSqDiff = meanSqDiff * meanSqDiff / float64(n*n)

		elements := s.RawMatrix().Data
		varSample := stat.Variance(elements, nil) * float64(len(elements)-1) / float64(len(elements))
		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(maxShrinkage, varSample/(varSample+meanSqDiff))
		}
	}

	var out mat.Dense
	out.Scale(1-shrinkage, s)
	var scaledTarget mat.Dense
	scaledTarget.Scale(shrinkage, target)
	out.Add(&out, &scaledTarget)

	result := make([][]float64, n)
	for i := 0; i < n; i++ {
		result[i] = mat.Row(nil, i, &out)
	}
	return result, shrinkage
}
