package annealing

import "errors"

var (
	// ErrInvalidDimension is returned when the expected-return vector, the
	// covariance matrix and the initial allocation disagree on the asset count.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrInvalidProblem is returned for problems that are dimensionally sound but
	// unusable: empty, non-finite entries or an asymmetric covariance matrix.
	ErrInvalidProblem = errors.New("invalid problem")

	// ErrNonFiniteScore means the objective produced NaN or Inf for a finite
	// allocation. This is a precondition violation and aborts the solve.
	ErrNonFiniteScore = errors.New("non-finite objective score")

	// ErrInvalidConfig is returned when an annealing configuration is rejected.
	ErrInvalidConfig = errors.New("invalid annealing config")
)
