package annealing

import (
	"fmt"
	"math"
)

// maxPlannedLevels bounds the dry run in Plan. Valid schedules converge in a
// few dozen levels because the cooling law is quadratic in T.
const maxPlannedLevels = 10000

// Config holds the annealing parameters.
//
//   - K:     initial inner-loop length
//   - T0/T1: start and stop temperature
//   - Alpha: cooling law parameter, T := T·(α·T)
//   - Beta:  proposal step size
//   - Tau:   penalty law parameter, μ := μ·(τ·μ), ρ := ρ·(τ·ρ)
//   - Mu0/Rho0: initial barrier and constraint-penalty weights
//
// Seed feeds RunSimulatedAnnealing. MaxLevels, when positive, caps the number
// of outer iterations; it is checked together with the T ≤ T1 test.
type Config struct {
	K         int     `json:"k" msgpack:"k"`
	T0        float64 `json:"t0" msgpack:"t0"`
	T1        float64 `json:"t1" msgpack:"t1"`
	Alpha     float64 `json:"alpha" msgpack:"alpha"`
	Beta      float64 `json:"beta" msgpack:"beta"`
	Tau       float64 `json:"tau" msgpack:"tau"`
	Mu0       float64 `json:"mu0" msgpack:"mu0"`
	Rho0      float64 `json:"rho0" msgpack:"rho0"`
	Seed      uint64  `json:"seed" msgpack:"seed"`
	MaxLevels int     `json:"max_levels,omitempty" msgpack:"max_levels"`
}

// DefaultConfig returns parameters that converge in ten outer iterations
// while keeping both penalty weights finite.
func DefaultConfig() Config {
	return Config{
		K:     200,
		T0:    1.0,
		T1:    0.01,
		Alpha: 0.99,
		Beta:  0.02,
		Tau:   0.99,
		Mu0:   100,
		Rho0:  0.3,
		Seed:  1,
	}
}

// Validate rejects parameters the schedule cannot run with.
func (c Config) Validate() error {
	if c.K < 1 {
		return fmt.Errorf("%w: K must be >= 1, got %d", ErrInvalidConfig, c.K)
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"T0", c.T0},
		{"T1", c.T1},
		{"alpha", c.Alpha},
		{"beta", c.Beta},
		{"tau", c.Tau},
		{"mu0", c.Mu0},
		{"rho0", c.Rho0},
	} {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%w: %s must be positive and finite, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}
	if c.T1 >= c.T0 {
		return fmt.Errorf("%w: T1 (%v) must be below T0 (%v)", ErrInvalidConfig, c.T1, c.T0)
	}
	if c.Alpha*c.T0 >= 1 {
		return fmt.Errorf("%w: alpha*T0 must be < 1 for the temperature to fall, got %v", ErrInvalidConfig, c.Alpha*c.T0)
	}
	if c.MaxLevels < 0 {
		return fmt.Errorf("%w: max_levels must be >= 0, got %d", ErrInvalidConfig, c.MaxLevels)
	}

	if _, err := Plan(c); err != nil {
		return err
	}
	return nil
}

// Plan dry-runs the temperature and penalty laws and returns the number of
// outer iterations a solve will perform. It fails if a penalty weight used
// for evaluation would turn 1/μ or 1/(2ρ) into a non-finite value.
func Plan(c Config) (int, error) {
	t := c.T0
	penalty := PenaltyState{Mu: c.Mu0, Rho: c.Rho0}

	for level := 1; level <= maxPlannedLevels; level++ {
		if err := penalty.check(); err != nil {
			return 0, fmt.Errorf("%w: level %d: %v", ErrInvalidConfig, level, err)
		}
		penalty = penalty.Grow(c.Tau)

		if t <= c.T1 || (c.MaxLevels > 0 && level >= c.MaxLevels) {
			return level, nil
		}
		t = Cool(t, c.Alpha)
	}

	return 0, fmt.Errorf("%w: schedule does not reach T1 within %d levels", ErrInvalidConfig, maxPlannedLevels)
}
