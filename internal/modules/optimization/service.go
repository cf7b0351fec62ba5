// Package optimization provides portfolio allocation services on top of the
// annealing search and a convex QP solver.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/minvar/internal/modules/annealing"
	"github.com/rs/zerolog"
)

// ErrInvalidRequest marks malformed optimizer requests.
var ErrInvalidRequest = errors.New("invalid optimizer request")

// ConfigOverrides replaces individual fields of the service's annealing
// defaults. Nil fields keep the default.
type ConfigOverrides struct {
	K         *int     `json:"k,omitempty"`
	T0        *float64 `json:"t0,omitempty"`
	T1        *float64 `json:"t1,omitempty"`
	Alpha     *float64 `json:"alpha,omitempty"`
	Beta      *float64 `json:"beta,omitempty"`
	Tau       *float64 `json:"tau,omitempty"`
	Mu0       *float64 `json:"mu0,omitempty"`
	Rho0      *float64 `json:"rho0,omitempty"`
	MaxLevels *int     `json:"max_levels,omitempty"`
}

// Apply returns cfg with the non-nil overrides set.
func (o *ConfigOverrides) Apply(cfg annealing.Config) annealing.Config {
	if o == nil {
		return cfg
	}
	if o.K != nil {
		cfg.K = *o.K
	}
	for _, f := range []struct {
		src *float64
		dst *float64
	}{
		{o.T0, &cfg.T0},
		{o.T1, &cfg.T1},
		{o.Alpha, &cfg.Alpha},
		{o.Beta, &cfg.Beta},
		{o.Tau, &cfg.Tau},
		{o.Mu0, &cfg.Mu0},
		{o.Rho0, &cfg.Rho0},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if o.MaxLevels != nil {
		cfg.MaxLevels = *o.MaxLevels
	}
	return cfg
}

// AnnealRequest asks for a simulated-annealing allocation. All maps are keyed
// by ISIN; the covariance rows and columns follow the ISINs order.
type AnnealRequest struct {
	ISINs           []string           `json:"isins"`
	ExpectedReturns map[string]float64 `json:"expected_returns"`
	Covariance      [][]float64        `json:"covariance"`
	TargetReturn    float64            `json:"target_return"`
	InitialWeights  map[string]float64 `json:"initial_weights,omitempty"`
	Seed            *uint64            `json:"seed,omitempty"`
	Config          *ConfigOverrides   `json:"config,omitempty"`
}

// QPRequest asks for the exact convex solution. Missing bounds default to
// [0, 1].
type QPRequest struct {
	ISINs           []string           `json:"isins"`
	ExpectedReturns map[string]float64 `json:"expected_returns"`
	Covariance      [][]float64        `json:"covariance"`
	TargetReturn    float64            `json:"target_return"`
	MinWeights      map[string]float64 `json:"min_weights,omitempty"`
	MaxWeights      map[string]float64 `json:"max_weights,omitempty"`
	InitialWeights  map[string]float64 `json:"initial_weights,omitempty"`
}

// AllocationResult is the service-level outcome of a solve.
type AllocationResult struct {
	RunID          string             `json:"run_id,omitempty"`
	Method         string             `json:"method"`
	Weights        map[string]float64 `json:"weights"`
	AchievedReturn float64            `json:"achieved_return"`
	Variance       float64            `json:"variance"`
	BudgetResidual float64            `json:"budget_residual"`
	ObjectiveValue float64            `json:"objective_value"`
	Seed           uint64             `json:"seed"`
	Annealing      *annealing.Result  `json:"annealing,omitempty"`
	Status         string             `json:"status,omitempty"`
	DurationMs     int64              `json:"duration_ms"`
}

// Limits bound the work one annealing request may ask for. Zero fields are
// unlimited.
type Limits struct {
	MaxK           int `json:"max_k"`
	MaxEvaluations int `json:"max_evaluations"`
}

// DefaultLimits allow a few seconds of search on a typical universe.
func DefaultLimits() Limits {
	return Limits{MaxK: 100_000, MaxEvaluations: 20_000_000}
}

// OptimizerService runs solves and records them.
type OptimizerService struct {
	defaults annealing.Config
	limits   Limits
	qp       QPSolver
	runs     RunStore
	seed     func() uint64
	log      zerolog.Logger
}

// NewOptimizerService creates the service. runs may be nil, in which case
// nothing is persisted.
func NewOptimizerService(defaults annealing.Config, qp QPSolver, runs RunStore, log zerolog.Logger) *OptimizerService {
	return &OptimizerService{
		defaults: defaults,
		limits:   DefaultLimits(),
		qp:       qp,
		runs:     runs,
		seed:     func() uint64 { return uint64(time.Now().UnixNano()) },
		log:      log.With().Str("service", "optimizer").Logger(),
	}
}

// Defaults returns the annealing configuration used when a request sets no
// overrides.
func (s *OptimizerService) Defaults() annealing.Config {
	return s.defaults
}

// SetLimits replaces the per-request work limits.
func (s *OptimizerService) SetLimits(l Limits) {
	s.limits = l
}

// Anneal runs simulated annealing for req.
func (s *OptimizerService) Anneal(ctx context.Context, req AnnealRequest) (*AllocationResult, error) {
	return s.AnnealWithProgress(ctx, req, nil)
}

// AnnealWithProgress is Anneal with a per-level observer.
func (s *OptimizerService) AnnealWithProgress(
	ctx context.Context,
	req AnnealRequest,
	onLevel func(annealing.LevelReport),
) (*AllocationResult, error) {
	problem, err := buildProblem(req.ISINs, req.ExpectedReturns, req.Covariance, req.TargetReturn, req.InitialWeights)
	if err != nil {
		return nil, err
	}

	cfg := req.Config.Apply(s.defaults)
	if err := s.checkLimits(cfg); err != nil {
		return nil, err
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	} else {
		cfg.Seed = s.seed()
	}

	hooks := annealing.Hooks{
		OnLevel: func(r annealing.LevelReport) {
			s.log.Debug().
				Int("level", r.Level).
				Float64("temperature", r.Temperature).
				Int("inner_length", r.InnerLength).
				Float64("acceptance_rate", r.AcceptanceRate).
				Float64("best_score", r.BestScore).
				Msg("Annealing level complete")
			if onLevel != nil {
				onLevel(r)
			}
		},
	}

	start := time.Now()
	result, err := annealing.NewAnnealer(cfg, annealing.NewRand(cfg.Seed), hooks).Solve(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("annealing failed: %w", err)
	}
	duration := time.Since(start)

	alloc, err := describe(problem, req.ISINs, result.Weights)
	if err != nil {
		return nil, err
	}
	alloc.Method = MethodAnnealing
	alloc.ObjectiveValue = result.ObjectiveValue
	alloc.Seed = cfg.Seed
	alloc.Annealing = result
	alloc.DurationMs = duration.Milliseconds()

	s.log.Info().
		Int("num_assets", len(req.ISINs)).
		Int("levels", result.Levels).
		Int("evaluations", result.Evaluations).
		Float64("achieved_return", alloc.AchievedReturn).
		Float64("variance", alloc.Variance).
		Float64("budget_residual", alloc.BudgetResidual).
		Dur("duration", duration).
		Msg("Annealing solve complete")

	s.record(ctx, alloc, &Run{
		Method:         MethodAnnealing,
		DurationMs:     alloc.DurationMs,
		ISINs:          req.ISINs,
		Weights:        alloc.Weights,
		Problem:        problem,
		Config:         &cfg,
		ObjectiveValue: alloc.ObjectiveValue,
		AchievedReturn: alloc.AchievedReturn,
		Variance:       alloc.Variance,
		Levels:         result.Levels,
	})
	return alloc, nil
}

// checkLimits rejects configurations whose inner loop could outgrow the
// limits. The context is only consulted between levels, so a single level
// must stay bounded. The worst case assumes every level accepts less than
// 20% of its moves and keeps growing the inner length.
func (s *OptimizerService) checkLimits(cfg annealing.Config) error {
	if s.limits.MaxK > 0 && cfg.K > s.limits.MaxK {
		return fmt.Errorf("%w: k=%d exceeds the maximum of %d", ErrInvalidRequest, cfg.K, s.limits.MaxK)
	}
	if s.limits.MaxEvaluations <= 0 {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	levels, err := annealing.Plan(cfg)
	if err != nil {
		return err
	}
	if worst := worstCaseEvaluations(cfg.K, levels, s.limits.MaxEvaluations); worst > s.limits.MaxEvaluations {
		return fmt.Errorf("%w: schedule may need more than %d evaluations (k=%d, levels=%d)",
			ErrInvalidRequest, s.limits.MaxEvaluations, cfg.K, levels)
	}
	return nil
}

// worstCaseEvaluations sums the inner lengths of levels outer iterations
// that never accept a move. It stops once the sum passes limit.
func worstCaseEvaluations(k, levels, limit int) int {
	total, kl := 0, k
	for l := 0; l < levels; l++ {
		total += kl
		if total > limit {
			return total
		}
		kl = annealing.AdaptInnerLength(kl, 0)
	}
	return total
}

// SolveQP solves req exactly through the configured QPSolver.
func (s *OptimizerService) SolveQP(ctx context.Context, req QPRequest) (*AllocationResult, error) {
	problem, err := buildProblem(req.ISINs, req.ExpectedReturns, req.Covariance, req.TargetReturn, req.InitialWeights)
	if err != nil {
		return nil, err
	}

	bounds := make([][2]float64, len(req.ISINs))
	for i, isin := range req.ISINs {
		lo, hi := 0.0, 1.0
		if v, ok := req.MinWeights[isin]; ok {
			lo = v
		}
		if v, ok := req.MaxWeights[isin]; ok {
			hi = v
		}
		bounds[i] = [2]float64{lo, hi}
	}

	start := time.Now()
	result, err := s.qp.SolveQP(ctx, ConvexProblem{
		Covariance:      problem.Covariance,
		ExpectedReturns: problem.ExpectedReturns,
		TargetReturn:    problem.TargetReturn,
		Bounds:          bounds,
		InitialPoint:    problem.InitialWeights,
	})
	if err != nil {
		s.log.Warn().Err(err).Int("num_assets", len(req.ISINs)).Msg("QP solve failed")
		return nil, err
	}
	duration := time.Since(start)

	alloc, err := describe(problem, req.ISINs, result.Weights)
	if err != nil {
		return nil, err
	}
	alloc.Method = MethodQP
	alloc.ObjectiveValue = result.ObjectiveValue
	alloc.Status = result.Status
	alloc.DurationMs = duration.Milliseconds()

	s.log.Info().
		Int("num_assets", len(req.ISINs)).
		Str("status", result.Status).
		Float64("achieved_return", alloc.AchievedReturn).
		Float64("variance", alloc.Variance).
		Dur("duration", duration).
		Msg("QP solve complete")

	s.record(ctx, alloc, &Run{
		Method:         MethodQP,
		DurationMs:     alloc.DurationMs,
		ISINs:          req.ISINs,
		Weights:        alloc.Weights,
		Problem:        problem,
		ObjectiveValue: alloc.ObjectiveValue,
		AchievedReturn: alloc.AchievedReturn,
		Variance:       alloc.Variance,
		Status:         result.Status,
	})
	return alloc, nil
}

// Estimate builds a risk model from price histories.
func (s *OptimizerService) Estimate(req EstimateRequest) (*Estimate, error) {
	est, err := EstimateRiskModel(req)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int("num_assets", len(est.ISINs)).
		Int("observations", est.Observations).
		Float64("shrinkage", est.Shrinkage).
		Msg("Risk model estimated")
	return est, nil
}

// GetRun returns a recorded run.
func (s *OptimizerService) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return s.runs.Get(ctx, id)
}

// ListRuns returns the most recent runs.
func (s *OptimizerService) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.runs == nil {
		return []Run{}, nil
	}
	return s.runs.List(ctx, limit)
}

// PruneRuns deletes runs older than retention.
func (s *OptimizerService) PruneRuns(ctx context.Context, retention time.Duration) (int64, error) {
	if s.runs == nil {
		return 0, nil
	}
	deleted, err := s.runs.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	s.log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Pruned optimizer runs")
	return deleted, nil
}

// record persists run. A storage failure does not fail the solve.
func (s *OptimizerService) record(ctx context.Context, alloc *AllocationResult, run *Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Save(ctx, run); err != nil {
		s.log.Error().Err(err).Str("method", run.Method).Msg("Failed to record optimizer run")
		return
	}
	alloc.RunID = run.ID
}

// buildProblem orders the keyed inputs by isins. Missing initial weights
// default to the equal allocation.
func buildProblem(
	isins []string,
	expected map[string]float64,
	cov [][]float64,
	target float64,
	initial map[string]float64,
) (annealing.Problem, error) {
	if len(isins) == 0 {
		return annealing.Problem{}, fmt.Errorf("%w: no ISINs provided", ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(isins))
	mu := make([]float64, len(isins))
	w0 := make([]float64, len(isins))
	for i, isin := range isins {
		if seen[isin] {
			return annealing.Problem{}, fmt.Errorf("%w: duplicate ISIN %s", ErrInvalidRequest, isin)
		}
		seen[isin] = true

		r, ok := expected[isin]
		if !ok {
			return annealing.Problem{}, fmt.Errorf("%w: missing expected return for ISIN %s", ErrInvalidRequest, isin)
		}
		mu[i] = r

		if len(initial) == 0 {
			w0[i] = 1.0 / float64(len(isins))
		} else {
			w0[i] = initial[isin]
		}
	}

	p := annealing.Problem{
		ExpectedReturns: mu,
		Covariance:      cov,
		TargetReturn:    target,
		InitialWeights:  w0,
	}
	if err := p.Validate(); err != nil {
		return annealing.Problem{}, err
	}
	return p, nil
}

// describe reports the achieved return, variance and budget residual of w.
func describe(p annealing.Problem, isins []string, w []float64) (*AllocationResult, error) {
	obj, err := annealing.NewObjective(p)
	if err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(isins))
	for i, isin := range isins {
		weights[isin] = w[i]
	}
	budget, _ := obj.Residuals(w)

	return &AllocationResult{
		Weights:        weights,
		AchievedReturn: obj.ExpectedReturn(w),
		Variance:       obj.Variance(w),
		BudgetResidual: roundResidual(budget),
	}, nil
}

func roundResidual(v float64) float64 {
	return math.Round(v*1e12) / 1e12
}
