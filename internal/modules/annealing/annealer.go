package annealing

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// seedStream is mixed into the second PCG word so that a single uint64 seed
// yields a well-spread generator state.
const seedStream = 0x9e3779b97f4a7c15

// NewRand returns a reproducible generator for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^seedStream))
}

// Result is the outcome of a converged solve.
type Result struct {
	Weights          []float64    `json:"weights" msgpack:"weights"`
	ObjectiveValue   float64      `json:"objective_value" msgpack:"objective_value"`
	Levels           int          `json:"levels" msgpack:"levels"`
	Evaluations      int          `json:"evaluations" msgpack:"evaluations"`
	AcceptedMoves    int          `json:"accepted_moves" msgpack:"accepted_moves"`
	BestUpdates      int          `json:"best_updates" msgpack:"best_updates"`
	FinalTemperature float64      `json:"final_temperature" msgpack:"final_temperature"`
	InnerLength      int          `json:"inner_length" msgpack:"inner_length"`
	Penalty          PenaltyState `json:"penalty" msgpack:"penalty"`
	Capped           bool         `json:"capped" msgpack:"capped"`
}

// LevelReport summarises one outer iteration.
type LevelReport struct {
	Level          int          `json:"level"`
	Temperature    float64      `json:"temperature"`
	InnerLength    int          `json:"inner_length"`
	Accepted       int          `json:"accepted"`
	AcceptanceRate float64      `json:"acceptance_rate"`
	CurrentScore   float64      `json:"current_score"`
	BestScore      float64      `json:"best_score"`
	Penalty        PenaltyState `json:"penalty"`
}

// Hooks are optional observers. OnAccept receives the allocation right after
// it became current; the slice is reused by the search and must be copied if
// retained. OnLevel runs after each outer iteration, before the schedule
// advances.
type Hooks struct {
	OnAccept func(step int, weights []float64, score float64)
	OnLevel  func(report LevelReport)
}

// SearchState is the mutable state of one solve.
type SearchState struct {
	Current      []float64
	CurrentScore float64
	Candidate    []float64
	Best         *Tracker
	Schedule     *Schedule
	Accepted     int
	Evaluations  int
	TotalAccepts int
}

// Annealer runs simulated annealing over the penalised objective. An Annealer
// owns its generator and must not be shared between goroutines; independent
// solves need independent Annealers.
type Annealer struct {
	cfg   Config
	rng   *rand.Rand
	hooks Hooks
}

// NewAnnealer creates an annealer. A nil rng is replaced by NewRand(cfg.Seed).
func NewAnnealer(cfg Config, rng *rand.Rand, hooks Hooks) *Annealer {
	if rng == nil {
		rng = NewRand(cfg.Seed)
	}
	return &Annealer{cfg: cfg, rng: rng, hooks: hooks}
}

// RunSimulatedAnnealing solves p with a generator seeded from cfg.Seed.
func RunSimulatedAnnealing(p Problem, cfg Config) (*Result, error) {
	return NewAnnealer(cfg, nil, Hooks{}).Solve(context.Background(), p)
}

// Solve runs the search until the schedule converges. The context is only
// consulted between outer iterations.
func (a *Annealer) Solve(ctx context.Context, p Problem) (*Result, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	obj, err := NewObjective(p)
	if err != nil {
		return nil, err
	}

	state, err := a.newState(obj, p)
	if err != nil {
		return nil, err
	}

	for state.Schedule.Running() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.runLevel(obj, state); err != nil {
			return nil, err
		}
		state.Schedule.Advance(state.Accepted)
	}

	s := state.Schedule
	return &Result{
		Weights:          state.Best.Weights(),
		ObjectiveValue:   state.Best.Score(),
		Levels:           s.Level,
		Evaluations:      state.Evaluations,
		AcceptedMoves:    state.TotalAccepts,
		BestUpdates:      state.Best.Updates(),
		FinalTemperature: s.Temperature,
		InnerLength:      s.InnerLength,
		Penalty:          s.Penalty,
		Capped:           s.Capped,
	}, nil
}

func (a *Annealer) newState(obj *Objective, p Problem) (*SearchState, error) {
	n := obj.Dim()
	current := make([]float64, n)
	copy(current, p.InitialWeights)
	Project(current)

	schedule := NewSchedule(a.cfg)
	score := obj.Score(current, schedule.Penalty)
	if !isFinite(score) {
		return nil, fmt.Errorf("%w: initial allocation scored %v", ErrNonFiniteScore, score)
	}

	return &SearchState{
		Current:      current,
		CurrentScore: score,
		Candidate:    make([]float64, n),
		Best:         NewTracker(current, score),
		Schedule:     schedule,
	}, nil
}

// runLevel performs exactly InnerLength trials at the current temperature.
func (a *Annealer) runLevel(obj *Objective, st *SearchState) error {
	s := st.Schedule
	st.Accepted = 0

	for i := 0; i < s.InnerLength; i++ {
		Perturb(st.Candidate, st.Current, a.cfg.Beta, a.rng)
		score := obj.Score(st.Candidate, s.Penalty)
		st.Evaluations++
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return fmt.Errorf("%w: level %d trial %d scored %v", ErrNonFiniteScore, s.Level+1, i, score)
		}

		if Accept(st.CurrentScore, score, s.Temperature, a.rng) {
			st.Current, st.Candidate = st.Candidate, st.Current
			st.CurrentScore = score
			st.Accepted++
			st.TotalAccepts++
			if a.hooks.OnAccept != nil {
				a.hooks.OnAccept(st.Evaluations, st.Current, score)
			}
		}

		st.Best.Observe(st.Current, st.CurrentScore)
	}

	if a.hooks.OnLevel != nil {
		a.hooks.OnLevel(LevelReport{
			Level:          s.Level + 1,
			Temperature:    s.Temperature,
			InnerLength:    s.InnerLength,
			Accepted:       st.Accepted,
			AcceptanceRate: float64(st.Accepted) / float64(s.InnerLength),
			CurrentScore:   st.CurrentScore,
			BestScore:      st.Best.Score(),
			Penalty:        s.Penalty,
		})
	}
	return nil
}
