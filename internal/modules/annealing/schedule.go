package annealing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// State is the controller state.
type State int

const (
	StateRunning State = iota
	StateConverged
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Acceptance thresholds and resize factors for the inner-loop length.
const (
	highAcceptance = 0.8
	lowAcceptance  = 0.2
	shrinkFactor   = 0.75
	growFactor     = 1.5
)

// PenaltyState holds the barrier weight Mu and the constraint weight Rho.
type PenaltyState struct {
	Mu  float64 `json:"mu" msgpack:"mu"`
	Rho float64 `json:"rho" msgpack:"rho"`
}

// Grow applies μ := μ·(τ·μ) and ρ := ρ·(τ·ρ).
func (p PenaltyState) Grow(tau float64) PenaltyState {
	return PenaltyState{
		Mu:  p.Mu * (tau * p.Mu),
		Rho: p.Rho * (tau * p.Rho),
	}
}

// MarshalJSON encodes weights that overflowed as the strings "+Inf"/"-Inf",
// since JSON numbers cannot carry them.
func (p PenaltyState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Mu  json.RawMessage `json:"mu"`
		Rho json.RawMessage `json:"rho"`
	}{jsonFloat(p.Mu), jsonFloat(p.Rho)})
}

// UnmarshalJSON accepts both numbers and the quoted forms written by
// MarshalJSON.
func (p *PenaltyState) UnmarshalJSON(b []byte) error {
	var raw struct {
		Mu  json.RawMessage `json:"mu"`
		Rho json.RawMessage `json:"rho"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	mu, err := parseJSONFloat(raw.Mu)
	if err != nil {
		return fmt.Errorf("mu: %w", err)
	}
	rho, err := parseJSONFloat(raw.Rho)
	if err != nil {
		return fmt.Errorf("rho: %w", err)
	}
	p.Mu, p.Rho = mu, rho
	return nil
}

func parseJSONFloat(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	s := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return 0, err
		}
		s = unquoted
	}
	return strconv.ParseFloat(s, 64)
}

func jsonFloat(v float64) json.RawMessage {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return json.RawMessage(strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64)))
	}
	return json.RawMessage(strconv.FormatFloat(v, 'g', -1, 64))
}

func (p PenaltyState) check() error {
	if !(p.Mu > 0) || math.IsInf(1/p.Mu, 0) {
		return fmt.Errorf("barrier weight 1/mu is not finite (mu=%g)", p.Mu)
	}
	if !(p.Rho > 0) || math.IsInf(1/(2*p.Rho), 0) {
		return fmt.Errorf("penalty weight 1/(2rho) is not finite (rho=%g)", p.Rho)
	}
	return nil
}

// Cool applies T := T·(α·T).
func Cool(t, alpha float64) float64 {
	return t * (alpha * t)
}

// AdaptInnerLength resizes the inner-loop length from the fraction of
// accepted moves: above 0.8 it shrinks to ceil(0.75·kl), below 0.2 it grows
// to ceil(1.5·kl). The result is never below 1.
func AdaptInnerLength(kl, accepted int) int {
	if kl < 1 {
		return 1
	}
	fraction := float64(accepted) / float64(kl)
	switch {
	case fraction > highAcceptance:
		kl = int(math.Ceil(shrinkFactor * float64(kl)))
	case fraction < lowAcceptance:
		kl = int(math.Ceil(growFactor * float64(kl)))
	}
	if kl < 1 {
		kl = 1
	}
	return kl
}

// Schedule drives the outer loop: temperature, inner-loop length and penalty
// weights. It is owned by a single solve.
type Schedule struct {
	cfg Config

	Temperature float64
	InnerLength int
	Penalty     PenaltyState
	State       State
	Level       int
	Capped      bool
}

// NewSchedule returns a running schedule at T0 with the initial penalties.
func NewSchedule(cfg Config) *Schedule {
	return &Schedule{
		cfg:         cfg,
		Temperature: cfg.T0,
		InnerLength: cfg.K,
		Penalty:     PenaltyState{Mu: cfg.Mu0, Rho: cfg.Rho0},
		State:       StateRunning,
	}
}

// Running reports whether another outer iteration should run.
func (s *Schedule) Running() bool {
	return s.State == StateRunning
}

// Advance closes an outer iteration that accepted the given number of moves:
// it adapts the inner length, grows the penalties and either converges or
// cools.
func (s *Schedule) Advance(accepted int) {
	s.Level++
	s.InnerLength = AdaptInnerLength(s.InnerLength, accepted)
	s.Penalty = s.Penalty.Grow(s.cfg.Tau)

	if s.Temperature <= s.cfg.T1 {
		s.State = StateConverged
		return
	}
	if s.cfg.MaxLevels > 0 && s.Level >= s.cfg.MaxLevels {
		s.State = StateConverged
		s.Capped = true
		return
	}
	s.Temperature = Cool(s.Temperature, s.cfg.Alpha)
}
