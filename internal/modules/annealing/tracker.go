package annealing

// Tracker keeps the best allocation seen during a solve.
type Tracker struct {
	weights []float64
	score   float64
	updates int
}

// NewTracker starts tracking from an initial allocation and its score.
func NewTracker(weights []float64, score float64) *Tracker {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &Tracker{weights: w, score: score}
}

// Observe records weights if score is strictly lower than the best so far.
// Ties keep the earlier allocation.
func (t *Tracker) Observe(weights []float64, score float64) bool {
	if !(score < t.score) {
		return false
	}
	copy(t.weights, weights)
	t.score = score
	t.updates++
	return true
}

// Score returns the best score.
func (t *Tracker) Score() float64 {
	return t.score
}

// Weights returns a copy of the best allocation.
func (t *Tracker) Weights() []float64 {
	w := make([]float64, len(t.weights))
	copy(w, t.weights)
	return w
}

// Updates returns how many times the best allocation was replaced.
func (t *Tracker) Updates() int {
	return t.updates
}
