package annealing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_StrictImprovementOnly(t *testing.T) {
	tr := NewTracker([]float64{0.5, 0.5}, 1.0)

	assert.False(t, tr.Observe([]float64{0.6, 0.4}, 1.0), "ties keep the first best")
	assert.Equal(t, []float64{0.5, 0.5}, tr.Weights())

	assert.True(t, tr.Observe([]float64{0.7, 0.3}, 0.9))
	assert.Equal(t, []float64{0.7, 0.3}, tr.Weights())
	assert.Equal(t, 0.9, tr.Score())

	assert.False(t, tr.Observe([]float64{0.1, 0.9}, 2.0))
	assert.Equal(t, 0.9, tr.Score())
	assert.Equal(t, 1, tr.Updates())
}

func TestTracker_CopiesInput(t *testing.T) {
	w := []float64{0.5, 0.5}
	tr := NewTracker(w, 1)
	w[0] = 9

	better := []float64{0.4, 0.6}
	tr.Observe(better, 0.5)
	better[1] = 9

	assert.Equal(t, []float64{0.4, 0.6}, tr.Weights())

	out := tr.Weights()
	out[0] = 7
	assert.Equal(t, []float64{0.4, 0.6}, tr.Weights())
}
