package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
)

func TestAngleModulus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{5 * math.Pi, math.Pi},
		{0.25, 0.25},
		{2*math.Pi + 0.25, 0.25},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, AngleModulus(tc.in), 1e-12, "AngleModulus(%v)", tc.in)
	}
}

func TestAngleResidualWrapsOnlyAngleIndex(t *testing.T) {
	t.Parallel()

	residual := AngleResidual(1)
	got := residual(linalg.Vec(10, math.Pi-0.1), linalg.Vec(4, -math.Pi+0.1))
	assert.InDelta(t, 6, got.AtVec(0), 1e-12)
	assert.InDelta(t, -0.2, got.AtVec(1), 1e-12)
}

func TestAngleAdd(t *testing.T) {
	t.Parallel()

	add := AngleAdd(0)
	got := add(linalg.Vec(math.Pi-0.1, 7), linalg.Vec(0.3, 1))
	assert.InDelta(t, -math.Pi+0.2, got.AtVec(0), 1e-12)
	assert.InDelta(t, 8, got.AtVec(1), 1e-12)
}

func TestAngleMeanAcrossWrap(t *testing.T) {
	t.Parallel()

	// Columns straddle ±π; a linear mean would land near zero.
	sigmas := mat.NewDense(2, 2, []float64{
		1, 3,
		math.Pi - 0.1, -math.Pi + 0.1,
	})
	wm := linalg.Vec(0.5, 0.5)

	got := AngleMean(1)(sigmas, wm)
	assert.InDelta(t, 2, got.AtVec(0), 1e-12)
	assert.InDelta(t, math.Pi, math.Abs(got.AtVec(1)), 1e-12)

	linear := WeightedMean(sigmas, wm)
	assert.InDelta(t, 0, linear.AtVec(1), 1e-12)
}
