package estimator

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/system"
	"github.com/banshee-data/pose.estimator/internal/testutil"
)

const testDt = 0.02

func gaussian(seed uint64, sigma float64) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, seed*2654435761+1)}
}

// newPlanarKF returns a filter for a point moving with commanded velocity,
// ẋ = u, observed directly.
func newPlanarKF(t *testing.T) *KalmanFilter {
	t.Helper()
	plant, err := system.NewLinearSystem(
		linalg.Zeros(2, 2),
		linalg.Identity(2),
		linalg.Identity(2),
		linalg.Zeros(2, 2),
	)
	require.NoError(t, err)
	kf, err := NewKalmanFilter(plant, []float64{0.5, 0.5}, []float64{0.1, 0.1}, testDt)
	require.NoError(t, err)
	return kf
}

// unicycle: x = [x, y, θ], u = [v, ω].
func unicycle(x, u *mat.VecDense) *mat.VecDense {
	theta := x.AtVec(2)
	v := u.AtVec(0)
	return linalg.Vec(v*math.Cos(theta), v*math.Sin(theta), u.AtVec(1))
}

func fullState(x, _ *mat.VecDense) *mat.VecDense {
	return linalg.CopyVec(x)
}

func TestKalmanFilterSeedsSteadyStateCovariance(t *testing.T) {
	t.Parallel()

	kf := newPlanarKF(t)
	p := kf.P()
	assert.Greater(t, p.At(0, 0), 0.0)
	assert.Greater(t, p.At(1, 1), 0.0)
	assert.Equal(t, p.At(0, 1), p.At(1, 0))
	assert.True(t, mat.Equal(p, kf.InitialP()))
}

func TestKalmanFilterZeroCovarianceWhenNotDetectable(t *testing.T) {
	t.Parallel()

	// Only the second integrator is measured.
	plant, err := system.NewLinearSystem(
		linalg.Zeros(2, 2),
		linalg.Identity(2),
		mat.NewDense(1, 2, []float64{0, 1}),
		linalg.Zeros(1, 2),
	)
	require.NoError(t, err)
	kf, err := NewKalmanFilter(plant, []float64{0.5, 0.5}, []float64{0.1}, testDt)
	require.NoError(t, err)
	assert.True(t, linalg.IsZero(kf.P()))

	require.NoError(t, kf.Predict(linalg.Vec(1, 1), testDt))
	assert.InDelta(t, 0.25*testDt, kf.P().At(0, 0), 1e-12)
	require.NoError(t, kf.Correct(linalg.Vec(1, 1), linalg.Vec(0.02)))
}

func TestKalmanFilterConstructionErrors(t *testing.T) {
	t.Parallel()

	plant, err := system.NewLinearSystem(linalg.Zeros(2, 2), linalg.Identity(2), linalg.Identity(2), linalg.Zeros(2, 2))
	require.NoError(t, err)

	_, err = NewKalmanFilter(plant, []float64{1}, []float64{1, 1}, testDt)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = NewKalmanFilter(plant, []float64{1, 1}, []float64{1}, testDt)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = NewKalmanFilter(plant, []float64{1, 1}, []float64{1, 1}, 0)
	assert.Error(t, err)
	_, err = NewKalmanFilter(nil, nil, nil, testDt)
	assert.Error(t, err)
}

func TestKalmanFilterCorrectRejectsBadShapes(t *testing.T) {
	t.Parallel()

	kf := newPlanarKF(t)
	u := linalg.Vec(0, 0)
	err := kf.CorrectWith(u, linalg.Vec(1), linalg.Identity(2), linalg.Zeros(1, 2), linalg.MakeCovariance(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	err = kf.CorrectWith(u, linalg.Vec(1, 2), linalg.Identity(2), linalg.Zeros(2, 2), linalg.MakeCovariance(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestKalmanFilterCorrectFailsOnZeroInnovation(t *testing.T) {
	t.Parallel()

	kf := newPlanarKF(t)
	kf.SetP(linalg.Zeros(2, 2))
	before := kf.Xhat()
	err := kf.CorrectWith(linalg.Vec(0, 0), linalg.Vec(1, 1), linalg.Identity(2), linalg.Zeros(2, 2), linalg.Zeros(2, 2))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	assert.True(t, mat.Equal(before, kf.Xhat()), "aborted correction must not touch xHat")
}

func TestFilterAccessorsCopy(t *testing.T) {
	t.Parallel()

	kf := newPlanarKF(t)
	x := linalg.Vec(1, 2)
	kf.SetXhat(x)
	x.SetVec(0, 99)
	assert.Equal(t, 1.0, kf.XhatAt(0))

	got := kf.Xhat()
	got.SetVec(1, 99)
	assert.Equal(t, 2.0, kf.XhatAt(1))

	kf.Reset()
	assert.Equal(t, 0.0, kf.XhatAt(0))
	assert.True(t, mat.Equal(kf.InitialP(), kf.P()))
}

type convergenceCase struct {
	name   string
	filter func(t *testing.T) Filter
}

func nonlinearFilters() []convergenceCase {
	stateStd := []float64{0.5, 0.5, 0.2}
	measStd := []float64{0.1, 0.1, 0.05}
	return []convergenceCase{
		{
			name: "extended",
			filter: func(t *testing.T) Filter {
				f, err := NewExtendedKalmanFilter(3, 2, 3, unicycle, fullState, stateStd, measStd, testDt,
					WithEKFResidualY(AngleResidual(2)), WithEKFAddX(AngleAdd(2)))
				require.NoError(t, err)
				return f
			},
		},
		{
			name: "unscented",
			filter: func(t *testing.T) Filter {
				f, err := NewUnscentedKalmanFilter(3, 2, 3, unicycle, fullState, stateStd, measStd, testDt,
					WithMeanFuncX(AngleMean(2)), WithMeanFuncY(AngleMean(2)),
					WithResidualFuncX(AngleResidual(2)), WithResidualFuncY(AngleResidual(2)),
					WithAddFuncX(AngleAdd(2)))
				require.NoError(t, err)
				return f
			},
		},
	}
}

func TestKalmanFilterConvergence(t *testing.T) {
	t.Parallel()

	kf := newPlanarKF(t)
	noiseX := gaussian(1, 0.1)
	noiseY := gaussian(2, 0.1)

	truth := linalg.Vec(0.5, -0.3)
	for k := 1; k <= 250; k++ {
		tm := float64(k) * testDt
		u := linalg.Vec(math.Cos(tm), math.Sin(tm))
		truth = system.RK4(func(_, u *mat.VecDense) *mat.VecDense { return linalg.CopyVec(u) }, truth, u, testDt)

		require.NoError(t, kf.Predict(u, testDt))
		y := linalg.Vec(truth.AtVec(0)+noiseX.Rand(), truth.AtVec(1)+noiseY.Rand())
		require.NoError(t, kf.Correct(u, y))
	}

	errNorm := math.Hypot(kf.XhatAt(0)-truth.AtVec(0), kf.XhatAt(1)-truth.AtVec(1))
	assert.Less(t, errNorm, 0.1, "final position error")
}

func TestNonlinearFilterConvergence(t *testing.T) {
	t.Parallel()

	for _, tc := range nonlinearFilters() {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := tc.filter(t)
			noise := []distuv.Normal{gaussian(11, 0.1), gaussian(12, 0.1), gaussian(13, 0.05)}

			truth := linalg.Vec(0.4, -0.2, 0.1)
			u := linalg.Vec(1, 0.5)
			for k := 1; k <= 250; k++ {
				truth = system.RK4(unicycle, truth, u, testDt)

				require.NoError(t, f.Predict(u, testDt))
				y := linalg.Vec(
					truth.AtVec(0)+noise[0].Rand(),
					truth.AtVec(1)+noise[1].Rand(),
					AngleModulus(truth.AtVec(2)+noise[2].Rand()),
				)
				require.NoError(t, f.Correct(u, y))
			}

			errNorm := math.Hypot(f.XhatAt(0)-truth.AtVec(0), f.XhatAt(1)-truth.AtVec(1))
			assert.Less(t, errNorm, 0.1, "final position error")
			assert.InDelta(t, 0, AngleModulus(f.XhatAt(2)-truth.AtVec(2)), 0.1, "final heading error")
		})
	}
}

func TestCovarianceMonotonicUnderRepeatedCorrection(t *testing.T) {
	t.Parallel()

	cases := append(nonlinearFilters(), convergenceCase{
		name: "linear",
		filter: func(t *testing.T) Filter {
			plant, err := system.NewLinearSystem(linalg.Zeros(3, 3), linalg.Identity(3), linalg.Identity(3), linalg.Zeros(3, 3))
			require.NoError(t, err)
			kf, err := NewKalmanFilter(plant, []float64{0.5, 0.5, 0.2}, []float64{0.1, 0.1, 0.05}, testDt)
			require.NoError(t, err)
			return kf
		},
	})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := tc.filter(t)
			f.SetXhat(linalg.Vec(0.3, -0.1, 0.2))
			f.SetP(mat.NewDense(3, 3, []float64{
				1, 0.2, 0,
				0.2, 2, 0.1,
				0, 0.1, 0.5,
			}))

			u := linalg.Vec(0, 0, 0)
			if _, ok := f.(*KalmanFilter); !ok {
				u = linalg.Vec(0, 0)
			}
			y := linalg.Vec(0.25, -0.05, 0.15)

			prev := f.P()
			for i := 0; i < 25; i++ {
				require.NoError(t, f.Correct(u, y))
				p := f.P()
				for j := 0; j < 3; j++ {
					assert.LessOrEqual(t, p.At(j, j), prev.At(j, j)+1e-12, "P[%d][%d] grew at step %d", j, j, i)
				}
				testutil.AssertSymmetric(t, p, 1e-12)
				prev = p
			}
		})
	}
}

func TestPredictAddsProcessNoise(t *testing.T) {
	t.Parallel()

	for _, tc := range nonlinearFilters() {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := tc.filter(t)
			f.SetP(linalg.MakeCovariance(0.1, 0.1, 0.1))
			before := f.P()
			require.NoError(t, f.Predict(linalg.Vec(1, 0), testDt))
			after := f.P()
			for j := 0; j < 3; j++ {
				assert.Greater(t, after.At(j, j), before.At(j, j), "P[%d][%d]", j, j)
			}
			// The unscented mean also carries the curvature of cos θ.
			assert.InDelta(t, testDt, f.XhatAt(0), 2e-3)
		})
	}
}

func TestExtendedKalmanFilterErrors(t *testing.T) {
	t.Parallel()

	_, err := NewExtendedKalmanFilter(3, 2, 3, unicycle, fullState, []float64{1, 1}, []float64{1, 1, 1}, testDt)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = NewExtendedKalmanFilter(3, 2, 3, nil, fullState, []float64{1, 1, 1}, []float64{1, 1, 1}, testDt)
	assert.Error(t, err)

	f, err := NewExtendedKalmanFilter(3, 2, 3, unicycle, fullState, []float64{1, 1, 1}, []float64{1, 1, 1}, testDt)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Predict(linalg.Vec(1), testDt), ErrDimensionMismatch)
	assert.ErrorIs(t, f.CorrectWith(linalg.Vec(0, 0), linalg.Vec(1, 2), fullState, linalg.MakeCovariance(1, 1)), ErrDimensionMismatch)
}

func TestUnscentedKalmanFilterCorrectWithPartialMeasurement(t *testing.T) {
	t.Parallel()

	f, err := NewUnscentedKalmanFilter(3, 2, 3, unicycle, fullState, []float64{0.5, 0.5, 0.2}, []float64{0.1, 0.1, 0.05}, testDt)
	require.NoError(t, err)
	f.SetP(linalg.MakeCovariance(1, 1, 1))

	headingOnly := func(x, _ *mat.VecDense) *mat.VecDense { return linalg.Vec(x.AtVec(2)) }
	require.NoError(t, f.CorrectWith(linalg.Vec(0, 0), linalg.Vec(0.5), headingOnly, linalg.MakeCovariance(0.03),
		WithResidualY(AngleResidual(0)), WithMeanY(AngleMean(0))))

	assert.Greater(t, f.XhatAt(2), 0.4)
	assert.InDelta(t, 0, f.XhatAt(0), 1e-9, "unobserved states keep their estimate")
	p := f.P()
	assert.Less(t, p.At(2, 2), 1.0)
	assert.InDelta(t, 1, p.At(0, 0), 1e-6)

	err = f.CorrectWith(linalg.Vec(0, 0), linalg.Vec(0.5, 1), headingOnly, linalg.MakeCovariance(0.01, 0.01))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUnscentedKalmanFilterRejectsMisSizedInput(t *testing.T) {
	t.Parallel()

	_, err := NewUnscentedKalmanFilter(3, 0, 3, unicycle, fullState, []float64{1, 1, 1}, []float64{1, 1, 1}, testDt)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	f, err := NewUnscentedKalmanFilter(3, 2, 3, unicycle, fullState, []float64{1, 1, 1}, []float64{1, 1, 1}, testDt)
	require.NoError(t, err)
	f.SetP(linalg.MakeCovariance(1, 1, 1))
	before := f.Xhat()

	assert.ErrorIs(t, f.Predict(linalg.Vec(1, 2, 3), testDt), ErrDimensionMismatch)
	assert.ErrorIs(t, f.Predict(nil, testDt), ErrDimensionMismatch)
	assert.ErrorIs(t, f.Correct(linalg.Vec(1), linalg.Vec(0, 0, 0)), ErrDimensionMismatch)
	assert.Equal(t, before.RawVector().Data, f.Xhat().RawVector().Data)
}

func TestUnscentedKalmanFilterRegeneratesSigmaPointsAfterSetXhat(t *testing.T) {
	t.Parallel()

	newFilter := func() *UnscentedKalmanFilter {
		f, err := NewUnscentedKalmanFilter(3, 2, 3, unicycle, fullState, []float64{0.5, 0.5, 0.2}, []float64{0.1, 0.1, 0.05}, testDt)
		require.NoError(t, err)
		return f
	}

	// One filter predicts from the origin then jumps; the other starts at the
	// jumped state. Both corrections must agree because the stale propagated
	// set is discarded.
	a := newFilter()
	require.NoError(t, a.Predict(linalg.Vec(1, 0), testDt))
	p := a.P()
	a.SetXhat(linalg.Vec(5, 5, 0.3))

	b := newFilter()
	b.SetXhat(linalg.Vec(5, 5, 0.3))
	b.SetP(p)

	y := linalg.Vec(5.1, 4.9, 0.25)
	require.NoError(t, a.Correct(linalg.Vec(0, 0), y))
	require.NoError(t, b.Correct(linalg.Vec(0, 0), y))

	assert.True(t, mat.EqualApprox(a.Xhat(), b.Xhat(), 1e-9))
	assert.True(t, mat.EqualApprox(a.P(), b.P(), 1e-9))
}
