package linalg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func assertMatrixNear(t *testing.T, want, got mat.Matrix, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, wr, gr, "row count")
	require.Equal(t, wc, gc, "column count")
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			assert.InDelta(t, want.At(i, j), got.At(i, j), tol, "element (%d,%d)", i, j)
		}
	}
}

func TestMakeCovariance(t *testing.T) {
	t.Parallel()
	cov := MakeCovariance(0.5, 2, 3)
	assertMatrixNear(t, mat.NewDense(3, 3, []float64{
		0.25, 0, 0,
		0, 4, 0,
		0, 0, 9,
	}), cov, 0)
}

func TestCholesky(t *testing.T) {
	t.Parallel()

	t.Run("zero matrix factors to zero", func(t *testing.T) {
		t.Parallel()
		l, err := Cholesky(Zeros(3, 3))
		require.NoError(t, err)
		assert.True(t, IsZero(l))
	})

	t.Run("reconstructs positive definite input", func(t *testing.T) {
		t.Parallel()
		a := mat.NewDense(2, 2, []float64{4, 2, 2, 3})
		l, err := Cholesky(a)
		require.NoError(t, err)
		var llt mat.Dense
		llt.Mul(l, l.T())
		assertMatrixNear(t, a, &llt, 1e-12)
	})

	t.Run("rejects indefinite input", func(t *testing.T) {
		t.Parallel()
		_, err := Cholesky(mat.NewDense(2, 2, []float64{1, 0, 0, -1}))
		assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	})

	t.Run("rejects non-square input", func(t *testing.T) {
		t.Parallel()
		_, err := Cholesky(Zeros(2, 3))
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestSolveSPDMatchesInverse(t *testing.T) {
	t.Parallel()
	s := mat.NewDense(3, 3, []float64{
		4, 1, 0.5,
		1, 3, 0.2,
		0.5, 0.2, 2,
	})
	pxy := mat.NewDense(4, 3, []float64{
		1, 0, 0.3,
		0.2, 1, 0,
		0, 0.4, 1,
		0.7, 0.1, 0.2,
	})

	k, err := GainFromCovariances(pxy, s)
	require.NoError(t, err)

	var sInv mat.Dense
	require.NoError(t, sInv.Inverse(s))
	var want mat.Dense
	want.Mul(pxy, &sInv)

	assertMatrixNear(t, &want, k, 1e-12)
}

func TestSolveSPDErrors(t *testing.T) {
	t.Parallel()
	_, err := SolveSPD(Zeros(2, 2), Zeros(2, 1))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)

	_, err = SolveSPD(Identity(2), Zeros(3, 1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIsStabilizable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    *mat.Dense
		b    *mat.Dense
		want bool
	}{
		{
			name: "stable uncontrolled system",
			a:    mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.5}),
			b:    mat.NewDense(2, 1, []float64{0, 0}),
			want: true,
		},
		{
			name: "unstable mode without actuation",
			a:    mat.NewDense(2, 2, []float64{1.2, 0, 0, 0.5}),
			b:    mat.NewDense(2, 1, []float64{0, 1}),
			want: false,
		},
		{
			name: "unstable mode with actuation",
			a:    mat.NewDense(2, 2, []float64{1.2, 0, 0, 0.5}),
			b:    mat.NewDense(2, 1, []float64{1, 0}),
			want: true,
		},
		{
			name: "rotation with complex eigenvalues",
			a:    mat.NewDense(2, 2, []float64{0, -1, 1, 0}),
			b:    mat.NewDense(2, 1, []float64{1, 0}),
			want: true,
		},
		{
			name: "integrators measured directly",
			a:    Identity(3),
			b:    Identity(3),
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsStabilizable(tc.a, tc.b))
		})
	}
}

func TestIsDetectable(t *testing.T) {
	t.Parallel()
	a := Identity(3)
	full := Identity(3)
	headingOnly := mat.NewDense(1, 3, []float64{0, 0, 1})
	assert.True(t, IsDetectable(a, full))
	assert.False(t, IsDetectable(a, headingOnly))
}

func TestDARESatisfiesRiccatiEquation(t *testing.T) {
	t.Parallel()
	a := mat.NewDense(2, 2, []float64{1, 0.02, 0, 0.98})
	b := mat.NewDense(2, 1, []float64{0, 0.05})
	q := MakeCovariance(1, 0.5)
	r := MakeCovariance(0.3)

	x, err := DARE(a, b, q, r)
	require.NoError(t, err)

	// AᵀXA − AᵀXB(BᵀXB + R)⁻¹BᵀXA + Q
	var atx, atxa, atxb, btxb, btxa mat.Dense
	atx.Mul(a.T(), x)
	atxa.Mul(&atx, a)
	atxb.Mul(&atx, b)
	btxb.Mul(b.T(), x)
	var btxbR mat.Dense
	btxbR.Mul(&btxb, b)
	btxbR.Add(&btxbR, r)
	btxa.Mul(&btxb, a)
	solved, err := SolveSPD(&btxbR, &btxa)
	require.NoError(t, err)
	var correction, rhs mat.Dense
	correction.Mul(&atxb, solved)
	rhs.Sub(&atxa, &correction)
	rhs.Add(&rhs, q)

	assertMatrixNear(t, x, &rhs, 1e-8)
}

func TestDAREDimensionErrors(t *testing.T) {
	t.Parallel()
	_, err := DARE(Identity(2), Zeros(3, 1), Identity(2), Identity(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDiscretizeAB(t *testing.T) {
	t.Parallel()
	dt := 0.1
	a := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	b := mat.NewDense(2, 1, []float64{0, 1})

	discA, discB, err := DiscretizeAB(a, b, dt)
	require.NoError(t, err)
	assertMatrixNear(t, mat.NewDense(2, 2, []float64{1, dt, 0, 1}), discA, 1e-12)
	assertMatrixNear(t, mat.NewDense(2, 1, []float64{0.5 * dt * dt, dt}), discB, 1e-12)
}

func TestDiscretizeAQ(t *testing.T) {
	t.Parallel()
	dt := 0.02
	a := mat.NewDense(2, 2, []float64{0, 1, 0, -0.5})
	q := MakeCovariance(0.1, 0.3)

	vanA, vanQ, err := DiscretizeAQ(a, q, dt)
	require.NoError(t, err)
	taylorA, taylorQ, err := DiscretizeAQTaylor(a, q, dt)
	require.NoError(t, err)

	assertMatrixNear(t, vanA, taylorA, 1e-12)
	assertMatrixNear(t, vanQ, taylorQ, 1e-10)

	// Integrator chain: Q_d ≈ Q·dt for small dt.
	_, integratorQ, err := DiscretizeAQ(Zeros(2, 2), q, dt)
	require.NoError(t, err)
	var want mat.Dense
	want.Scale(dt, q)
	assertMatrixNear(t, &want, integratorQ, 1e-12)

	assert.Equal(t, vanQ.At(0, 1), vanQ.At(1, 0), "discrete Q is symmetric")
	assert.False(t, math.IsNaN(vanQ.At(1, 1)))
}

func TestDiscretizeR(t *testing.T) {
	t.Parallel()
	r := MakeCovariance(0.2, 0.4)
	discR := DiscretizeR(r, 0.02)
	assert.InDelta(t, 0.04/0.02, discR.At(0, 0), 1e-12)
	assert.InDelta(t, 0.16/0.02, discR.At(1, 1), 1e-12)
}

func TestBlockHelpers(t *testing.T) {
	t.Parallel()
	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	assertMatrixNear(t, mat.NewDense(2, 2, []float64{5, 6, 8, 9}), Block(m, 1, 1, 2, 2), 0)

	dst := Zeros(3, 3)
	SetBlock(dst, 1, 0, mat.NewDense(1, 2, []float64{7, 7}))
	assert.Equal(t, 7.0, dst.At(1, 1))

	assert.ErrorIs(t, CheckLen("x", Vec(1, 2), 3), ErrDimensionMismatch)
	assert.ErrorIs(t, CheckLen("x", nil, 3), ErrDimensionMismatch)
	assert.NoError(t, CheckSquare("P", Identity(2), 2))
}

func TestCopyHelpersAcceptTypedNil(t *testing.T) {
	t.Parallel()

	var v *mat.VecDense
	var d *mat.Dense
	assert.Nil(t, CopyVec(v))
	assert.Nil(t, CopyDense(d))
	assert.ErrorIs(t, CheckLen("x", v, 2), ErrDimensionMismatch)

	src := Vec(1, 2)
	cp := CopyVec(src)
	src.SetVec(0, 9)
	assert.Equal(t, 1.0, cp.AtVec(0))
}
