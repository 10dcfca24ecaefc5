package linalg

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// ErrDAREDiverged is returned when the Riccati iteration does not converge.
var ErrDAREDiverged = errors.New("riccati iteration did not converge")

const (
	dareMaxIterations = 200
	dareTolerance     = 1e-10
	rankTolerance     = 1e-10
)

// IsStabilizable reports whether every unstable or marginally stable mode of
// the discrete system (a, b) is controllable, using the
// Popov–Belevitch–Hautus test: rank([λI − a, b]) = n for every eigenvalue λ of
// a with |λ| ≥ 1.
func IsStabilizable(a, b mat.Matrix) bool {
	n, c := a.Dims()
	br, _ := b.Dims()
	if n != c || br != n {
		return false
	}

	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		return false
	}

	for _, lambda := range eig.Values(nil) {
		if cmplx.Abs(lambda) < 1 {
			continue
		}
		if pbhRank(a, b, lambda) < 2*n {
			return false
		}
	}
	return true
}

// IsDetectable reports whether (a, c) is detectable, i.e. (aᵀ, cᵀ) is
// stabilizable.
func IsDetectable(a, c mat.Matrix) bool {
	return IsStabilizable(a.T(), c.T())
}

// pbhRank returns the rank of the real 2n×2(n+m) embedding of the complex
// matrix [λI − a, b]. The embedding's rank is twice the complex rank.
func pbhRank(a, b mat.Matrix, lambda complex128) int {
	n, _ := a.Dims()
	_, m := b.Dims()
	cols := n + m

	// Z = X + iY, realified as [[X, -Y], [Y, X]].
	x := mat.NewDense(n, cols, nil)
	y := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -a.At(i, j)
			if i == j {
				v += real(lambda)
				y.Set(i, j, imag(lambda))
			}
			x.Set(i, j, v)
		}
		for j := 0; j < m; j++ {
			x.Set(i, n+j, b.At(i, j))
		}
	}

	big := mat.NewDense(2*n, 2*cols, nil)
	var negY mat.Dense
	negY.Scale(-1, y)
	SetBlock(big, 0, 0, x)
	SetBlock(big, 0, cols, &negY)
	SetBlock(big, n, 0, y)
	SetBlock(big, n, cols, x)

	var svd mat.SVD
	if ok := svd.Factorize(big, mat.SVDNone); !ok {
		return 0
	}
	return svd.Rank(rankTolerance)
}

// DARE solves the discrete algebraic Riccati equation
//
//	X = AᵀXA − AᵀXB(BᵀXB + R)⁻¹BᵀXA + Q
//
// with the structure-preserving doubling algorithm. Callers are expected to
// have checked stabilizability of (a, b) beforehand.
func DARE(a, b, q, r mat.Matrix) (*mat.Dense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("dare: A is %dx%d: %w", n, c, ErrDimensionMismatch)
	}
	br, m := b.Dims()
	if br != n {
		return nil, fmt.Errorf("dare: B has %d rows, want %d: %w", br, n, ErrDimensionMismatch)
	}
	if err := CheckSquare("dare: Q", q, n); err != nil {
		return nil, err
	}
	if err := CheckSquare("dare: R", r, m); err != nil {
		return nil, err
	}

	// G₀ = B R⁻¹ Bᵀ
	rInvBt, err := SolveSPD(r, b.T())
	if err != nil {
		return nil, fmt.Errorf("dare: factor R: %w", err)
	}
	g := new(mat.Dense)
	g.Mul(b, rInvBt)

	ak := mat.DenseCopyOf(a)
	h := mat.DenseCopyOf(q)
	eye := Identity(n)

	for iter := 0; iter < dareMaxIterations; iter++ {
		// W = I + G H
		w := new(mat.Dense)
		w.Mul(g, h)
		w.Add(w, eye)

		var lu mat.LU
		lu.Factorize(w)

		// W V₁ = A, W V₂ᵀ = G
		v1 := new(mat.Dense)
		if err := lu.SolveTo(v1, false, ak); err != nil && !isCondition(err) {
			return nil, fmt.Errorf("dare: %w", err)
		}
		v2t := new(mat.Dense)
		if err := lu.SolveTo(v2t, false, g); err != nil && !isCondition(err) {
			return nil, fmt.Errorf("dare: %w", err)
		}

		// G ← G + A V₂ Aᵀ
		av2 := new(mat.Dense)
		av2.Mul(ak, v2t.T())
		gNext := new(mat.Dense)
		gNext.Mul(av2, ak.T())
		gNext.Add(gNext, g)

		// H ← H + V₁ᵀ H A
		v1h := new(mat.Dense)
		v1h.Mul(v1.T(), h)
		hNext := new(mat.Dense)
		hNext.Mul(v1h, ak)
		hNext.Add(hNext, h)

		// A ← A V₁
		aNext := new(mat.Dense)
		aNext.Mul(ak, v1)

		diff := new(mat.Dense)
		diff.Sub(hNext, h)
		converged := mat.Norm(diff, 2) <= dareTolerance*mat.Norm(hNext, 2)

		g, h, ak = Symmetrize(gNext), Symmetrize(hNext), aNext
		if converged {
			return h, nil
		}
	}
	return nil, ErrDAREDiverged
}

func isCondition(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
