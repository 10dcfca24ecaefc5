package linalg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Cholesky returns the lower-triangular factor L with L·Lᵀ = a.
//
// The exact zero matrix factors to the zero matrix without error. Any other
// matrix that is not positive definite yields ErrNotPositiveDefinite.
func Cholesky(a mat.Matrix) (*mat.TriDense, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("cholesky of %dx%d matrix: %w", r, c, ErrDimensionMismatch)
	}
	if IsZero(a) {
		return mat.NewTriDense(r, mat.Lower, nil), nil
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ToSym(a)); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, nil
}

// SolveSPD solves a·X = b for X where a is symmetric positive definite. The
// solve goes through a Cholesky factorisation; a⁻¹ is never formed.
//
// An ill-conditioned but factorisable a still returns the solution.
func SolveSPD(a, b mat.Matrix) (*mat.Dense, error) {
	ar, ac := a.Dims()
	br, _ := b.Dims()
	if ar != ac || br != ar {
		return nil, fmt.Errorf("solve %dx%d system with %d-row rhs: %w", ar, ac, br, ErrDimensionMismatch)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ToSym(a)); !ok {
		return nil, ErrNotPositiveDefinite
	}

	var x mat.Dense
	if err := chol.SolveTo(&x, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	return &x, nil
}

// GainFromCovariances returns K = pxy·s⁻¹ for symmetric positive definite s
// by solving sᵀ·Kᵀ = pxyᵀ.
func GainFromCovariances(pxy, s mat.Matrix) (*mat.Dense, error) {
	kt, err := SolveSPD(s.T(), pxy.T())
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(kt.T()), nil
}
