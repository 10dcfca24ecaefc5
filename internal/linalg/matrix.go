// Package linalg adapts gonum's dense matrices to the handful of operations
// the state estimators need: covariance construction, Cholesky factorisation
// and solves, stabilizability checks, the discrete algebraic Riccati equation
// and continuous-to-discrete conversion of linear models.
//
// All functions allocate their results; inputs are never mutated.
package linalg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotPositiveDefinite is returned when a Cholesky factorisation fails on
	// a matrix that is not the exact zero matrix.
	ErrNotPositiveDefinite = errors.New("matrix is not positive definite")
	// ErrDimensionMismatch is returned when operand shapes are incompatible.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Identity returns the n×n identity matrix.
func Identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Zeros returns an r×c zero matrix.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// Vec builds a column vector from values.
func Vec(values ...float64) *mat.VecDense {
	data := make([]float64, len(values))
	copy(data, values)
	return mat.NewVecDense(len(data), data)
}

// MakeCovariance returns a diagonal covariance matrix whose entries are the
// squares of the given standard deviations.
func MakeCovariance(stdDevs ...float64) *mat.Dense {
	n := len(stdDevs)
	cov := mat.NewDense(n, n, nil)
	for i, s := range stdDevs {
		cov.Set(i, i, s*s)
	}
	return cov
}

// Symmetrize returns (m + mᵀ) / 2.
func Symmetrize(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	if r != c {
		panic(fmt.Sprintf("linalg: symmetrize of non-square %dx%d matrix", r, c))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// ToSym converts a square matrix to a SymDense by averaging mirrored entries.
func ToSym(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(fmt.Sprintf("linalg: ToSym of non-square %dx%d matrix", r, c))
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// IsZero reports whether every element of m is exactly zero.
func IsZero(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// Block copies the h×w sub-matrix of m starting at (row, col).
func Block(m mat.Matrix, row, col, h, w int) *mat.Dense {
	out := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			out.Set(i, j, m.At(row+i, col+j))
		}
	}
	return out
}

// SetBlock writes src into dst with its top-left corner at (row, col).
func SetBlock(dst *mat.Dense, row, col int, src mat.Matrix) {
	h, w := src.Dims()
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			dst.Set(row+i, col+j, src.At(i, j))
		}
	}
}

// isNilVec reports whether v is nil, including a nil *mat.VecDense held in
// the interface.
func isNilVec(v mat.Vector) bool {
	if v == nil {
		return true
	}
	vd, ok := v.(*mat.VecDense)
	return ok && vd == nil
}

// CopyVec returns a deep copy of v, or nil when v is nil.
func CopyVec(v mat.Vector) *mat.VecDense {
	if isNilVec(v) {
		return nil
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	return out
}

// CopyDense returns a deep copy of m, or nil when m is nil.
func CopyDense(m mat.Matrix) *mat.Dense {
	if m == nil {
		return nil
	}
	if d, ok := m.(*mat.Dense); ok && d == nil {
		return nil
	}
	return mat.DenseCopyOf(m)
}

// CheckSquare returns ErrDimensionMismatch unless m is n×n.
func CheckSquare(name string, m mat.Matrix, n int) error {
	r, c := m.Dims()
	if r != n || c != n {
		return fmt.Errorf("%s is %dx%d, want %dx%d: %w", name, r, c, n, n, ErrDimensionMismatch)
	}
	return nil
}

// CheckLen returns ErrDimensionMismatch unless v has n elements.
func CheckLen(name string, v mat.Vector, n int) error {
	if isNilVec(v) {
		return fmt.Errorf("%s is nil, want length %d: %w", name, n, ErrDimensionMismatch)
	}
	if v.Len() != n {
		return fmt.Errorf("%s has length %d, want %d: %w", name, v.Len(), n, ErrDimensionMismatch)
	}
	return nil
}
