// Package testutil holds matrix assertions shared by the estimator tests.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// AssertMatrixNear fails the test unless want and got have the same shape
// and every element differs by at most tol.
func AssertMatrixNear(t testing.TB, want, got mat.Matrix, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	if wr != gr || wc != gc {
		t.Fatalf("matrix shape = %dx%d, want %dx%d", gr, gc, wr, wc)
		return
	}
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			w, g := want.At(i, j), got.At(i, j)
			if math.Abs(w-g) > tol || math.IsNaN(g) {
				t.Errorf("element (%d,%d) = %v, want %v ± %v", i, j, g, w, tol)
			}
		}
	}
}

// AssertVecNear fails the test unless want and got have the same length and
// every element differs by at most tol.
func AssertVecNear(t testing.TB, want, got mat.Vector, tol float64) {
	t.Helper()
	if want.Len() != got.Len() {
		t.Fatalf("vector length = %d, want %d", got.Len(), want.Len())
		return
	}
	for i := 0; i < want.Len(); i++ {
		w, g := want.AtVec(i), got.AtVec(i)
		if math.Abs(w-g) > tol || math.IsNaN(g) {
			t.Errorf("element %d = %v, want %v ± %v", i, g, w, tol)
		}
	}
}

// AssertSymmetric fails the test unless m is square and symmetric to tol.
func AssertSymmetric(t testing.TB, m mat.Matrix, tol float64) {
	t.Helper()
	r, c := m.Dims()
	if r != c {
		t.Fatalf("matrix is %dx%d, want square", r, c)
		return
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				t.Errorf("element (%d,%d) = %v but (%d,%d) = %v", i, j, m.At(i, j), j, i, m.At(j, i))
			}
		}
	}
}
