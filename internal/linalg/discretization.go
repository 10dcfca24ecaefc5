package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// taylorTerms is the number of series terms used by DiscretizeAQTaylor.
const taylorTerms = 6

// DiscretizeA returns e^(A·dt).
func DiscretizeA(a mat.Matrix, dt float64) *mat.Dense {
	var scaled, out mat.Dense
	scaled.Scale(dt, a)
	out.Exp(&scaled)
	return &out
}

// DiscretizeAB converts a continuous (A, B) pair to discrete time with a
// zero-order hold on the input, using
//
//	exp([[A, B], [0, 0]]·dt) = [[A_d, B_d], [0, I]].
func DiscretizeAB(a, b mat.Matrix, dt float64) (discA, discB *mat.Dense, err error) {
	n, c := a.Dims()
	if n != c {
		return nil, nil, fmt.Errorf("discretize: A is %dx%d: %w", n, c, ErrDimensionMismatch)
	}
	br, m := b.Dims()
	if br != n {
		return nil, nil, fmt.Errorf("discretize: B has %d rows, want %d: %w", br, n, ErrDimensionMismatch)
	}

	cont := mat.NewDense(n+m, n+m, nil)
	SetBlock(cont, 0, 0, a)
	SetBlock(cont, 0, n, b)
	cont.Scale(dt, cont)

	var phi mat.Dense
	phi.Exp(cont)
	return Block(&phi, 0, 0, n, n), Block(&phi, 0, n, n, m), nil
}

// DiscretizeAQ discretizes A and the continuous process noise Q with Van
// Loan's method:
//
//	M = [[−A, Q], [0, Aᵀ]]·dt,  e^M = [[…, Φ₁₂], [0, Φ₂₂]]
//	A_d = Φ₂₂ᵀ,  Q_d = A_d·Φ₁₂
func DiscretizeAQ(a, q mat.Matrix, dt float64) (discA, discQ *mat.Dense, err error) {
	n, c := a.Dims()
	if n != c {
		return nil, nil, fmt.Errorf("discretize: A is %dx%d: %w", n, c, ErrDimensionMismatch)
	}
	if err := CheckSquare("discretize: Q", q, n); err != nil {
		return nil, nil, err
	}

	qSym := Symmetrize(q)

	m := mat.NewDense(2*n, 2*n, nil)
	var negA mat.Dense
	negA.Scale(-1, a)
	SetBlock(m, 0, 0, &negA)
	SetBlock(m, 0, n, qSym)
	SetBlock(m, n, n, a.T())
	m.Scale(dt, m)

	var phi mat.Dense
	phi.Exp(m)

	phi12 := Block(&phi, 0, n, n, n)
	phi22 := Block(&phi, n, n, n, n)

	discA = mat.DenseCopyOf(phi22.T())
	discQ = new(mat.Dense)
	discQ.Mul(discA, phi12)
	return discA, Symmetrize(discQ), nil
}

// DiscretizeAQTaylor discretizes A and Q using a truncated Taylor series for
// the Van Loan Φ₁₂ block. It avoids the 2n×2n exponential and is accurate for
// the small dt of a control loop.
func DiscretizeAQTaylor(a, q mat.Matrix, dt float64) (discA, discQ *mat.Dense, err error) {
	n, c := a.Dims()
	if n != c {
		return nil, nil, fmt.Errorf("discretize: A is %dx%d: %w", n, c, ErrDimensionMismatch)
	}
	if err := CheckSquare("discretize: Q", q, n); err != nil {
		return nil, nil, err
	}

	qSym := Symmetrize(q)

	lastTerm := mat.DenseCopyOf(qSym)
	lastCoeff := dt
	// Aᵀⁿ
	atn := mat.DenseCopyOf(a.T())

	phi12 := new(mat.Dense)
	phi12.Scale(lastCoeff, lastTerm)

	for i := 2; i < taylorTerms; i++ {
		// lastTerm = −A·lastTerm + Q·Aᵀⁿ
		var aTerm, qTerm mat.Dense
		aTerm.Mul(a, lastTerm)
		aTerm.Scale(-1, &aTerm)
		qTerm.Mul(qSym, atn)
		lastTerm = new(mat.Dense)
		lastTerm.Add(&aTerm, &qTerm)

		lastCoeff *= dt / float64(i)

		var term mat.Dense
		term.Scale(lastCoeff, lastTerm)
		phi12.Add(phi12, &term)

		var next mat.Dense
		next.Mul(atn, a.T())
		atn = &next
	}

	discA = DiscretizeA(a, dt)
	discQ = new(mat.Dense)
	discQ.Mul(discA, phi12)
	return discA, Symmetrize(discQ), nil
}

// DiscretizeR returns the discrete measurement noise R / dt.
func DiscretizeR(r mat.Matrix, dt float64) *mat.Dense {
	var out mat.Dense
	out.Scale(1/dt, r)
	return &out
}
