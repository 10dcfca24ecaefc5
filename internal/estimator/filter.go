// Package estimator implements Kalman-type state estimators (linear, extended
// and unscented) behind one Filter contract, and a latency compensator that
// replays buffered history when a delayed measurement arrives.
//
// Nothing in this package is safe for concurrent use. A filter and its
// compensator belong to one caller, which serializes access.
package estimator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
)

// Sentinel errors shared with the linear-algebra layer so callers can use
// errors.Is without importing it.
var (
	ErrNotPositiveDefinite = linalg.ErrNotPositiveDefinite
	ErrDimensionMismatch   = linalg.ErrDimensionMismatch
)

// Filter is the contract shared by every estimator variant.
//
// After Predict, the estimate reflects integration of the dynamics over dt
// and P includes the added process noise. After Correct, P does not grow in
// the observed directions.
type Filter interface {
	Predict(u *mat.VecDense, dt float64) error
	Correct(u, y *mat.VecDense) error

	// Xhat returns a copy of the state estimate.
	Xhat() *mat.VecDense
	XhatAt(i int) float64
	SetXhat(x *mat.VecDense)

	// P returns a copy of the error covariance.
	P() *mat.Dense
	SetP(p *mat.Dense)

	Reset()
}

// CorrectFunc fuses measurement y taken while input u was applied. It is how
// the latency compensator applies a measurement from a source other than the
// filter's own measurement model.
type CorrectFunc func(u, y *mat.VecDense) error

// CorrectOption customizes a single nonlinear correction.
type CorrectOption func(*correctConfig)

type correctConfig struct {
	meanY     MeanFunc
	residualY ResidualFunc
	residualX ResidualFunc
	addX      AddFunc
}

// WithMeanY sets how sigma points in measurement space are averaged.
func WithMeanY(f MeanFunc) CorrectOption {
	return func(c *correctConfig) { c.meanY = f }
}

// WithResidualY sets how measurement residuals are computed.
func WithResidualY(f ResidualFunc) CorrectOption {
	return func(c *correctConfig) { c.residualY = f }
}

// WithResidualX sets how state residuals are computed.
func WithResidualX(f ResidualFunc) CorrectOption {
	return func(c *correctConfig) { c.residualX = f }
}

// WithAddX sets how a correction is added to the state.
func WithAddX(f AddFunc) CorrectOption {
	return func(c *correctConfig) { c.addX = f }
}

func applyCorrectOptions(c correctConfig, opts []CorrectOption) correctConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// seedCovariance returns the steady-state covariance of the discrete pair
// (discA, c) or, when the pair is not detectable or the system has more
// outputs than states, the zero matrix.
func seedCovariance(name string, discA, c, discQ, discR *mat.Dense) *mat.Dense {
	states, _ := discA.Dims()
	outputs, _ := c.Dims()

	if outputs > states {
		diagf("%s: %d outputs exceed %d states, initial P is zero", name, outputs, states)
		return linalg.Zeros(states, states)
	}
	if !linalg.IsDetectable(discA, c) {
		diagf("%s: (A, C) is not detectable, initial P is zero", name)
		return linalg.Zeros(states, states)
	}

	p, err := linalg.DARE(discA.T(), c.T(), discQ, discR)
	if err != nil {
		diagf("%s: steady-state covariance: %v, initial P is zero", name, err)
		return linalg.Zeros(states, states)
	}
	return p
}

// updateCovariance returns (I − KC)P, symmetrized.
func updateCovariance(p, k, c *mat.Dense) *mat.Dense {
	n, _ := p.Dims()
	var kc mat.Dense
	kc.Mul(k, c)
	ikc := linalg.Identity(n)
	ikc.Sub(ikc, &kc)
	var out mat.Dense
	out.Mul(ikc, p)
	return linalg.Symmetrize(&out)
}

// propagateCovariance returns A P Aᵀ + Q, symmetrized.
func propagateCovariance(p, discA, discQ *mat.Dense) *mat.Dense {
	var ap, apat mat.Dense
	ap.Mul(discA, p)
	apat.Mul(&ap, discA.T())
	apat.Add(&apat, discQ)
	return linalg.Symmetrize(&apat)
}

// innovationCovariance returns C P Cᵀ + R.
func innovationCovariance(p, c, r *mat.Dense) *mat.Dense {
	var cp, s mat.Dense
	cp.Mul(c, p)
	s.Mul(&cp, c.T())
	s.Add(&s, r)
	return &s
}

// gain returns K = P Cᵀ S⁻¹ through a Cholesky solve.
func gain(p, c, s *mat.Dense) (*mat.Dense, error) {
	var pct mat.Dense
	pct.Mul(p, c.T())
	return linalg.GainFromCovariances(&pct, s)
}
