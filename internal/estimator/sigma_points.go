package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
)

// Default Merwe scaling parameters.
const (
	DefaultAlpha = 1e-3
	DefaultBeta  = 2.0
)

// MerweScaledSigmaPoints generates the 2n+1 sigma points and weights of Van
// der Merwe's scaled unscented transform.
type MerweScaledSigmaPoints struct {
	n      int
	alpha  float64
	beta   float64
	kappa  float64
	lambda float64

	wm *mat.VecDense
	wc *mat.VecDense
}

// NewMerweScaledSigmaPoints precomputes the weights for an n-dimensional
// state:
//
//	λ = α²(n+κ) − n
//	Wm₀ = λ/(n+λ), Wc₀ = Wm₀ + 1 − α² + β, Wmᵢ = Wcᵢ = 1/(2(n+λ))
func NewMerweScaledSigmaPoints(n int, alpha, beta, kappa float64) (*MerweScaledSigmaPoints, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sigma points: state dimension %d: %w", n, ErrDimensionMismatch)
	}
	lambda := alpha*alpha*(float64(n)+kappa) - float64(n)
	if float64(n)+lambda <= 0 {
		return nil, fmt.Errorf("sigma points: n+λ = %v must be positive", float64(n)+lambda)
	}

	s := &MerweScaledSigmaPoints{
		n:      n,
		alpha:  alpha,
		beta:   beta,
		kappa:  kappa,
		lambda: lambda,
	}

	count := 2*n + 1
	c := 0.5 / (float64(n) + lambda)
	wm := make([]float64, count)
	wc := make([]float64, count)
	for i := range wm {
		wm[i] = c
		wc[i] = c
	}
	wm[0] = lambda / (float64(n) + lambda)
	wc[0] = wm[0] + (1 - alpha*alpha + beta)

	s.wm = mat.NewVecDense(count, wm)
	s.wc = mat.NewVecDense(count, wc)
	return s, nil
}

// DefaultMerweScaledSigmaPoints uses α = 1e-3, β = 2 and κ = 3 − n.
func DefaultMerweScaledSigmaPoints(n int) (*MerweScaledSigmaPoints, error) {
	return NewMerweScaledSigmaPoints(n, DefaultAlpha, DefaultBeta, 3-float64(n))
}

// States returns the state dimension n.
func (s *MerweScaledSigmaPoints) States() int { return s.n }

// NumSigmas returns 2n+1.
func (s *MerweScaledSigmaPoints) NumSigmas() int { return 2*s.n + 1 }

// Lambda returns the scaling parameter λ.
func (s *MerweScaledSigmaPoints) Lambda() float64 { return s.lambda }

// Wm returns a copy of the mean weights.
func (s *MerweScaledSigmaPoints) Wm() *mat.VecDense { return linalg.CopyVec(s.wm) }

// Wc returns a copy of the covariance weights.
func (s *MerweScaledSigmaPoints) Wc() *mat.VecDense { return linalg.CopyVec(s.wc) }

// SigmaPoints returns an n×(2n+1) matrix whose columns are x, x + Lₖ and
// x − Lₖ, where Lₖ is column k of the lower Cholesky factor of (n+λ)P.
//
// A zero P yields 2n+1 copies of x.
func (s *MerweScaledSigmaPoints) SigmaPoints(x *mat.VecDense, p mat.Matrix) (*mat.Dense, error) {
	if err := linalg.CheckLen("sigma points: x", x, s.n); err != nil {
		return nil, err
	}
	if err := linalg.CheckSquare("sigma points: P", p, s.n); err != nil {
		return nil, err
	}

	var scaled mat.Dense
	scaled.Scale(float64(s.n)+s.lambda, p)
	l, err := linalg.Cholesky(&scaled)
	if err != nil {
		return nil, fmt.Errorf("sigma points: %w", err)
	}

	sigmas := mat.NewDense(s.n, s.NumSigmas(), nil)
	for i := 0; i < s.n; i++ {
		xi := x.AtVec(i)
		sigmas.Set(i, 0, xi)
		for k := 0; k < s.n; k++ {
			lik := l.At(i, k)
			sigmas.Set(i, k+1, xi+lik)
			sigmas.Set(i, s.n+k+1, xi-lik)
		}
	}
	return sigmas, nil
}

// UnscentedTransform recombines propagated sigma points into a mean and
// covariance:
//
//	mean = meanFunc(sigmas, wm)
//	cov  = Σ wcᵢ·r(Xᵢ, mean)·r(Xᵢ, mean)ᵀ + noise
//
// noise may be nil.
func UnscentedTransform(
	sigmas *mat.Dense,
	wm, wc *mat.VecDense,
	meanFunc MeanFunc,
	residualFunc ResidualFunc,
	noise mat.Matrix,
) (*mat.VecDense, *mat.Dense, error) {
	dim, count := sigmas.Dims()
	if wm.Len() != count || wc.Len() != count {
		return nil, nil, fmt.Errorf("unscented transform: %d sigma points with %d/%d weights: %w",
			count, wm.Len(), wc.Len(), ErrDimensionMismatch)
	}
	if noise != nil {
		if err := linalg.CheckSquare("unscented transform: noise", noise, dim); err != nil {
			return nil, nil, err
		}
	}
	if meanFunc == nil {
		meanFunc = WeightedMean
	}
	if residualFunc == nil {
		residualFunc = Subtract
	}

	mean := meanFunc(sigmas, wm)
	cov := mat.NewDense(dim, dim, nil)
	col := mat.NewVecDense(dim, nil)
	for i := 0; i < count; i++ {
		col.CopyVec(sigmas.ColView(i))
		r := residualFunc(col, mean)
		var outer mat.Dense
		outer.Outer(wc.AtVec(i), r, r)
		cov.Add(cov, &outer)
	}
	if noise != nil {
		cov.Add(cov, noise)
	}
	return mean, linalg.Symmetrize(cov), nil
}
