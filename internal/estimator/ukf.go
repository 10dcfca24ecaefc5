package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/system"
)

// UnscentedKalmanFilter estimates the state of a nonlinear plant by pushing
// Merwe scaled sigma points through the dynamics and measurement models.
type UnscentedKalmanFilter struct {
	states  int
	inputs  int
	outputs int

	f system.Model
	h system.Model

	meanX     MeanFunc
	meanY     MeanFunc
	residualX ResidualFunc
	residualY ResidualFunc
	addX      AddFunc

	pts *MerweScaledSigmaPoints

	contQ *mat.Dense
	contR *mat.Dense

	xHat *mat.VecDense
	p    *mat.Dense

	// sigmasF holds the sigma points propagated by the last Predict. It is
	// only valid while it still describes (xHat, P).
	sigmasF      *mat.Dense
	sigmasFValid bool

	nominalDt float64
	dtForR    float64
}

var _ Filter = (*UnscentedKalmanFilter)(nil)

// UKFOption configures an UnscentedKalmanFilter.
type UKFOption func(*UnscentedKalmanFilter)

// WithMeanFuncX sets how state sigma points are averaged.
func WithMeanFuncX(f MeanFunc) UKFOption {
	return func(u *UnscentedKalmanFilter) { u.meanX = f }
}

// WithMeanFuncY sets how measurement sigma points are averaged.
func WithMeanFuncY(f MeanFunc) UKFOption {
	return func(u *UnscentedKalmanFilter) { u.meanY = f }
}

// WithResidualFuncX sets the state residual.
func WithResidualFuncX(f ResidualFunc) UKFOption {
	return func(u *UnscentedKalmanFilter) { u.residualX = f }
}

// WithResidualFuncY sets the measurement residual.
func WithResidualFuncY(f ResidualFunc) UKFOption {
	return func(u *UnscentedKalmanFilter) { u.residualY = f }
}

// WithAddFuncX sets the state addition.
func WithAddFuncX(f AddFunc) UKFOption {
	return func(u *UnscentedKalmanFilter) { u.addX = f }
}

// WithSigmaPoints replaces the default Merwe parameters.
func WithSigmaPoints(pts *MerweScaledSigmaPoints) UKFOption {
	return func(u *UnscentedKalmanFilter) { u.pts = pts }
}

// NewUnscentedKalmanFilter builds a UKF for ẋ = f(x, u), y = h(x, u). The
// initial estimate and covariance are zero.
func NewUnscentedKalmanFilter(
	states, inputs, outputs int,
	f, h system.Model,
	stateStdDevs, measurementStdDevs []float64,
	nominalDt float64,
	opts ...UKFOption,
) (*UnscentedKalmanFilter, error) {
	if states <= 0 || inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("unscented kalman filter: dimensions (%d, %d, %d) must be positive: %w",
			states, inputs, outputs, ErrDimensionMismatch)
	}
	if f == nil || h == nil {
		return nil, errors.New("unscented kalman filter: nil model")
	}
	if nominalDt <= 0 {
		return nil, fmt.Errorf("unscented kalman filter: nominal dt %v must be positive", nominalDt)
	}
	if len(stateStdDevs) != states {
		return nil, fmt.Errorf("unscented kalman filter: %d state std devs for %d states: %w",
			len(stateStdDevs), states, ErrDimensionMismatch)
	}
	if len(measurementStdDevs) != outputs {
		return nil, fmt.Errorf("unscented kalman filter: %d measurement std devs for %d outputs: %w",
			len(measurementStdDevs), outputs, ErrDimensionMismatch)
	}

	u := &UnscentedKalmanFilter{
		states:    states,
		inputs:    inputs,
		outputs:   outputs,
		f:         f,
		h:         h,
		meanX:     WeightedMean,
		meanY:     WeightedMean,
		residualX: Subtract,
		residualY: Subtract,
		addX:      Add,
		contQ:     linalg.MakeCovariance(stateStdDevs...),
		contR:     linalg.MakeCovariance(measurementStdDevs...),
		nominalDt: nominalDt,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.pts == nil {
		pts, err := DefaultMerweScaledSigmaPoints(states)
		if err != nil {
			return nil, fmt.Errorf("unscented kalman filter: %w", err)
		}
		u.pts = pts
	}
	if u.pts.States() != states {
		return nil, fmt.Errorf("unscented kalman filter: sigma points for %d states, filter has %d: %w",
			u.pts.States(), states, ErrDimensionMismatch)
	}

	u.Reset()
	return u, nil
}

// Xhat returns a copy of the state estimate.
func (u *UnscentedKalmanFilter) Xhat() *mat.VecDense { return linalg.CopyVec(u.xHat) }

// XhatAt returns element i of the state estimate.
func (u *UnscentedKalmanFilter) XhatAt(i int) float64 { return u.xHat.AtVec(i) }

// SetXhat replaces the state estimate with a copy of x.
func (u *UnscentedKalmanFilter) SetXhat(x *mat.VecDense) {
	u.xHat = linalg.CopyVec(x)
	u.sigmasFValid = false
}

// P returns a copy of the error covariance.
func (u *UnscentedKalmanFilter) P() *mat.Dense { return linalg.CopyDense(u.p) }

// SetP replaces the error covariance with a copy of p.
func (u *UnscentedKalmanFilter) SetP(p *mat.Dense) {
	u.p = linalg.CopyDense(p)
	u.sigmasFValid = false
}

// SigmaPoints returns the generator used by the filter.
func (u *UnscentedKalmanFilter) SigmaPoints() *MerweScaledSigmaPoints { return u.pts }

// Reset zeroes the state estimate and covariance.
func (u *UnscentedKalmanFilter) Reset() {
	u.xHat = mat.NewVecDense(u.states, nil)
	u.p = linalg.Zeros(u.states, u.states)
	u.sigmasF = nil
	u.sigmasFValid = false
	u.dtForR = u.nominalDt
}

// Predict propagates every sigma point through RK4 integration of f over dt
// and recombines them with additive process noise.
func (u *UnscentedKalmanFilter) Predict(in *mat.VecDense, dt float64) error {
	if err := linalg.CheckLen("unscented kalman filter: u", in, u.inputs); err != nil {
		return err
	}
	contA := system.NumericalJacobianX(u.states, u.f, u.xHat, in)
	_, discQ, err := linalg.DiscretizeAQTaylor(contA, u.contQ, dt)
	if err != nil {
		return fmt.Errorf("unscented kalman filter: predict: %w", err)
	}

	sigmas, err := u.pts.SigmaPoints(u.xHat, u.p)
	if err != nil {
		opsf("unscented kalman filter: predict aborted: %v", err)
		return fmt.Errorf("unscented kalman filter: predict: %w", err)
	}

	count := u.pts.NumSigmas()
	propagated := mat.NewDense(u.states, count, nil)
	col := mat.NewVecDense(u.states, nil)
	for i := 0; i < count; i++ {
		col.CopyVec(sigmas.ColView(i))
		propagated.SetCol(i, system.RK4(u.f, col, in, dt).RawVector().Data)
	}

	xHat, p, err := UnscentedTransform(propagated, u.pts.wm, u.pts.wc, u.meanX, u.residualX, discQ)
	if err != nil {
		return fmt.Errorf("unscented kalman filter: predict: %w", err)
	}

	u.xHat = xHat
	u.p = p
	u.sigmasF = propagated
	u.sigmasFValid = true
	if dt > 0 {
		u.dtForR = dt
	}
	return nil
}

// Correct fuses y using the filter's own measurement model and noise.
func (u *UnscentedKalmanFilter) Correct(in, y *mat.VecDense) error {
	return u.CorrectWith(in, y, u.h, u.contR)
}

// CorrectWith fuses y modelled as y = h(x, u) with continuous measurement
// noise r. Options override the filter's mean, residual and addition
// functions for this call.
func (u *UnscentedKalmanFilter) CorrectWith(in, y *mat.VecDense, h system.Model, r *mat.Dense, opts ...CorrectOption) error {
	if err := linalg.CheckLen("unscented kalman filter: u", in, u.inputs); err != nil {
		return err
	}
	rows := y.Len()
	if err := linalg.CheckSquare("unscented kalman filter: R", r, rows); err != nil {
		return err
	}
	cfg := applyCorrectOptions(correctConfig{
		meanY:     u.meanY,
		residualY: u.residualY,
		residualX: u.residualX,
		addX:      u.addX,
	}, opts)

	if !u.sigmasFValid {
		sigmas, err := u.pts.SigmaPoints(u.xHat, u.p)
		if err != nil {
			opsf("unscented kalman filter: correction aborted: %v", err)
			return fmt.Errorf("unscented kalman filter: correct: %w", err)
		}
		u.sigmasF = sigmas
		u.sigmasFValid = true
	}

	count := u.pts.NumSigmas()
	sigmasH := mat.NewDense(rows, count, nil)
	col := mat.NewVecDense(u.states, nil)
	for i := 0; i < count; i++ {
		col.CopyVec(u.sigmasF.ColView(i))
		hi := h(col, in)
		if hi.Len() != rows {
			return fmt.Errorf("unscented kalman filter: h returned %d outputs for %d-element y: %w",
				hi.Len(), rows, ErrDimensionMismatch)
		}
		sigmasH.SetCol(i, hi.RawVector().Data)
	}

	discR := linalg.DiscretizeR(r, u.dtForR)
	yHat, py, err := UnscentedTransform(sigmasH, u.pts.wm, u.pts.wc, cfg.meanY, cfg.residualY, discR)
	if err != nil {
		return fmt.Errorf("unscented kalman filter: correct: %w", err)
	}

	// Pxy = Σ Wcᵢ (Xᵢ − x̂)(Hᵢ − ŷ)ᵀ
	pxy := mat.NewDense(u.states, rows, nil)
	hCol := mat.NewVecDense(rows, nil)
	for i := 0; i < count; i++ {
		col.CopyVec(u.sigmasF.ColView(i))
		hCol.CopyVec(sigmasH.ColView(i))
		var outer mat.Dense
		outer.Outer(u.pts.wc.AtVec(i), cfg.residualX(col, u.xHat), cfg.residualY(hCol, yHat))
		pxy.Add(pxy, &outer)
	}

	k, err := linalg.GainFromCovariances(pxy, py)
	if err != nil {
		opsf("unscented kalman filter: correction aborted: %v", err)
		return fmt.Errorf("unscented kalman filter: correct: %w", err)
	}

	var dx mat.VecDense
	dx.MulVec(k, cfg.residualY(y, yHat))
	u.xHat = cfg.addX(u.xHat, &dx)

	// P −= K Py Kᵀ
	var kpy, kpykt mat.Dense
	kpy.Mul(k, py)
	kpykt.Mul(&kpy, k.T())
	p := new(mat.Dense)
	p.Sub(u.p, &kpykt)
	u.p = linalg.Symmetrize(p)

	u.sigmasFValid = false
	return nil
}
