package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/system"
)

// ExtendedKalmanFilter estimates the state of a nonlinear plant by
// relinearizing the dynamics and measurement model around the current
// estimate at every step.
type ExtendedKalmanFilter struct {
	states  int
	inputs  int
	outputs int

	f system.Model
	h system.Model

	residualY ResidualFunc
	addX      AddFunc

	contQ *mat.Dense
	contR *mat.Dense
	initP *mat.Dense

	xHat *mat.VecDense
	p    *mat.Dense

	nominalDt float64
	dtForR    float64
}

var _ Filter = (*ExtendedKalmanFilter)(nil)

// EKFOption configures an ExtendedKalmanFilter.
type EKFOption func(*ExtendedKalmanFilter)

// WithEKFResidualY sets the default measurement residual.
func WithEKFResidualY(f ResidualFunc) EKFOption {
	return func(e *ExtendedKalmanFilter) { e.residualY = f }
}

// WithEKFAddX sets the default state addition.
func WithEKFAddX(f AddFunc) EKFOption {
	return func(e *ExtendedKalmanFilter) { e.addX = f }
}

// NewExtendedKalmanFilter builds an EKF for ẋ = f(x, u), y = h(x, u).
//
// The initial covariance comes from the Riccati equation for the model
// linearized at x = 0, u = 0, with the same zero fallback as NewKalmanFilter.
func NewExtendedKalmanFilter(
	states, inputs, outputs int,
	f, h system.Model,
	stateStdDevs, measurementStdDevs []float64,
	nominalDt float64,
	opts ...EKFOption,
) (*ExtendedKalmanFilter, error) {
	if states <= 0 || inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("extended kalman filter: dimensions (%d, %d, %d) must be positive: %w",
			states, inputs, outputs, ErrDimensionMismatch)
	}
	if f == nil || h == nil {
		return nil, errors.New("extended kalman filter: nil model")
	}
	if nominalDt <= 0 {
		return nil, fmt.Errorf("extended kalman filter: nominal dt %v must be positive", nominalDt)
	}
	if len(stateStdDevs) != states {
		return nil, fmt.Errorf("extended kalman filter: %d state std devs for %d states: %w",
			len(stateStdDevs), states, ErrDimensionMismatch)
	}
	if len(measurementStdDevs) != outputs {
		return nil, fmt.Errorf("extended kalman filter: %d measurement std devs for %d outputs: %w",
			len(measurementStdDevs), outputs, ErrDimensionMismatch)
	}

	e := &ExtendedKalmanFilter{
		states:    states,
		inputs:    inputs,
		outputs:   outputs,
		f:         f,
		h:         h,
		residualY: Subtract,
		addX:      Add,
		contQ:     linalg.MakeCovariance(stateStdDevs...),
		contR:     linalg.MakeCovariance(measurementStdDevs...),
		nominalDt: nominalDt,
		dtForR:    nominalDt,
	}
	for _, opt := range opts {
		opt(e)
	}

	x0 := mat.NewVecDense(states, nil)
	u0 := mat.NewVecDense(inputs, nil)
	contA := system.NumericalJacobianX(states, f, x0, u0)
	c := system.NumericalJacobianX(outputs, h, x0, u0)

	discA, discQ, err := linalg.DiscretizeAQTaylor(contA, e.contQ, nominalDt)
	if err != nil {
		return nil, fmt.Errorf("extended kalman filter: %w", err)
	}
	discR := linalg.DiscretizeR(e.contR, nominalDt)
	e.initP = seedCovariance("extended kalman filter", discA, c, discQ, discR)

	e.Reset()
	return e, nil
}

// Xhat returns a copy of the state estimate.
func (e *ExtendedKalmanFilter) Xhat() *mat.VecDense { return linalg.CopyVec(e.xHat) }

// XhatAt returns element i of the state estimate.
func (e *ExtendedKalmanFilter) XhatAt(i int) float64 { return e.xHat.AtVec(i) }

// SetXhat replaces the state estimate with a copy of x.
func (e *ExtendedKalmanFilter) SetXhat(x *mat.VecDense) { e.xHat = linalg.CopyVec(x) }

// P returns a copy of the error covariance.
func (e *ExtendedKalmanFilter) P() *mat.Dense { return linalg.CopyDense(e.p) }

// SetP replaces the error covariance with a copy of p.
func (e *ExtendedKalmanFilter) SetP(p *mat.Dense) { e.p = linalg.CopyDense(p) }

// InitialP returns a copy of the covariance the filter resets to.
func (e *ExtendedKalmanFilter) InitialP() *mat.Dense { return linalg.CopyDense(e.initP) }

// Reset zeroes the state estimate and restores the initial covariance.
func (e *ExtendedKalmanFilter) Reset() {
	e.xHat = mat.NewVecDense(e.states, nil)
	e.p = linalg.CopyDense(e.initP)
	e.dtForR = e.nominalDt
}

// Predict integrates the dynamics over dt with RK4 and propagates P through
// the dynamics linearized at the current estimate.
func (e *ExtendedKalmanFilter) Predict(u *mat.VecDense, dt float64) error {
	if err := linalg.CheckLen("extended kalman filter: u", u, e.inputs); err != nil {
		return err
	}

	contA := system.NumericalJacobianX(e.states, e.f, e.xHat, u)
	discA, discQ, err := linalg.DiscretizeAQTaylor(contA, e.contQ, dt)
	if err != nil {
		return fmt.Errorf("extended kalman filter: predict: %w", err)
	}

	e.xHat = system.RK4(e.f, e.xHat, u, dt)
	e.p = propagateCovariance(e.p, discA, discQ)
	if dt > 0 {
		e.dtForR = dt
	}
	return nil
}

// Correct fuses y using the filter's own measurement model and noise.
func (e *ExtendedKalmanFilter) Correct(u, y *mat.VecDense) error {
	return e.CorrectWith(u, y, e.h, e.contR)
}

// CorrectWith fuses y modelled as y = h(x, u) with continuous measurement
// noise r. WithResidualY and WithAddX override the filter's defaults for this
// call; other options are ignored.
func (e *ExtendedKalmanFilter) CorrectWith(u, y *mat.VecDense, h system.Model, r *mat.Dense, opts ...CorrectOption) error {
	if err := linalg.CheckLen("extended kalman filter: u", u, e.inputs); err != nil {
		return err
	}
	rows := y.Len()
	if err := linalg.CheckSquare("extended kalman filter: R", r, rows); err != nil {
		return err
	}
	cfg := applyCorrectOptions(correctConfig{residualY: e.residualY, addX: e.addX}, opts)

	yHat := h(e.xHat, u)
	if yHat.Len() != rows {
		return fmt.Errorf("extended kalman filter: h returned %d outputs for %d-element y: %w",
			yHat.Len(), rows, ErrDimensionMismatch)
	}
	c := system.NumericalJacobianX(rows, h, e.xHat, u)

	discR := linalg.DiscretizeR(r, e.dtForR)
	s := innovationCovariance(e.p, c, discR)
	k, err := gain(e.p, c, s)
	if err != nil {
		opsf("extended kalman filter: correction aborted: %v", err)
		return fmt.Errorf("extended kalman filter: correct: %w", err)
	}

	var dx mat.VecDense
	dx.MulVec(k, cfg.residualY(y, yHat))
	e.xHat = cfg.addX(e.xHat, &dx)
	e.p = updateCovariance(e.p, k, c)
	return nil
}
