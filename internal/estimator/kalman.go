package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/system"
)

// KalmanFilter estimates the state of a linear plant.
type KalmanFilter struct {
	plant *system.LinearSystem

	contQ *mat.Dense
	contR *mat.Dense
	initP *mat.Dense

	xHat *mat.VecDense
	p    *mat.Dense

	nominalDt float64
	// dtForR is the dt of the last predict; measurement noise is discretized
	// against it.
	dtForR float64
}

var _ Filter = (*KalmanFilter)(nil)

// NewKalmanFilter builds a filter for plant. The initial covariance is the
// steady-state solution of the Riccati equation at nominalDt when (A_d, C) is
// detectable and the plant has no more outputs than states, and zero
// otherwise.
func NewKalmanFilter(plant *system.LinearSystem, stateStdDevs, measurementStdDevs []float64, nominalDt float64) (*KalmanFilter, error) {
	if plant == nil {
		return nil, errors.New("kalman filter: nil plant")
	}
	if nominalDt <= 0 {
		return nil, fmt.Errorf("kalman filter: nominal dt %v must be positive", nominalDt)
	}
	if len(stateStdDevs) != plant.States() {
		return nil, fmt.Errorf("kalman filter: %d state std devs for %d states: %w",
			len(stateStdDevs), plant.States(), ErrDimensionMismatch)
	}
	if len(measurementStdDevs) != plant.Outputs() {
		return nil, fmt.Errorf("kalman filter: %d measurement std devs for %d outputs: %w",
			len(measurementStdDevs), plant.Outputs(), ErrDimensionMismatch)
	}

	kf := &KalmanFilter{
		plant:     plant,
		contQ:     linalg.MakeCovariance(stateStdDevs...),
		contR:     linalg.MakeCovariance(measurementStdDevs...),
		nominalDt: nominalDt,
		dtForR:    nominalDt,
	}

	discA, discQ, err := linalg.DiscretizeAQ(plant.A, kf.contQ, nominalDt)
	if err != nil {
		return nil, fmt.Errorf("kalman filter: %w", err)
	}
	discR := linalg.DiscretizeR(kf.contR, nominalDt)
	kf.initP = seedCovariance("kalman filter", discA, plant.C, discQ, discR)

	kf.Reset()
	return kf, nil
}

// Xhat returns a copy of the state estimate.
func (kf *KalmanFilter) Xhat() *mat.VecDense { return linalg.CopyVec(kf.xHat) }

// XhatAt returns element i of the state estimate.
func (kf *KalmanFilter) XhatAt(i int) float64 { return kf.xHat.AtVec(i) }

// SetXhat replaces the state estimate with a copy of x.
func (kf *KalmanFilter) SetXhat(x *mat.VecDense) { kf.xHat = linalg.CopyVec(x) }

// P returns a copy of the error covariance.
func (kf *KalmanFilter) P() *mat.Dense { return linalg.CopyDense(kf.p) }

// SetP replaces the error covariance with a copy of p.
func (kf *KalmanFilter) SetP(p *mat.Dense) { kf.p = linalg.CopyDense(p) }

// InitialP returns a copy of the covariance the filter resets to.
func (kf *KalmanFilter) InitialP() *mat.Dense { return linalg.CopyDense(kf.initP) }

// Reset zeroes the state estimate and restores the initial covariance.
func (kf *KalmanFilter) Reset() {
	kf.xHat = mat.NewVecDense(kf.plant.States(), nil)
	kf.p = linalg.CopyDense(kf.initP)
	kf.dtForR = kf.nominalDt
}

// Predict advances the estimate by dt under input u.
func (kf *KalmanFilter) Predict(u *mat.VecDense, dt float64) error {
	x, err := kf.plant.CalculateX(kf.xHat, u, dt)
	if err != nil {
		return fmt.Errorf("kalman filter: predict: %w", err)
	}
	discA, discQ, err := linalg.DiscretizeAQ(kf.plant.A, kf.contQ, dt)
	if err != nil {
		return fmt.Errorf("kalman filter: predict: %w", err)
	}

	kf.xHat = x
	kf.p = propagateCovariance(kf.p, discA, discQ)
	if dt > 0 {
		kf.dtForR = dt
	}
	return nil
}

// Correct fuses y using the plant's own output model and measurement noise.
func (kf *KalmanFilter) Correct(u, y *mat.VecDense) error {
	return kf.CorrectWith(u, y, kf.plant.C, kf.plant.D, kf.contR)
}

// CorrectWith fuses y modelled as y = Cx + Du with continuous measurement
// noise r. It lets sources other than the plant's outputs be fused.
func (kf *KalmanFilter) CorrectWith(u, y *mat.VecDense, c, d, r *mat.Dense) error {
	states := kf.plant.States()
	rows := y.Len()
	if cr, cc := c.Dims(); cr != rows || cc != states {
		return fmt.Errorf("kalman filter: C is %dx%d, want %dx%d: %w", cr, cc, rows, states, ErrDimensionMismatch)
	}
	if dr, dc := d.Dims(); dr != rows || dc != u.Len() {
		return fmt.Errorf("kalman filter: D is %dx%d, want %dx%d: %w", dr, dc, rows, u.Len(), ErrDimensionMismatch)
	}
	if err := linalg.CheckSquare("kalman filter: R", r, rows); err != nil {
		return err
	}

	discR := linalg.DiscretizeR(r, kf.dtForR)
	s := innovationCovariance(kf.p, c, discR)
	k, err := gain(kf.p, c, s)
	if err != nil {
		opsf("kalman filter: correction aborted: %v", err)
		return fmt.Errorf("kalman filter: correct: %w", err)
	}

	// y − (Cx + Du)
	var yHat, du, innovation mat.VecDense
	yHat.MulVec(c, kf.xHat)
	du.MulVec(d, u)
	yHat.AddVec(&yHat, &du)
	innovation.SubVec(y, &yHat)

	var dx mat.VecDense
	dx.MulVec(k, &innovation)
	kf.xHat.AddVec(kf.xHat, &dx)
	kf.p = updateCovariance(kf.p, k, c)
	return nil
}
