package poseestimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/estimator"
	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/system"
)

// ErrUnknownFilter is returned for a filter kind other than kf, ekf or ukf.
var ErrUnknownFilter = errors.New("unknown filter kind")

// Layout of the state and measurement vectors shared by every drivetrain:
//
//	x = [x, y, θ, wheel₀ … wheelₙ]
//	u = [vx_field, vy_field, ω, wheelVel₀ … wheelVelₙ]
//	local y = [θ, wheel₀ … wheelₙ]
//	vision y = [x, y, θ]
const (
	headingState = 2
	headingLocal = 0
	poseOutputs  = 3
)

// visionCorrector fuses a global pose measurement y with continuous noise r.
type visionCorrector func(u, y *mat.VecDense, r *mat.Dense) error

// dynamics integrates the field-relative velocities and wheel speeds
// directly: ẋ = u.
func dynamics(_, u *mat.VecDense) *mat.VecDense {
	return linalg.CopyVec(u)
}

// localMeasurement observes heading and wheel distances.
func localMeasurement(x, _ *mat.VecDense) *mat.VecDense {
	return linalg.CopyVec(x.SliceVec(headingState, x.Len()))
}

// visionMeasurement observes the pose.
func visionMeasurement(x, _ *mat.VecDense) *mat.VecDense {
	return linalg.CopyVec(x.SliceVec(0, poseOutputs))
}

func stateStdDevs(o Options, wheels int) []float64 {
	out := []float64{o.State.X, o.State.Y, o.State.Theta}
	for i := 0; i < wheels; i++ {
		out = append(out, o.State.Wheel)
	}
	return out
}

func localStdDevs(o Options, wheels int) []float64 {
	out := []float64{o.Local.Theta}
	for i := 0; i < wheels; i++ {
		out = append(out, o.Local.Wheel)
	}
	return out
}

// newFilter builds the estimator for a drivetrain with the given number of
// wheel distance states.
func newFilter(kind config.FilterKind, wheels int, o Options) (estimator.Filter, visionCorrector, error) {
	states := poseOutputs + wheels
	outputs := 1 + wheels
	qStd := stateStdDevs(o, wheels)
	rStd := localStdDevs(o, wheels)

	switch kind {
	case config.FilterKF:
		return newLinearFilter(states, outputs, qStd, rStd, o.NominalDt)

	case config.FilterEKF:
		ekf, err := estimator.NewExtendedKalmanFilter(
			states, states, outputs,
			dynamics, localMeasurement,
			qStd, rStd, o.NominalDt,
			estimator.WithEKFResidualY(estimator.AngleResidual(headingLocal)),
			estimator.WithEKFAddX(estimator.AngleAdd(headingState)),
		)
		if err != nil {
			return nil, nil, err
		}
		vision := func(u, y *mat.VecDense, r *mat.Dense) error {
			return ekf.CorrectWith(u, y, visionMeasurement, r,
				estimator.WithResidualY(estimator.AngleResidual(headingState)),
				estimator.WithAddX(estimator.AngleAdd(headingState)),
			)
		}
		return ekf, vision, nil

	case config.FilterUKF:
		ukf, err := estimator.NewUnscentedKalmanFilter(
			states, states, outputs,
			dynamics, localMeasurement,
			qStd, rStd, o.NominalDt,
			estimator.WithMeanFuncX(estimator.AngleMean(headingState)),
			estimator.WithMeanFuncY(estimator.AngleMean(headingLocal)),
			estimator.WithResidualFuncX(estimator.AngleResidual(headingState)),
			estimator.WithResidualFuncY(estimator.AngleResidual(headingLocal)),
			estimator.WithAddFuncX(estimator.AngleAdd(headingState)),
		)
		if err != nil {
			return nil, nil, err
		}
		vision := func(u, y *mat.VecDense, r *mat.Dense) error {
			return ukf.CorrectWith(u, y, visionMeasurement, r,
				estimator.WithMeanY(estimator.AngleMean(headingState)),
				estimator.WithResidualY(estimator.AngleResidual(headingState)),
				estimator.WithResidualX(estimator.AngleResidual(headingState)),
				estimator.WithAddX(estimator.AngleAdd(headingState)),
			)
		}
		return ukf, vision, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFilter, kind)
}

// headingKalmanFilter is a linear Kalman filter over the shared state layout.
// The linear update cannot wrap angles, so every heading measurement is
// first moved by whole turns to within π of the estimate and the heading
// state is wrapped back into (−π, π] after each correction.
type headingKalmanFilter struct {
	*estimator.KalmanFilter

	outputs int
	visionC *mat.Dense
	visionD *mat.Dense
}

func newLinearFilter(states, outputs int, qStd, rStd []float64, nominalDt float64) (estimator.Filter, visionCorrector, error) {
	// ẋ = u; local y = [0 | I]·x.
	c := linalg.Zeros(outputs, states)
	for i := 0; i < outputs; i++ {
		c.Set(i, headingState+i, 1)
	}
	plant, err := system.NewLinearSystem(
		linalg.Zeros(states, states),
		linalg.Identity(states),
		c,
		linalg.Zeros(outputs, states),
	)
	if err != nil {
		return nil, nil, err
	}
	kf, err := estimator.NewKalmanFilter(plant, qStd, rStd, nominalDt)
	if err != nil {
		return nil, nil, err
	}

	h := &headingKalmanFilter{
		KalmanFilter: kf,
		outputs:      outputs,
		visionC:      linalg.Zeros(poseOutputs, states),
		visionD:      linalg.Zeros(poseOutputs, states),
	}
	for i := 0; i < poseOutputs; i++ {
		h.visionC.Set(i, i, 1)
	}
	return h, h.correctVision, nil
}

// Correct fuses a local measurement.
func (h *headingKalmanFilter) Correct(u, y *mat.VecDense) error {
	if err := linalg.CheckLen("kalman filter: y", y, h.outputs); err != nil {
		return err
	}
	if err := h.KalmanFilter.Correct(u, nearestTurn(y, headingLocal, h.XhatAt(headingState))); err != nil {
		return err
	}
	h.wrapHeading()
	return nil
}

func (h *headingKalmanFilter) correctVision(u, y *mat.VecDense, r *mat.Dense) error {
	if err := linalg.CheckLen("kalman filter: vision y", y, poseOutputs); err != nil {
		return err
	}
	if err := h.CorrectWith(u, nearestTurn(y, headingState, h.XhatAt(headingState)), h.visionC, h.visionD, r); err != nil {
		return err
	}
	h.wrapHeading()
	return nil
}

func (h *headingKalmanFilter) wrapHeading() {
	x := h.Xhat()
	x.SetVec(headingState, estimator.AngleModulus(x.AtVec(headingState)))
	h.SetXhat(x)
}

// nearestTurn returns a copy of y with element i shifted by whole turns to
// lie within π of ref.
func nearestTurn(y *mat.VecDense, i int, ref float64) *mat.VecDense {
	out := linalg.CopyVec(y)
	out.SetVec(i, ref+estimator.AngleModulus(y.AtVec(i)-ref))
	return out
}
