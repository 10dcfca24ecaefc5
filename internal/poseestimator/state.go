package poseestimator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/estimator"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/system"
	"github.com/banshee-data/pose.estimator/internal/timeutil"
)

// Layout of the differential drive state estimator:
//
//	x = [x, y, θ, vL, vR, dL, dR, voltErrL, voltErrR, gyroErr]
//	u = [voltL, voltR]
//	local y = [θ + gyroErr, dL, dR]
//	vision y = [x, y, θ]
const (
	DriveStateX = iota
	DriveStateY
	DriveStateHeading
	DriveStateLeftVelocity
	DriveStateRightVelocity
	DriveStateLeftDistance
	DriveStateRightDistance
	DriveStateLeftVoltageError
	DriveStateRightVoltageError
	DriveStateGyroError

	driveStates = iota
)

const (
	driveInputs       = 2
	driveLocalOutputs = 3
)

// DriveStateStdDevs are the continuous process noise standard deviations of
// the differential drive state estimator.
type DriveStateStdDevs struct {
	X, Y         float64 // m
	Theta        float64 // rad
	Velocity     float64 // m/s
	Distance     float64 // m
	VoltageError float64 // V
	GyroError    float64 // rad
}

// StateEstimatorOptions tune a DifferentialDriveStateEstimator.
type StateEstimatorOptions struct {
	NominalDt        float64
	SnapshotCapacity int

	State  DriveStateStdDevs
	Local  LocalStdDevs
	Vision VisionStdDevs

	// Clock stamps Update calls. Nil selects the wall clock.
	Clock timeutil.Clock
}

// DefaultStateEstimatorOptions shares loop period, history and measurement
// noise with DefaultOptions.
func DefaultStateEstimatorOptions() StateEstimatorOptions {
	o := DefaultOptions()
	return StateEstimatorOptions{
		NominalDt:        o.NominalDt,
		SnapshotCapacity: o.SnapshotCapacity,
		State: DriveStateStdDevs{
			X:            0.002,
			Y:            0.002,
			Theta:        0.0001,
			Velocity:     0.5,
			Distance:     0.005,
			VoltageError: 1,
			GyroError:    0.001,
		},
		Local:  o.Local,
		Vision: o.Vision,
	}
}

func (o StateEstimatorOptions) validate() error {
	if o.NominalDt <= 0 {
		return fmt.Errorf("nominal dt must be positive, got %v", o.NominalDt)
	}
	if o.SnapshotCapacity < 0 {
		return fmt.Errorf("snapshot capacity must not be negative, got %d", o.SnapshotCapacity)
	}
	s := o.State
	if s.X <= 0 || s.Y <= 0 || s.Theta <= 0 || s.Velocity <= 0 ||
		s.Distance <= 0 || s.VoltageError <= 0 || s.GyroError <= 0 {
		return fmt.Errorf("state std devs must be positive, got %+v", s)
	}
	if o.Local.Theta <= 0 || o.Local.Wheel <= 0 {
		return fmt.Errorf("local std devs must be positive, got %+v", o.Local)
	}
	return o.Vision.validate()
}

func (s DriveStateStdDevs) slice() []float64 {
	return []float64{
		s.X, s.Y, s.Theta,
		s.Velocity, s.Velocity,
		s.Distance, s.Distance,
		s.VoltageError, s.VoltageError,
		s.GyroError,
	}
}

// DifferentialDriveStateEstimator estimates a differential drivetrain's pose
// together with its wheel velocities, the voltage each side fails to deliver
// and the gyro's heading error. It drives an unscented filter with the
// voltage-input plant and fuses delayed vision through a latency
// compensator.
type DifferentialDriveStateEstimator struct {
	name      string
	plant     *system.LinearSystem
	halfTrack float64

	observer    *estimator.UnscentedKalmanFilter
	compensator *estimator.LatencyCompensator
	visionR     *mat.Dense

	nominalDt float64
	prevTime  float64
	hasPrev   bool

	timebase *timeutil.Timebase
}

// NewDifferentialDriveStateEstimator builds the estimator for plant, a two
// state model of the left and right wheel velocities driven by voltage, such
// as system.IdentifyDrivetrainSystem returns. A nil initialState starts at
// the origin at rest.
func NewDifferentialDriveStateEstimator(
	plant *system.LinearSystem,
	kin kinematics.DifferentialDriveKinematics,
	initialState *mat.VecDense,
	o StateEstimatorOptions,
) (*DifferentialDriveStateEstimator, error) {
	const name = "differential state estimator"
	if plant == nil {
		return nil, errors.New(name + ": nil plant")
	}
	if plant.States() != 2 || plant.Inputs() != driveInputs {
		return nil, fmt.Errorf("%s: plant has %d states and %d inputs, want 2 and %d: %w",
			name, plant.States(), plant.Inputs(), driveInputs, linalg.ErrDimensionMismatch)
	}
	if kin.TrackWidth <= 0 {
		return nil, fmt.Errorf("%s: track width must be positive, got %v", name, kin.TrackWidth)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	d := &DifferentialDriveStateEstimator{
		name:        name,
		plant:       plant,
		halfTrack:   kin.TrackWidth / 2,
		compensator: estimator.NewLatencyCompensator(o.SnapshotCapacity),
		visionR:     visionCovariance(o.Vision),
		nominalDt:   o.NominalDt,
	}

	observer, err := estimator.NewUnscentedKalmanFilter(
		driveStates, driveInputs, driveLocalOutputs,
		d.dynamics, driveLocalMeasurement,
		o.State.slice(), []float64{o.Local.Theta, o.Local.Wheel, o.Local.Wheel},
		o.NominalDt,
		estimator.WithMeanFuncX(estimator.AngleMean(DriveStateHeading)),
		estimator.WithMeanFuncY(estimator.AngleMean(headingLocal)),
		estimator.WithResidualFuncX(estimator.AngleResidual(DriveStateHeading)),
		estimator.WithResidualFuncY(estimator.AngleResidual(headingLocal)),
		estimator.WithAddFuncX(estimator.AngleAdd(DriveStateHeading)),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	d.observer = observer

	clock := o.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d.timebase = timeutil.NewTimebase(clock)

	if err := d.Reset(initialState); err != nil {
		return nil, err
	}
	return d, nil
}

// dynamics is the continuous model: the unicycle kinematics of the mean
// wheel velocity, the plant driven by the applied voltage plus the voltage
// error, and wheel distances integrating wheel velocities. The error states
// are constant.
func (d *DifferentialDriveStateEstimator) dynamics(x, u *mat.VecDense) *mat.VecDense {
	vl, vr := x.AtVec(DriveStateLeftVelocity), x.AtVec(DriveStateRightVelocity)
	v := (vl + vr) / 2
	heading := x.AtVec(DriveStateHeading)

	wheels := linalg.Vec(vl, vr)
	volts := linalg.Vec(
		u.AtVec(0)+x.AtVec(DriveStateLeftVoltageError),
		u.AtVec(1)+x.AtVec(DriveStateRightVoltageError),
	)
	var accel, bu mat.VecDense
	accel.MulVec(d.plant.A, wheels)
	bu.MulVec(d.plant.B, volts)
	accel.AddVec(&accel, &bu)

	out := mat.NewVecDense(driveStates, nil)
	out.SetVec(DriveStateX, v*math.Cos(heading))
	out.SetVec(DriveStateY, v*math.Sin(heading))
	out.SetVec(DriveStateHeading, (vr-vl)/(2*d.halfTrack))
	out.SetVec(DriveStateLeftVelocity, accel.AtVec(0))
	out.SetVec(DriveStateRightVelocity, accel.AtVec(1))
	out.SetVec(DriveStateLeftDistance, vl)
	out.SetVec(DriveStateRightDistance, vr)
	return out
}

// driveLocalMeasurement observes the gyro, which reads the heading plus its
// error, and both encoders.
func driveLocalMeasurement(x, _ *mat.VecDense) *mat.VecDense {
	return linalg.Vec(
		x.AtVec(DriveStateHeading)+x.AtVec(DriveStateGyroError),
		x.AtVec(DriveStateLeftDistance),
		x.AtVec(DriveStateRightDistance),
	)
}

func driveVisionMeasurement(x, _ *mat.VecDense) *mat.VecDense {
	return linalg.Vec(x.AtVec(DriveStateX), x.AtVec(DriveStateY), x.AtVec(DriveStateHeading))
}

// EstimatedState returns a copy of the full state vector. Index it with the
// DriveState constants.
func (d *DifferentialDriveStateEstimator) EstimatedState() *mat.VecDense {
	return d.observer.Xhat()
}

// EstimatedPosition returns the pose part of the state.
func (d *DifferentialDriveStateEstimator) EstimatedPosition() geometry.Pose2d {
	return geometry.NewPose2d(
		d.observer.XhatAt(DriveStateX),
		d.observer.XhatAt(DriveStateY),
		geometry.FromRadians(d.observer.XhatAt(DriveStateHeading)),
	)
}

// HistoryLen returns the number of buffered snapshots available for replay.
func (d *DifferentialDriveStateEstimator) HistoryLen() int { return d.compensator.Len() }

// UpdateWithTime runs one control cycle stamped t seconds. gyroAngle is the
// raw gyro reading, the distances are the encoder totals and the voltages
// are the inputs applied since the previous cycle. A gyro that does not read
// the field heading should have its offset seeded in the initial
// DriveStateGyroError.
func (d *DifferentialDriveStateEstimator) UpdateWithTime(
	t float64,
	gyroAngle geometry.Rotation2d,
	leftDistance, rightDistance float64,
	leftVoltage, rightVoltage float64,
) (*mat.VecDense, error) {
	dt := d.nominalDt
	if d.hasPrev {
		if elapsed := t - d.prevTime; elapsed > 0 {
			dt = elapsed
		} else {
			diagf("%s: timestamp %.3f does not advance past %.3f, using nominal dt", d.name, t, d.prevTime)
		}
	}
	d.prevTime, d.hasPrev = t, true

	u := linalg.Vec(leftVoltage, rightVoltage)
	localY := linalg.Vec(gyroAngle.Radians(), leftDistance, rightDistance)

	d.compensator.AddObserverState(d.observer, u, localY, t)
	if err := d.observer.Predict(u, dt); err != nil {
		opsf("%s: predict at t=%.3f failed: %v", d.name, t, err)
		return d.EstimatedState(), fmt.Errorf("%s: predict: %w", d.name, err)
	}
	if err := d.observer.Correct(u, localY); err != nil {
		opsf("%s: local correction at t=%.3f failed: %v", d.name, t, err)
		return d.EstimatedState(), fmt.Errorf("%s: correct: %w", d.name, err)
	}

	tracef("%s: t=%.3f dt=%.4f pose=%v", d.name, t, dt, d.EstimatedPosition())
	return d.EstimatedState(), nil
}

// Update is UpdateWithTime stamped with the estimator's clock.
func (d *DifferentialDriveStateEstimator) Update(
	gyroAngle geometry.Rotation2d,
	leftDistance, rightDistance float64,
	leftVoltage, rightVoltage float64,
) (*mat.VecDense, error) {
	return d.UpdateWithTime(d.timebase.Seconds(), gyroAngle, leftDistance, rightDistance, leftVoltage, rightVoltage)
}

// AddVisionMeasurement fuses a global pose measured at timestamp t, replaying
// the buffered cycles since then. Measurements older than the history are
// dropped without error.
func (d *DifferentialDriveStateEstimator) AddVisionMeasurement(pose geometry.Pose2d, t float64) error {
	y := linalg.Vec(pose.X(), pose.Y(), pose.Rotation.Radians())
	r := d.visionR
	correct := func(u, y *mat.VecDense) error {
		return d.observer.CorrectWith(u, y, driveVisionMeasurement, r,
			estimator.WithMeanY(estimator.AngleMean(DriveStateHeading)),
			estimator.WithResidualY(estimator.AngleResidual(DriveStateHeading)),
			estimator.WithResidualX(estimator.AngleResidual(DriveStateHeading)),
			estimator.WithAddX(estimator.AngleAdd(DriveStateHeading)),
		)
	}
	if err := d.compensator.ApplyPastGlobalMeasurement(d.observer, d.nominalDt, y, correct, t); err != nil {
		opsf("%s: vision measurement at t=%.3f rejected: %v", d.name, t, err)
		return fmt.Errorf("%s: vision measurement: %w", d.name, err)
	}
	return nil
}

// SetVisionMeasurementStdDevs replaces the noise used for subsequent vision
// measurements.
func (d *DifferentialDriveStateEstimator) SetVisionMeasurementStdDevs(stdDevs VisionStdDevs) error {
	if err := stdDevs.validate(); err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	d.visionR = visionCovariance(stdDevs)
	return nil
}

// Reset zeroes the covariance, discards the replay history and sets the
// state to initialState, or to zero when it is nil.
func (d *DifferentialDriveStateEstimator) Reset(initialState *mat.VecDense) error {
	x := mat.NewVecDense(driveStates, nil)
	if initialState != nil {
		if err := linalg.CheckLen(d.name+": initial state", initialState, driveStates); err != nil {
			return err
		}
		x.CopyVec(initialState)
	}
	d.observer.Reset()
	d.observer.SetXhat(x)
	d.compensator.Clear()
	d.hasPrev = false
	return nil
}
