// Package poseestimator fuses drivetrain odometry with delayed global pose
// measurements, such as vision, into a field-relative robot pose.
//
// Each estimator owns one Kalman-family filter and one latency compensator.
// Callers must serialize access: none of the estimators lock internally.
package poseestimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/estimator"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
	"github.com/banshee-data/pose.estimator/internal/linalg"
	"github.com/banshee-data/pose.estimator/internal/timeutil"
)

// poseEstimator is the drivetrain-independent core. Drivetrains translate
// their wheel readings into chassis speeds, wheel velocities and wheel
// distances and hand them to update.
type poseEstimator struct {
	name   string
	wheels int
	kind   config.FilterKind

	filter      estimator.Filter
	vision      visionCorrector
	visionR     *mat.Dense
	compensator *estimator.LatencyCompensator

	nominalDt float64
	prevTime  float64
	hasPrev   bool

	gyroOffset    geometry.Rotation2d
	previousAngle geometry.Rotation2d

	timebase *timeutil.Timebase
}

func newPoseEstimator(
	name string,
	defaultKind config.FilterKind,
	gyroAngle geometry.Rotation2d,
	wheelPositions []float64,
	initialPose geometry.Pose2d,
	o Options,
) (*poseEstimator, error) {
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	kind := o.Filter
	if kind == "" {
		kind = defaultKind
	}
	filter, vision, err := newFilter(kind, len(wheelPositions), o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	clock := o.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	pe := &poseEstimator{
		name:        name,
		wheels:      len(wheelPositions),
		kind:        kind,
		filter:      filter,
		vision:      vision,
		visionR:     visionCovariance(o.Vision),
		compensator: estimator.NewLatencyCompensator(o.SnapshotCapacity),
		nominalDt:   o.NominalDt,
		timebase:    timeutil.NewTimebase(clock),
	}
	pe.filter.SetXhat(fillState(initialPose, wheelPositions))
	pe.gyroOffset = initialPose.Rotation.Minus(gyroAngle)
	pe.previousAngle = initialPose.Rotation
	return pe, nil
}

func visionCovariance(v VisionStdDevs) *mat.Dense {
	return linalg.MakeCovariance(v.X, v.Y, v.Theta)
}

func fillState(pose geometry.Pose2d, wheelPositions []float64) *mat.VecDense {
	x := mat.NewVecDense(poseOutputs+len(wheelPositions), nil)
	x.SetVec(0, pose.X())
	x.SetVec(1, pose.Y())
	x.SetVec(headingState, pose.Rotation.Radians())
	for i, d := range wheelPositions {
		x.SetVec(poseOutputs+i, d)
	}
	return x
}

// FilterKind returns the filter variant in use.
func (pe *poseEstimator) FilterKind() config.FilterKind { return pe.kind }

// HistoryLen returns the number of buffered snapshots available for replay.
func (pe *poseEstimator) HistoryLen() int { return pe.compensator.Len() }

// EstimatedPosition returns the current pose estimate.
func (pe *poseEstimator) EstimatedPosition() geometry.Pose2d {
	return geometry.NewPose2d(
		pe.filter.XhatAt(0),
		pe.filter.XhatAt(1),
		geometry.FromRadians(pe.filter.XhatAt(headingState)),
	)
}

// EstimatedState returns a copy of the full state vector
// [x, y, θ, wheel distances…].
func (pe *poseEstimator) EstimatedState() *mat.VecDense {
	return pe.filter.Xhat()
}

// SetVisionMeasurementStdDevs replaces the noise used for subsequent vision
// measurements.
func (pe *poseEstimator) SetVisionMeasurementStdDevs(stdDevs VisionStdDevs) error {
	if err := stdDevs.validate(); err != nil {
		return fmt.Errorf("%s: %w", pe.name, err)
	}
	pe.visionR = visionCovariance(stdDevs)
	return nil
}

// AddVisionMeasurement fuses a global pose measured at timestamp t, in
// seconds on the same timebase as the update calls. The filter is rewound
// to the buffered cycle nearest t and replayed to the present.
//
// A measurement older than the buffered history, or one arriving before the
// first update, is dropped without error.
func (pe *poseEstimator) AddVisionMeasurement(pose geometry.Pose2d, t float64) error {
	y := linalg.Vec(pose.X(), pose.Y(), pose.Rotation.Radians())
	r := pe.visionR
	correct := func(u, y *mat.VecDense) error {
		return pe.vision(u, y, r)
	}
	if err := pe.compensator.ApplyPastGlobalMeasurement(pe.filter, pe.nominalDt, y, correct, t); err != nil {
		opsf("%s: vision measurement at t=%.3f rejected: %v", pe.name, t, err)
		return fmt.Errorf("%s: vision measurement: %w", pe.name, err)
	}
	return nil
}

// AddVisionMeasurementWithStdDevs sets the vision noise and then fuses pose
// as AddVisionMeasurement does. The new noise stays in effect afterwards.
func (pe *poseEstimator) AddVisionMeasurementWithStdDevs(pose geometry.Pose2d, t float64, stdDevs VisionStdDevs) error {
	if err := pe.SetVisionMeasurementStdDevs(stdDevs); err != nil {
		return err
	}
	return pe.AddVisionMeasurement(pose, t)
}

func (pe *poseEstimator) reset(pose geometry.Pose2d, gyroAngle geometry.Rotation2d, wheelPositions []float64) error {
	if len(wheelPositions) != pe.wheels {
		return fmt.Errorf("%s: %d wheel positions, want %d: %w",
			pe.name, len(wheelPositions), pe.wheels, kinematics.ErrModuleCount)
	}
	pe.filter.Reset()
	pe.compensator.Clear()
	pe.filter.SetXhat(fillState(pose, wheelPositions))

	pe.hasPrev = false
	pe.gyroOffset = pe.EstimatedPosition().Rotation.Minus(gyroAngle)
	pe.previousAngle = pose.Rotation
	diagf("%s: reset to %v", pe.name, pose)
	return nil
}

// update runs one control cycle: it records the pre-cycle snapshot,
// predicts with the field-relative chassis velocity and corrects with the
// gyro and wheel distances.
func (pe *poseEstimator) update(
	t float64,
	gyroAngle geometry.Rotation2d,
	speeds kinematics.ChassisSpeeds,
	wheelVelocities, wheelPositions []float64,
) (geometry.Pose2d, error) {
	if len(wheelVelocities) != pe.wheels || len(wheelPositions) != pe.wheels {
		return pe.EstimatedPosition(), fmt.Errorf("%s: %d wheel velocities and %d positions, want %d: %w",
			pe.name, len(wheelVelocities), len(wheelPositions), pe.wheels, kinematics.ErrModuleCount)
	}

	dt := pe.nominalDt
	if pe.hasPrev {
		if elapsed := t - pe.prevTime; elapsed > 0 {
			dt = elapsed
		} else {
			diagf("%s: timestamp %.3f does not advance past %.3f, using nominal dt", pe.name, t, pe.prevTime)
		}
	}
	pe.prevTime, pe.hasPrev = t, true

	angle := gyroAngle.Plus(pe.gyroOffset)
	omega := angle.Minus(pe.previousAngle).Radians() / dt
	pe.previousAngle = angle

	field := speeds.FieldRelative(angle)
	u := mat.NewVecDense(poseOutputs+pe.wheels, nil)
	u.SetVec(0, field.Vx)
	u.SetVec(1, field.Vy)
	u.SetVec(headingState, omega)
	localY := mat.NewVecDense(1+pe.wheels, nil)
	localY.SetVec(headingLocal, angle.Radians())
	for i := 0; i < pe.wheels; i++ {
		u.SetVec(poseOutputs+i, wheelVelocities[i])
		localY.SetVec(1+i, wheelPositions[i])
	}

	pe.compensator.AddObserverState(pe.filter, u, localY, t)
	if err := pe.filter.Predict(u, dt); err != nil {
		opsf("%s: predict at t=%.3f failed: %v", pe.name, t, err)
		return pe.EstimatedPosition(), fmt.Errorf("%s: predict: %w", pe.name, err)
	}
	if err := pe.filter.Correct(u, localY); err != nil {
		opsf("%s: local correction at t=%.3f failed: %v", pe.name, t, err)
		return pe.EstimatedPosition(), fmt.Errorf("%s: correct: %w", pe.name, err)
	}

	pose := pe.EstimatedPosition()
	tracef("%s: t=%.3f dt=%.4f pose=%v", pe.name, t, dt, pose)
	return pose, nil
}

// now returns the current time on the estimator's timebase.
func (pe *poseEstimator) now() float64 {
	return pe.timebase.Seconds()
}
