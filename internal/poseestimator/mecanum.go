package poseestimator

import (
	"errors"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
)

// MecanumDrivePoseEstimator tracks a four-wheel mecanum drivetrain. Its
// state is [x, y, θ, fl, fr, rl, rr] with wheel distances in metres.
type MecanumDrivePoseEstimator struct {
	*poseEstimator
	kinematics *kinematics.MecanumDriveKinematics
}

// NewMecanumDrivePoseEstimator starts an estimator at initialPose. It uses an
// unscented filter unless o.Filter says otherwise.
func NewMecanumDrivePoseEstimator(
	kin *kinematics.MecanumDriveKinematics,
	gyroAngle geometry.Rotation2d,
	positions kinematics.MecanumDriveWheelPositions,
	initialPose geometry.Pose2d,
	o Options,
) (*MecanumDrivePoseEstimator, error) {
	if kin == nil {
		return nil, errors.New("mecanum pose estimator: nil kinematics")
	}
	core, err := newPoseEstimator("mecanum pose estimator", config.FilterUKF,
		gyroAngle, positions.Slice(), initialPose, o)
	if err != nil {
		return nil, err
	}
	return &MecanumDrivePoseEstimator{poseEstimator: core, kinematics: kin}, nil
}

// UpdateWithTime runs one control cycle stamped t seconds and returns the
// new estimate.
func (m *MecanumDrivePoseEstimator) UpdateWithTime(
	t float64,
	gyroAngle geometry.Rotation2d,
	speeds kinematics.MecanumDriveWheelSpeeds,
	positions kinematics.MecanumDriveWheelPositions,
) (geometry.Pose2d, error) {
	return m.update(t, gyroAngle, m.kinematics.ToChassisSpeeds(speeds), speeds.Slice(), positions.Slice())
}

// Update is UpdateWithTime stamped with the estimator's clock.
func (m *MecanumDrivePoseEstimator) Update(
	gyroAngle geometry.Rotation2d,
	speeds kinematics.MecanumDriveWheelSpeeds,
	positions kinematics.MecanumDriveWheelPositions,
) (geometry.Pose2d, error) {
	return m.UpdateWithTime(m.now(), gyroAngle, speeds, positions)
}

// ResetPosition moves the estimate to pose, re-references the gyro and
// encoders, and discards the replay history.
func (m *MecanumDrivePoseEstimator) ResetPosition(
	pose geometry.Pose2d,
	gyroAngle geometry.Rotation2d,
	positions kinematics.MecanumDriveWheelPositions,
) error {
	return m.reset(pose, gyroAngle, positions.Slice())
}
