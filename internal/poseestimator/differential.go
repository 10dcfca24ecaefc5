package poseestimator

import (
	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
)

// DifferentialDrivePoseEstimator tracks a two-sided drivetrain. Its state is
// [x, y, θ, left distance, right distance].
type DifferentialDrivePoseEstimator struct {
	*poseEstimator
	kinematics kinematics.DifferentialDriveKinematics
}

// NewDifferentialDrivePoseEstimator starts an estimator at initialPose with
// the gyro reading and encoder distances taken at that pose. It uses an
// unscented filter unless o.Filter says otherwise.
func NewDifferentialDrivePoseEstimator(
	kin kinematics.DifferentialDriveKinematics,
	gyroAngle geometry.Rotation2d,
	leftDistance, rightDistance float64,
	initialPose geometry.Pose2d,
	o Options,
) (*DifferentialDrivePoseEstimator, error) {
	core, err := newPoseEstimator("differential pose estimator", config.FilterUKF,
		gyroAngle, []float64{leftDistance, rightDistance}, initialPose, o)
	if err != nil {
		return nil, err
	}
	return &DifferentialDrivePoseEstimator{poseEstimator: core, kinematics: kin}, nil
}

// UpdateWithTime runs one control cycle stamped t seconds and returns the
// new estimate.
func (d *DifferentialDrivePoseEstimator) UpdateWithTime(
	t float64,
	gyroAngle geometry.Rotation2d,
	speeds kinematics.DifferentialDriveWheelSpeeds,
	leftDistance, rightDistance float64,
) (geometry.Pose2d, error) {
	return d.update(t, gyroAngle, d.kinematics.ToChassisSpeeds(speeds),
		[]float64{speeds.Left, speeds.Right},
		[]float64{leftDistance, rightDistance})
}

// Update is UpdateWithTime stamped with the estimator's clock.
func (d *DifferentialDrivePoseEstimator) Update(
	gyroAngle geometry.Rotation2d,
	speeds kinematics.DifferentialDriveWheelSpeeds,
	leftDistance, rightDistance float64,
) (geometry.Pose2d, error) {
	return d.UpdateWithTime(d.now(), gyroAngle, speeds, leftDistance, rightDistance)
}

// ResetPosition moves the estimate to pose, re-references the gyro and
// encoders, and discards the replay history.
func (d *DifferentialDrivePoseEstimator) ResetPosition(
	pose geometry.Pose2d,
	gyroAngle geometry.Rotation2d,
	leftDistance, rightDistance float64,
) error {
	return d.reset(pose, gyroAngle, []float64{leftDistance, rightDistance})
}
