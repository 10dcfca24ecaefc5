package poseestimator

import (
	"errors"
	"fmt"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
)

// SwerveDrivePoseEstimator tracks a drivetrain of independently steered
// modules. Its state is [x, y, θ, module distances…].
type SwerveDrivePoseEstimator struct {
	*poseEstimator
	kinematics *kinematics.SwerveDriveKinematics
}

// NewSwerveDrivePoseEstimator starts an estimator at initialPose with one
// position per module. It uses an extended filter unless o.Filter says
// otherwise.
func NewSwerveDrivePoseEstimator(
	kin *kinematics.SwerveDriveKinematics,
	gyroAngle geometry.Rotation2d,
	positions []kinematics.SwerveModulePosition,
	initialPose geometry.Pose2d,
	o Options,
) (*SwerveDrivePoseEstimator, error) {
	if kin == nil {
		return nil, errors.New("swerve pose estimator: nil kinematics")
	}
	if len(positions) != kin.NumModules() {
		return nil, fmt.Errorf("swerve pose estimator: %d module positions for %d modules: %w",
			len(positions), kin.NumModules(), kinematics.ErrModuleCount)
	}
	core, err := newPoseEstimator("swerve pose estimator", config.FilterEKF,
		gyroAngle, moduleDistances(positions), initialPose, o)
	if err != nil {
		return nil, err
	}
	return &SwerveDrivePoseEstimator{poseEstimator: core, kinematics: kin}, nil
}

// UpdateWithTime runs one control cycle stamped t seconds and returns the
// new estimate.
func (s *SwerveDrivePoseEstimator) UpdateWithTime(
	t float64,
	gyroAngle geometry.Rotation2d,
	states []kinematics.SwerveModuleState,
	positions []kinematics.SwerveModulePosition,
) (geometry.Pose2d, error) {
	speeds, err := s.kinematics.ToChassisSpeeds(states...)
	if err != nil {
		return s.EstimatedPosition(), fmt.Errorf("%s: %w", s.name, err)
	}
	velocities := make([]float64, len(states))
	for i, st := range states {
		velocities[i] = st.Speed
	}
	return s.update(t, gyroAngle, speeds, velocities, moduleDistances(positions))
}

// Update is UpdateWithTime stamped with the estimator's clock.
func (s *SwerveDrivePoseEstimator) Update(
	gyroAngle geometry.Rotation2d,
	states []kinematics.SwerveModuleState,
	positions []kinematics.SwerveModulePosition,
) (geometry.Pose2d, error) {
	return s.UpdateWithTime(s.now(), gyroAngle, states, positions)
}

// ResetPosition moves the estimate to pose, re-references the gyro and
// module encoders, and discards the replay history.
func (s *SwerveDrivePoseEstimator) ResetPosition(
	pose geometry.Pose2d,
	gyroAngle geometry.Rotation2d,
	positions []kinematics.SwerveModulePosition,
) error {
	return s.reset(pose, gyroAngle, moduleDistances(positions))
}

func moduleDistances(positions []kinematics.SwerveModulePosition) []float64 {
	out := make([]float64, len(positions))
	for i, p := range positions {
		out[i] = p.Distance
	}
	return out
}
