package poseestimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
)

func corners() []geometry.Translation2d {
	return []geometry.Translation2d{
		{X: 0.3, Y: 0.3},
		{X: 0.3, Y: -0.3},
		{X: -0.3, Y: 0.3},
		{X: -0.3, Y: -0.3},
	}
}

func TestMecanumStrafes(t *testing.T) {
	t.Parallel()

	c := corners()
	kin, err := kinematics.NewMecanumDriveKinematics(c[0], c[1], c[2], c[3])
	require.NoError(t, err)

	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			o := DefaultOptions()
			o.Filter = kind
			est, err := NewMecanumDrivePoseEstimator(kin, geometry.FromRadians(0),
				kinematics.MecanumDriveWheelPositions{}, geometry.Pose2d{}, o)
			require.NoError(t, err)
			assert.Equal(t, 7, est.EstimatedState().Len())

			speeds := kin.ToWheelSpeeds(kinematics.ChassisSpeeds{Vx: 0.5, Vy: 1})
			var positions kinematics.MecanumDriveWheelPositions
			var pose geometry.Pose2d
			for k := 1; k <= 50; k++ {
				positions.FrontLeft += speeds.FrontLeft * testDt
				positions.FrontRight += speeds.FrontRight * testDt
				positions.RearLeft += speeds.RearLeft * testDt
				positions.RearRight += speeds.RearRight * testDt
				pose, err = est.UpdateWithTime(float64(k)*testDt, geometry.FromRadians(0), speeds, positions)
				require.NoError(t, err)
			}

			assert.InDelta(t, 0.5, pose.X(), 1e-6)
			assert.InDelta(t, 1.0, pose.Y(), 1e-6)
			assert.InDelta(t, 0, pose.Rotation.Radians(), 1e-6)

			state := est.EstimatedState()
			assert.InDelta(t, positions.FrontLeft, state.AtVec(3), 1e-6)
			assert.InDelta(t, positions.RearRight, state.AtVec(6), 1e-6)

			require.NoError(t, est.ResetPosition(geometry.NewPose2d(2, 2, geometry.FromRadians(1)),
				geometry.FromRadians(0), positions))
			assert.Equal(t, 0, est.HistoryLen())
			assert.InDelta(t, 2, est.EstimatedPosition().X(), 1e-12)
		})
	}
}

func TestMecanumDefaultsToUnscented(t *testing.T) {
	t.Parallel()

	c := corners()
	kin, err := kinematics.NewMecanumDriveKinematics(c[0], c[1], c[2], c[3])
	require.NoError(t, err)
	est, err := NewMecanumDrivePoseEstimator(kin, geometry.FromRadians(0),
		kinematics.MecanumDriveWheelPositions{}, geometry.Pose2d{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, config.FilterUKF, est.FilterKind())

	_, err = NewMecanumDrivePoseEstimator(nil, geometry.FromRadians(0),
		kinematics.MecanumDriveWheelPositions{}, geometry.Pose2d{}, DefaultOptions())
	assert.Error(t, err)
}

func swervePositions(distances ...float64) []kinematics.SwerveModulePosition {
	out := make([]kinematics.SwerveModulePosition, len(distances))
	for i, d := range distances {
		out[i] = kinematics.SwerveModulePosition{Distance: d}
	}
	return out
}

func TestSwerveDrivesDiagonally(t *testing.T) {
	t.Parallel()

	kin, err := kinematics.NewSwerveDriveKinematics(corners()...)
	require.NoError(t, err)

	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			o := DefaultOptions()
			o.Filter = kind
			est, err := NewSwerveDrivePoseEstimator(kin, geometry.FromRadians(0),
				swervePositions(0, 0, 0, 0), geometry.Pose2d{}, o)
			require.NoError(t, err)
			assert.Equal(t, 7, est.EstimatedState().Len())

			states := kin.ToModuleStates(kinematics.ChassisSpeeds{Vx: 1, Vy: 1})
			positions := swervePositions(0, 0, 0, 0)
			var pose geometry.Pose2d
			for k := 1; k <= 50; k++ {
				for i := range positions {
					positions[i].Distance += states[i].Speed * testDt
					positions[i].Angle = states[i].Angle
				}
				pose, err = est.UpdateWithTime(float64(k)*testDt, geometry.FromRadians(0), states, positions)
				require.NoError(t, err)
			}

			assert.InDelta(t, 1.0, pose.X(), 1e-6)
			assert.InDelta(t, 1.0, pose.Y(), 1e-6)
			assert.InDelta(t, 0, pose.Rotation.Radians(), 1e-6)
		})
	}
}

func TestSwerveModuleCountErrors(t *testing.T) {
	t.Parallel()

	kin, err := kinematics.NewSwerveDriveKinematics(corners()...)
	require.NoError(t, err)

	_, err = NewSwerveDrivePoseEstimator(kin, geometry.FromRadians(0),
		swervePositions(0, 0), geometry.Pose2d{}, DefaultOptions())
	assert.ErrorIs(t, err, kinematics.ErrModuleCount)

	_, err = NewSwerveDrivePoseEstimator(nil, geometry.FromRadians(0),
		swervePositions(0, 0), geometry.Pose2d{}, DefaultOptions())
	assert.Error(t, err)

	est, err := NewSwerveDrivePoseEstimator(kin, geometry.FromRadians(0),
		swervePositions(0, 0, 0, 0), geometry.Pose2d{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, config.FilterEKF, est.FilterKind())

	states := kin.ToModuleStates(kinematics.ChassisSpeeds{Vx: 1})
	_, err = est.UpdateWithTime(testDt, geometry.FromRadians(0), states[:3], swervePositions(0, 0, 0, 0))
	assert.ErrorIs(t, err, kinematics.ErrModuleCount)

	_, err = est.UpdateWithTime(testDt, geometry.FromRadians(0), states, swervePositions(0, 0, 0))
	assert.ErrorIs(t, err, kinematics.ErrModuleCount)

	assert.ErrorIs(t, est.ResetPosition(geometry.Pose2d{}, geometry.FromRadians(0), swervePositions(0)),
		kinematics.ErrModuleCount)
	assert.Equal(t, 0, est.HistoryLen(), "rejected updates leave no history")
}
