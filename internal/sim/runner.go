package sim

import (
	"context"
	"fmt"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
	"github.com/banshee-data/pose.estimator/internal/monitoring"
	"github.com/banshee-data/pose.estimator/internal/poseestimator"
)

// Sample pairs the truth and the estimate after one tick.
type Sample struct {
	T        float64
	Truth    geometry.Pose2d
	Estimate geometry.Pose2d
}

// Result is the outcome of running a drive through an estimator.
type Result struct {
	Drivetrain Drivetrain
	// Filter is the variant the estimator ran, after drivetrain defaults.
	Filter  config.FilterKind
	Samples []Sample
	// VisionApplied counts the vision measurements handed to the estimator.
	VisionApplied int
	Summary       monitoring.PoseErrorSummary
}

// Run feeds every tick of drive through a freshly built estimator, delivering
// each vision measurement right after the tick it arrives on.
func Run(ctx context.Context, drive *Drive, opts poseestimator.Options) (*Result, error) {
	est, err := newDriver(drive, opts)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	tracker := monitoring.NewPoseErrorTracker()
	res := &Result{
		Drivetrain: drive.Drivetrain,
		Filter:     est.filter,
		Samples:    make([]Sample, 0, len(drive.Ticks)),
	}

	next := 0
	for _, tick := range drive.Ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := est.update(tick); err != nil {
			return nil, fmt.Errorf("sim: tick t=%.3f: %w", tick.T, err)
		}
		for next < len(drive.Vision) && drive.Vision[next].ArrivedAt <= tick.T {
			v := drive.Vision[next]
			if err := est.addVision(v.Pose, v.Timestamp); err != nil {
				return nil, fmt.Errorf("sim: vision at t=%.3f: %w", v.Timestamp, err)
			}
			res.VisionApplied++
			next++
		}

		estimate := est.position()
		tracker.Record(tick.Truth, estimate)
		res.Samples = append(res.Samples, Sample{T: tick.T, Truth: tick.Truth, Estimate: estimate})
	}

	res.Summary = tracker.Summary()
	return res, nil
}

// driver adapts one drivetrain's estimator to the tick format.
type driver struct {
	filter    config.FilterKind
	update    func(Tick) error
	addVision func(geometry.Pose2d, float64) error
	position  func() geometry.Pose2d
}

func newDriver(drive *Drive, opts poseestimator.Options) (*driver, error) {
	wheels, err := newWheelModel(drive.Drivetrain)
	if err != nil {
		return nil, err
	}
	gyro := geometry.FromRadians(drive.StartGyro)
	n := wheels.count()
	check := func(t Tick) error {
		if len(t.WheelSpeeds) != n || len(t.WheelPositions) != n {
			return fmt.Errorf("%d wheel speeds and %d positions, want %d: %w",
				len(t.WheelSpeeds), len(t.WheelPositions), n, kinematics.ErrModuleCount)
		}
		return nil
	}

	switch drive.Drivetrain {
	case Differential:
		est, err := poseestimator.NewDifferentialDrivePoseEstimator(wheels.differential, gyro, 0, 0, drive.Start, opts)
		if err != nil {
			return nil, err
		}
		return &driver{
			filter: est.FilterKind(),
			update: func(t Tick) error {
				if err := check(t); err != nil {
					return err
				}
				_, err := est.UpdateWithTime(t.T, geometry.FromRadians(t.Gyro),
					kinematics.DifferentialDriveWheelSpeeds{Left: t.WheelSpeeds[0], Right: t.WheelSpeeds[1]},
					t.WheelPositions[0], t.WheelPositions[1])
				return err
			},
			addVision: est.AddVisionMeasurement,
			position:  est.EstimatedPosition,
		}, nil

	case Mecanum:
		est, err := poseestimator.NewMecanumDrivePoseEstimator(wheels.mecanum, gyro,
			kinematics.MecanumDriveWheelPositions{}, drive.Start, opts)
		if err != nil {
			return nil, err
		}
		return &driver{
			filter: est.FilterKind(),
			update: func(t Tick) error {
				if err := check(t); err != nil {
					return err
				}
				s, p := t.WheelSpeeds, t.WheelPositions
				_, err := est.UpdateWithTime(t.T, geometry.FromRadians(t.Gyro),
					kinematics.MecanumDriveWheelSpeeds{FrontLeft: s[0], FrontRight: s[1], RearLeft: s[2], RearRight: s[3]},
					kinematics.MecanumDriveWheelPositions{FrontLeft: p[0], FrontRight: p[1], RearLeft: p[2], RearRight: p[3]})
				return err
			},
			addVision: est.AddVisionMeasurement,
			position:  est.EstimatedPosition,
		}, nil

	case Swerve:
		est, err := poseestimator.NewSwerveDrivePoseEstimator(wheels.swerve, gyro,
			make([]kinematics.SwerveModulePosition, n), drive.Start, opts)
		if err != nil {
			return nil, err
		}
		return &driver{
			filter: est.FilterKind(),
			update: func(t Tick) error {
				if err := check(t); err != nil {
					return err
				}
				if len(t.ModuleAngles) != n {
					return fmt.Errorf("%d module angles, want %d: %w", len(t.ModuleAngles), n, kinematics.ErrModuleCount)
				}
				states := make([]kinematics.SwerveModuleState, n)
				positions := make([]kinematics.SwerveModulePosition, n)
				for i := 0; i < n; i++ {
					angle := geometry.FromRadians(t.ModuleAngles[i])
					states[i] = kinematics.SwerveModuleState{Speed: t.WheelSpeeds[i], Angle: angle}
					positions[i] = kinematics.SwerveModulePosition{Distance: t.WheelPositions[i], Angle: angle}
				}
				_, err := est.UpdateWithTime(t.T, geometry.FromRadians(t.Gyro), states, positions)
				return err
			},
			addVision: est.AddVisionMeasurement,
			position:  est.EstimatedPosition,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDrivetrain, drive.Drivetrain)
}

// Compare runs drive once per filter kind, overriding opts.Filter each time.
// An empty kind keeps the drivetrain default.
func Compare(ctx context.Context, drive *Drive, opts poseestimator.Options, kinds []config.FilterKind) ([]*Result, error) {
	out := make([]*Result, 0, len(kinds))
	for _, kind := range kinds {
		o := opts
		o.Filter = kind
		res, err := Run(ctx, drive, o)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", kind, err)
		}
		res.Summary.Log(fmt.Sprintf("%s/%s", drive.Drivetrain, res.Filter))
		out = append(out, res)
	}
	return out, nil
}
