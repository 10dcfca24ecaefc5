package poseestimator

import (
	"fmt"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/timeutil"
)

// StateStdDevs are the continuous process noise standard deviations of the
// pose states and of every wheel distance state.
type StateStdDevs struct {
	X, Y  float64 // m
	Theta float64 // rad
	Wheel float64 // m
}

// LocalStdDevs are the noise standard deviations of the gyro heading and
// wheel encoder distances.
type LocalStdDevs struct {
	Theta float64 // rad
	Wheel float64 // m
}

// VisionStdDevs are the noise standard deviations of a global pose
// measurement.
type VisionStdDevs struct {
	X, Y  float64 // m
	Theta float64 // rad
}

// Options tune a pose estimator.
type Options struct {
	// NominalDt is the control loop period in seconds.
	NominalDt float64
	// SnapshotCapacity bounds the replay history. Zero selects the
	// estimator package default.
	SnapshotCapacity int
	// Filter selects the estimator variant. Empty selects the drivetrain's
	// default.
	Filter config.FilterKind

	State  StateStdDevs
	Local  LocalStdDevs
	Vision VisionStdDevs

	// Clock stamps Update calls. Nil selects the wall clock.
	Clock timeutil.Clock
}

// DefaultOptions returns the options of an empty configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.EmptyEstimatorConfig())
}

// OptionsFromConfig converts a loaded configuration into Options.
func OptionsFromConfig(cfg *config.EstimatorConfig) Options {
	return Options{
		NominalDt:        cfg.GetNominalDt().Seconds(),
		SnapshotCapacity: cfg.GetSnapshotCapacity(),
		Filter:           cfg.GetFilter(),
		State: StateStdDevs{
			X:     cfg.GetStateStdX(),
			Y:     cfg.GetStateStdY(),
			Theta: cfg.GetStateStdTheta(),
			Wheel: cfg.GetStateStdWheel(),
		},
		Local: LocalStdDevs{
			Theta: cfg.GetLocalStdTheta(),
			Wheel: cfg.GetLocalStdWheel(),
		},
		Vision: VisionStdDevs{
			X:     cfg.GetVisionStdX(),
			Y:     cfg.GetVisionStdY(),
			Theta: cfg.GetVisionStdTheta(),
		},
	}
}

func (o Options) validate() error {
	if o.NominalDt <= 0 {
		return fmt.Errorf("nominal dt must be positive, got %v", o.NominalDt)
	}
	if o.SnapshotCapacity < 0 {
		return fmt.Errorf("snapshot capacity must not be negative, got %d", o.SnapshotCapacity)
	}
	switch o.Filter {
	case "", config.FilterKF, config.FilterEKF, config.FilterUKF:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFilter, o.Filter)
	}
	for name, v := range map[string]float64{
		"state x":      o.State.X,
		"state y":      o.State.Y,
		"state theta":  o.State.Theta,
		"state wheel":  o.State.Wheel,
		"local theta":  o.Local.Theta,
		"local wheel":  o.Local.Wheel,
		"vision x":     o.Vision.X,
		"vision y":     o.Vision.Y,
		"vision theta": o.Vision.Theta,
	} {
		if v <= 0 {
			return fmt.Errorf("%s std dev must be positive, got %v", name, v)
		}
	}
	return nil
}

func (v VisionStdDevs) validate() error {
	if v.X <= 0 || v.Y <= 0 || v.Theta <= 0 {
		return fmt.Errorf("vision std devs must be positive, got %+v", v)
	}
	return nil
}
