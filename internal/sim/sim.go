// Package sim generates synthetic drives with noisy odometry and delayed
// vision, and runs them through the pose estimators.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/kinematics"
)

// Drivetrain names a drivetrain topology.
type Drivetrain string

const (
	Differential Drivetrain = "differential"
	Mecanum      Drivetrain = "mecanum"
	Swerve       Drivetrain = "swerve"
)

// ErrUnknownDrivetrain is returned for a drivetrain other than
// differential, mecanum or swerve.
var ErrUnknownDrivetrain = errors.New("unknown drivetrain")

// ParseDrivetrain validates a drivetrain name.
func ParseDrivetrain(s string) (Drivetrain, error) {
	switch d := Drivetrain(s); d {
	case Differential, Mecanum, Swerve:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDrivetrain, s)
}

// Robot geometry shared by every generated drive.
const (
	TrackWidth   = 0.6 // m
	moduleOffset = 0.3 // m from centre along each axis
)

// WheelLayout returns the wheel or module positions relative to the robot
// centre: front-left, front-right, rear-left, rear-right.
func WheelLayout() []geometry.Translation2d {
	return []geometry.Translation2d{
		{X: moduleOffset, Y: moduleOffset},
		{X: moduleOffset, Y: -moduleOffset},
		{X: -moduleOffset, Y: moduleOffset},
		{X: -moduleOffset, Y: -moduleOffset},
	}
}

// Tick is one control cycle of sensor readings.
type Tick struct {
	T    float64 // s
	Gyro float64 // rad, includes the gyro's mounting offset
	// WheelSpeeds and WheelPositions are per wheel (differential: left,
	// right) or per module, in m/s and m.
	WheelSpeeds    []float64
	WheelPositions []float64
	// ModuleAngles holds swerve module headings in radians; nil otherwise.
	ModuleAngles []float64
	Truth        geometry.Pose2d
}

// VisionMeasurement is a global pose captured at Timestamp and delivered
// after the tick at ArrivedAt.
type VisionMeasurement struct {
	Timestamp float64
	ArrivedAt float64
	Pose      geometry.Pose2d
}

// Drive is a complete generated or recorded run.
type Drive struct {
	Drivetrain Drivetrain
	Start      geometry.Pose2d
	// StartGyro is the gyro reading at Start.
	StartGyro float64
	Ticks     []Tick
	Vision    []VisionMeasurement
}

// Config describes a synthetic drive.
type Config struct {
	Drivetrain Drivetrain
	Duration   float64 // s
	Dt         float64 // s
	Start      geometry.Pose2d

	// GyroOffset is added to every gyro reading.
	GyroOffset float64 // rad
	GyroNoise  float64 // rad
	// Slip scales every odometry reading by 1+Slip.
	Slip         float64
	EncoderNoise float64 // m
	SpeedNoise   float64 // m/s

	// VisionEvery delivers a vision measurement every n ticks; zero disables
	// vision.
	VisionEvery        int
	VisionLatencyTicks int
	VisionNoise        float64 // m
	VisionHeadingNoise float64 // rad

	Seed uint64
}

// DefaultConfig returns a ten second drive at 50 Hz with modest noise.
func DefaultConfig(d Drivetrain) Config {
	return Config{
		Drivetrain:         d,
		Duration:           10,
		Dt:                 0.02,
		GyroOffset:         0.7,
		GyroNoise:          0.002,
		Slip:               0.02,
		EncoderNoise:       0.002,
		SpeedNoise:         0.01,
		VisionEvery:        5,
		VisionLatencyTicks: 5,
		VisionNoise:        0.05,
		VisionHeadingNoise: 0.01,
		Seed:               1,
	}
}

func (c Config) validate() error {
	if _, err := ParseDrivetrain(string(c.Drivetrain)); err != nil {
		return err
	}
	if c.Dt <= 0 || c.Duration <= 0 {
		return fmt.Errorf("duration %v and dt %v must be positive", c.Duration, c.Dt)
	}
	if c.VisionEvery < 0 || c.VisionLatencyTicks < 0 {
		return fmt.Errorf("vision cadence %d and latency %d must not be negative", c.VisionEvery, c.VisionLatencyTicks)
	}
	return nil
}

// Command returns the robot-relative chassis speeds commanded at time t. A
// differential drive cannot strafe, so its Vy is zero.
func Command(d Drivetrain, t float64) kinematics.ChassisSpeeds {
	s := kinematics.ChassisSpeeds{
		Vx:    1.0 + 0.3*math.Sin(0.4*t),
		Omega: 0.5 * math.Sin(0.3*t),
	}
	if d != Differential {
		s.Vy = 0.4 * math.Sin(0.25*t)
	}
	return s
}

// noise returns an independent zero-mean Gaussian stream per sensor.
func noise(seed, stream uint64, sigma float64) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, stream)}
}

// Generate produces a deterministic drive for cfg.
func Generate(cfg Config) (*Drive, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	wheels, err := newWheelModel(cfg.Drivetrain)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	gyroNoise := noise(cfg.Seed, 1, cfg.GyroNoise)
	encNoise := noise(cfg.Seed, 2, cfg.EncoderNoise)
	speedNoise := noise(cfg.Seed, 3, cfg.SpeedNoise)
	visionNoise := noise(cfg.Seed, 4, cfg.VisionNoise)
	headingNoise := noise(cfg.Seed, 5, cfg.VisionHeadingNoise)

	n := int(math.Round(cfg.Duration / cfg.Dt))
	drive := &Drive{
		Drivetrain: cfg.Drivetrain,
		Start:      cfg.Start,
		StartGyro:  cfg.Start.Rotation.Radians() + cfg.GyroOffset,
		Ticks:      make([]Tick, 0, n),
	}

	truth := cfg.Start
	distances := make([]float64, wheels.count())
	scale := 1 + cfg.Slip
	for k := 1; k <= n; k++ {
		t := float64(k) * cfg.Dt
		cmd := Command(cfg.Drivetrain, t)
		truth = truth.Exp(geometry.Twist2d{Dx: cmd.Vx * cfg.Dt, Dy: cmd.Vy * cfg.Dt, Dtheta: cmd.Omega * cfg.Dt})

		speeds, angles := wheels.toWheels(cmd)
		tick := Tick{
			T:              t,
			Gyro:           math.Remainder(truth.Rotation.Radians()+cfg.GyroOffset+gyroNoise.Rand(), 2*math.Pi),
			WheelSpeeds:    make([]float64, len(speeds)),
			WheelPositions: make([]float64, len(speeds)),
			ModuleAngles:   angles,
			Truth:          truth,
		}
		for i, v := range speeds {
			distances[i] += v * cfg.Dt
			tick.WheelSpeeds[i] = v*scale + speedNoise.Rand()
			tick.WheelPositions[i] = distances[i]*scale + encNoise.Rand()
		}
		drive.Ticks = append(drive.Ticks, tick)

		if cfg.VisionEvery > 0 && k%cfg.VisionEvery == 0 && k > cfg.VisionLatencyTicks {
			seen := drive.Ticks[k-1-cfg.VisionLatencyTicks]
			drive.Vision = append(drive.Vision, VisionMeasurement{
				Timestamp: seen.T,
				ArrivedAt: t,
				Pose: geometry.NewPose2d(
					seen.Truth.X()+visionNoise.Rand(),
					seen.Truth.Y()+visionNoise.Rand(),
					seen.Truth.Rotation.Plus(geometry.FromRadians(headingNoise.Rand())),
				),
			})
		}
	}
	return drive, nil
}

// wheelModel converts chassis speeds to per-wheel readings.
type wheelModel struct {
	differential kinematics.DifferentialDriveKinematics
	mecanum      *kinematics.MecanumDriveKinematics
	swerve       *kinematics.SwerveDriveKinematics
}

func newWheelModel(d Drivetrain) (wheelModel, error) {
	switch d {
	case Differential:
		return wheelModel{differential: kinematics.DifferentialDriveKinematics{TrackWidth: TrackWidth}}, nil
	case Mecanum:
		l := WheelLayout()
		k, err := kinematics.NewMecanumDriveKinematics(l[0], l[1], l[2], l[3])
		return wheelModel{mecanum: k}, err
	case Swerve:
		k, err := kinematics.NewSwerveDriveKinematics(WheelLayout()...)
		return wheelModel{swerve: k}, err
	}
	return wheelModel{}, fmt.Errorf("%w: %q", ErrUnknownDrivetrain, d)
}

func (w wheelModel) count() int {
	switch {
	case w.mecanum != nil:
		return 4
	case w.swerve != nil:
		return w.swerve.NumModules()
	}
	return 2
}

func (w wheelModel) toWheels(s kinematics.ChassisSpeeds) (speeds, angles []float64) {
	switch {
	case w.mecanum != nil:
		return w.mecanum.ToWheelSpeeds(s).Slice(), nil
	case w.swerve != nil:
		states := w.swerve.ToModuleStates(s)
		speeds = make([]float64, len(states))
		angles = make([]float64, len(states))
		for i, st := range states {
			speeds[i] = st.Speed
			angles[i] = st.Angle.Radians()
		}
		return speeds, angles
	}
	ws := w.differential.ToWheelSpeeds(s)
	return []float64{ws.Left, ws.Right}, nil
}
