package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/geometry"
)

// SwerveModuleState is the velocity of one swerve module.
type SwerveModuleState struct {
	Speed float64 // m/s
	Angle geometry.Rotation2d
}

// SwerveModulePosition is the distance driven and heading of one module.
type SwerveModulePosition struct {
	Distance float64 // m
	Angle    geometry.Rotation2d
}

// SwerveDriveKinematics describes a drivetrain of independently steered
// modules.
type SwerveDriveKinematics struct {
	modules []geometry.Translation2d
	fk      forwardKinematics
}

// NewSwerveDriveKinematics builds the kinematics for modules at the given
// positions relative to the robot centre. At least two modules are required.
func NewSwerveDriveKinematics(modules ...geometry.Translation2d) (*SwerveDriveKinematics, error) {
	if len(modules) < 2 {
		return nil, fmt.Errorf("swerve kinematics: %d modules, need at least 2: %w", len(modules), ErrModuleCount)
	}
	inverse := mat.NewDense(2*len(modules), 3, nil)
	for i, m := range modules {
		inverse.SetRow(2*i, []float64{1, 0, -m.Y})
		inverse.SetRow(2*i+1, []float64{0, 1, m.X})
	}
	fk, err := newForwardKinematics(inverse)
	if err != nil {
		return nil, err
	}
	return &SwerveDriveKinematics{
		modules: append([]geometry.Translation2d(nil), modules...),
		fk:      fk,
	}, nil
}

// NumModules returns the number of modules.
func (k *SwerveDriveKinematics) NumModules() int { return len(k.modules) }

// ToChassisSpeeds returns the least-squares chassis velocity for the module
// states, given in construction order.
func (k *SwerveDriveKinematics) ToChassisSpeeds(states ...SwerveModuleState) (ChassisSpeeds, error) {
	if len(states) != len(k.modules) {
		return ChassisSpeeds{}, fmt.Errorf("swerve kinematics: %d states for %d modules: %w",
			len(states), len(k.modules), ErrModuleCount)
	}
	wheels := make([]float64, 0, 2*len(states))
	for _, s := range states {
		wheels = append(wheels, s.Speed*s.Angle.Cos(), s.Speed*s.Angle.Sin())
	}
	return k.fk.toChassis(wheels), nil
}

// ToModuleStates returns the module states that produce s.
func (k *SwerveDriveKinematics) ToModuleStates(s ChassisSpeeds) []SwerveModuleState {
	w := k.fk.toWheels(s)
	out := make([]SwerveModuleState, len(k.modules))
	for i := range out {
		vx, vy := w[2*i], w[2*i+1]
		out[i] = SwerveModuleState{Speed: math.Hypot(vx, vy), Angle: geometry.FromComponents(vx, vy)}
	}
	return out
}
