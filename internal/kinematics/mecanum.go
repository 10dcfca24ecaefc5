package kinematics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/geometry"
)

// MecanumDriveWheelSpeeds are the four wheel velocities in m/s.
type MecanumDriveWheelSpeeds struct {
	FrontLeft  float64
	FrontRight float64
	RearLeft   float64
	RearRight  float64
}

// MecanumDriveWheelPositions are the four wheel distances in metres.
type MecanumDriveWheelPositions struct {
	FrontLeft  float64
	FrontRight float64
	RearLeft   float64
	RearRight  float64
}

// MecanumDriveKinematics describes a four-wheel mecanum drivetrain.
type MecanumDriveKinematics struct {
	fk forwardKinematics
}

// NewMecanumDriveKinematics builds the kinematics for wheels at the given
// positions relative to the robot centre.
func NewMecanumDriveKinematics(frontLeft, frontRight, rearLeft, rearRight geometry.Translation2d) (*MecanumDriveKinematics, error) {
	inverse := mat.NewDense(4, 3, []float64{
		1, -1, -(frontLeft.X + frontLeft.Y),
		1, 1, frontRight.X - frontRight.Y,
		1, 1, rearLeft.X - rearLeft.Y,
		1, -1, -(rearRight.X + rearRight.Y),
	})
	fk, err := newForwardKinematics(inverse)
	if err != nil {
		return nil, err
	}
	return &MecanumDriveKinematics{fk: fk}, nil
}

// ToChassisSpeeds returns the least-squares chassis velocity for w.
func (k *MecanumDriveKinematics) ToChassisSpeeds(w MecanumDriveWheelSpeeds) ChassisSpeeds {
	return k.fk.toChassis([]float64{w.FrontLeft, w.FrontRight, w.RearLeft, w.RearRight})
}

// ToWheelSpeeds returns the wheel speeds that produce s.
func (k *MecanumDriveKinematics) ToWheelSpeeds(s ChassisSpeeds) MecanumDriveWheelSpeeds {
	w := k.fk.toWheels(s)
	return MecanumDriveWheelSpeeds{FrontLeft: w[0], FrontRight: w[1], RearLeft: w[2], RearRight: w[3]}
}

// Slice returns the speeds in front-left, front-right, rear-left, rear-right
// order.
func (w MecanumDriveWheelSpeeds) Slice() []float64 {
	return []float64{w.FrontLeft, w.FrontRight, w.RearLeft, w.RearRight}
}

// Slice returns the positions in front-left, front-right, rear-left,
// rear-right order.
func (p MecanumDriveWheelPositions) Slice() []float64 {
	return []float64{p.FrontLeft, p.FrontRight, p.RearLeft, p.RearRight}
}
