// Package kinematics converts wheel sensor readings to chassis velocities for
// differential, mecanum and swerve drivetrains.
package kinematics

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/geometry"
)

// ErrModuleCount is returned when a swerve call is given the wrong number of
// module readings.
var ErrModuleCount = errors.New("module count mismatch")

// ChassisSpeeds is the robot-relative velocity of the chassis.
type ChassisSpeeds struct {
	Vx    float64 // m/s, forward
	Vy    float64 // m/s, left
	Omega float64 // rad/s, counter-clockwise
}

// FieldRelative rotates the linear components of s into the field frame for
// a robot facing heading.
func (s ChassisSpeeds) FieldRelative(heading geometry.Rotation2d) ChassisSpeeds {
	v := geometry.Translation2d{X: s.Vx, Y: s.Vy}.RotateBy(heading)
	return ChassisSpeeds{Vx: v.X, Vy: v.Y, Omega: s.Omega}
}

// forwardKinematics maps wheel readings to chassis speeds with the
// least-squares inverse of an inverse-kinematics matrix.
type forwardKinematics struct {
	inverse *mat.Dense
	forward *mat.Dense
}

func newForwardKinematics(inverse *mat.Dense) (forwardKinematics, error) {
	rows, _ := inverse.Dims()
	var forward mat.Dense
	if err := forward.Solve(inverse, identity(rows)); err != nil {
		return forwardKinematics{}, fmt.Errorf("kinematics: wheel layout is degenerate: %w", err)
	}
	return forwardKinematics{inverse: inverse, forward: &forward}, nil
}

func (k forwardKinematics) toChassis(wheels []float64) ChassisSpeeds {
	var v mat.VecDense
	v.MulVec(k.forward, mat.NewVecDense(len(wheels), wheels))
	return ChassisSpeeds{Vx: v.AtVec(0), Vy: v.AtVec(1), Omega: v.AtVec(2)}
}

func (k forwardKinematics) toWheels(s ChassisSpeeds) []float64 {
	rows, _ := k.inverse.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(k.inverse, mat.NewVecDense(3, []float64{s.Vx, s.Vy, s.Omega}))
	return out.RawVector().Data
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
