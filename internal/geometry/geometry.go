// Package geometry provides the planar pose types the estimators convert
// their state vectors to and from.
package geometry

import (
	"fmt"
	"math"
)

// Rotation2d is a planar rotation. Radians is kept unwrapped; Cos and Sin
// are cached. The zero value is the identity rotation.
type Rotation2d struct {
	radians float64
	cos     float64
	sin     float64
}

// FromRadians returns the rotation by angle radians.
func FromRadians(angle float64) Rotation2d {
	return Rotation2d{radians: angle, cos: math.Cos(angle), sin: math.Sin(angle)}
}

// FromDegrees returns the rotation by angle degrees.
func FromDegrees(angle float64) Rotation2d {
	return FromRadians(angle * math.Pi / 180)
}

// FromComponents returns the rotation pointing along (x, y). A zero vector
// yields the identity rotation.
func FromComponents(x, y float64) Rotation2d {
	hyp := math.Hypot(x, y)
	if hyp < 1e-9 {
		return FromRadians(0)
	}
	return Rotation2d{radians: math.Atan2(y, x), cos: x / hyp, sin: y / hyp}
}

// components returns the cached cosine and sine. A valid rotation never has
// both at zero, so that pair marks the zero value.
func (r Rotation2d) components() (float64, float64) {
	if r.cos == 0 && r.sin == 0 {
		return math.Cos(r.radians), math.Sin(r.radians)
	}
	return r.cos, r.sin
}

// Radians returns the angle in radians.
func (r Rotation2d) Radians() float64 { return r.radians }

// Degrees returns the angle in degrees.
func (r Rotation2d) Degrees() float64 { return r.radians * 180 / math.Pi }

// Cos returns the cosine of the angle.
func (r Rotation2d) Cos() float64 {
	c, _ := r.components()
	return c
}

// Sin returns the sine of the angle.
func (r Rotation2d) Sin() float64 {
	_, s := r.components()
	return s
}

// Plus composes two rotations.
func (r Rotation2d) Plus(other Rotation2d) Rotation2d {
	return r.RotateBy(other)
}

// Minus returns the rotation from other to r, wrapped into (−π, π].
func (r Rotation2d) Minus(other Rotation2d) Rotation2d {
	return r.RotateBy(other.Inverse())
}

// Inverse returns the opposite rotation.
func (r Rotation2d) Inverse() Rotation2d {
	c, s := r.components()
	return Rotation2d{radians: -r.radians, cos: c, sin: -s}
}

// RotateBy applies other on top of r. The result's angle is recovered from
// the composed cosine and sine, so it lies in (−π, π].
func (r Rotation2d) RotateBy(other Rotation2d) Rotation2d {
	c1, s1 := r.components()
	c2, s2 := other.components()
	return FromComponents(c1*c2-s1*s2, c1*s2+s1*c2)
}

func (r Rotation2d) String() string {
	return fmt.Sprintf("Rotation2d(%.4f rad)", r.radians)
}

// Translation2d is a planar displacement.
type Translation2d struct {
	X float64
	Y float64
}

// Norm returns the distance from the origin.
func (t Translation2d) Norm() float64 { return math.Hypot(t.X, t.Y) }

// Distance returns the distance to other.
func (t Translation2d) Distance(other Translation2d) float64 {
	return math.Hypot(other.X-t.X, other.Y-t.Y)
}

// Plus adds two translations.
func (t Translation2d) Plus(other Translation2d) Translation2d {
	return Translation2d{X: t.X + other.X, Y: t.Y + other.Y}
}

// Minus subtracts other from t.
func (t Translation2d) Minus(other Translation2d) Translation2d {
	return Translation2d{X: t.X - other.X, Y: t.Y - other.Y}
}

// Times scales t.
func (t Translation2d) Times(s float64) Translation2d {
	return Translation2d{X: t.X * s, Y: t.Y * s}
}

// RotateBy rotates t about the origin.
func (t Translation2d) RotateBy(r Rotation2d) Translation2d {
	c, s := r.components()
	return Translation2d{
		X: t.X*c - t.Y*s,
		Y: t.X*s + t.Y*c,
	}
}

// Angle returns the direction of t.
func (t Translation2d) Angle() Rotation2d { return FromComponents(t.X, t.Y) }

// Twist2d is a change in pose along an arc, expressed in the robot frame.
type Twist2d struct {
	Dx     float64
	Dy     float64
	Dtheta float64
}

// Transform2d maps one pose to another in the first pose's frame.
type Transform2d struct {
	Translation Translation2d
	Rotation    Rotation2d
}

// Inverse returns the transform that undoes t.
func (t Transform2d) Inverse() Transform2d {
	inv := t.Rotation.Inverse()
	return Transform2d{
		Translation: t.Translation.Times(-1).RotateBy(inv),
		Rotation:    inv,
	}
}

// Pose2d is a planar position and heading.
type Pose2d struct {
	Translation Translation2d
	Rotation    Rotation2d
}

// NewPose2d builds a pose from its components.
func NewPose2d(x, y float64, heading Rotation2d) Pose2d {
	return Pose2d{Translation: Translation2d{X: x, Y: y}, Rotation: heading}
}

// X returns the x coordinate.
func (p Pose2d) X() float64 { return p.Translation.X }

// Y returns the y coordinate.
func (p Pose2d) Y() float64 { return p.Translation.Y }

// TransformBy applies t in p's frame.
func (p Pose2d) TransformBy(t Transform2d) Pose2d {
	return Pose2d{
		Translation: p.Translation.Plus(t.Translation.RotateBy(p.Rotation)),
		Rotation:    p.Rotation.RotateBy(t.Rotation),
	}
}

// Minus returns the transform that maps other onto p.
func (p Pose2d) Minus(other Pose2d) Transform2d {
	rel := p.RelativeTo(other)
	return Transform2d{Translation: rel.Translation, Rotation: rel.Rotation}
}

// RelativeTo expresses p in other's frame.
func (p Pose2d) RelativeTo(other Pose2d) Pose2d {
	inv := other.Rotation.Inverse()
	return Pose2d{
		Translation: p.Translation.Minus(other.Translation).RotateBy(inv),
		Rotation:    p.Rotation.Minus(other.Rotation),
	}
}

// Exp integrates twist from p along a constant-curvature arc.
func (p Pose2d) Exp(twist Twist2d) Pose2d {
	sinTheta := math.Sin(twist.Dtheta)
	cosTheta := math.Cos(twist.Dtheta)

	var s, c float64
	if math.Abs(twist.Dtheta) < 1e-9 {
		s = 1 - twist.Dtheta*twist.Dtheta/6
		c = 0.5 * twist.Dtheta
	} else {
		s = sinTheta / twist.Dtheta
		c = (1 - cosTheta) / twist.Dtheta
	}

	return p.TransformBy(Transform2d{
		Translation: Translation2d{
			X: twist.Dx*s - twist.Dy*c,
			Y: twist.Dx*c + twist.Dy*s,
		},
		Rotation: FromComponents(cosTheta, sinTheta),
	})
}

// Log returns the twist that Exp maps from p to end.
func (p Pose2d) Log(end Pose2d) Twist2d {
	rel := end.RelativeTo(p)
	dtheta := rel.Rotation.Radians()
	halfDtheta := dtheta / 2
	cosMinusOne := rel.Rotation.Cos() - 1

	var halfThetaByTanOfHalfDtheta float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfThetaByTanOfHalfDtheta = 1 - dtheta*dtheta/12
	} else {
		halfThetaByTanOfHalfDtheta = -(halfDtheta * rel.Rotation.Sin()) / cosMinusOne
	}

	translation := rel.Translation.RotateBy(FromComponents(halfThetaByTanOfHalfDtheta, -halfDtheta)).
		Times(math.Hypot(halfThetaByTanOfHalfDtheta, halfDtheta))
	return Twist2d{Dx: translation.X, Dy: translation.Y, Dtheta: dtheta}
}

func (p Pose2d) String() string {
	return fmt.Sprintf("Pose2d(%.4f, %.4f, %.4f rad)", p.Translation.X, p.Translation.Y, p.Rotation.Radians())
}
