// Package system holds the plant models the estimators integrate: a constant
// coefficient linear system, a fourth-order Runge–Kutta integrator for
// nonlinear dynamics, and finite-difference Jacobians.
package system

import (
	"fmt"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
)

// JacobianStep is the perturbation used for every dimension of a numerical
// Jacobian.
const JacobianStep = 1e-5

// Model is a nonlinear function of state and input. It is used both for
// dynamics (ẋ = f(x, u)) and measurements (y = h(x, u)). Implementations must
// not retain or modify their arguments.
type Model func(x, u *mat.VecDense) *mat.VecDense

// LinearSystem is the continuous-time plant ẋ = Ax + Bu, y = Cx + Du.
type LinearSystem struct {
	A *mat.Dense
	B *mat.Dense
	C *mat.Dense
	D *mat.Dense
}

// NewLinearSystem validates the shapes of the four plant matrices.
func NewLinearSystem(a, b, c, d *mat.Dense) (*LinearSystem, error) {
	n, ac := a.Dims()
	if n != ac {
		return nil, fmt.Errorf("linear system: A is %dx%d: %w", n, ac, linalg.ErrDimensionMismatch)
	}
	br, m := b.Dims()
	if br != n {
		return nil, fmt.Errorf("linear system: B has %d rows, want %d: %w", br, n, linalg.ErrDimensionMismatch)
	}
	p, cc := c.Dims()
	if cc != n {
		return nil, fmt.Errorf("linear system: C has %d columns, want %d: %w", cc, n, linalg.ErrDimensionMismatch)
	}
	dr, dc := d.Dims()
	if dr != p || dc != m {
		return nil, fmt.Errorf("linear system: D is %dx%d, want %dx%d: %w", dr, dc, p, m, linalg.ErrDimensionMismatch)
	}
	return &LinearSystem{A: a, B: b, C: c, D: d}, nil
}

// States returns the state dimension.
func (s *LinearSystem) States() int {
	n, _ := s.A.Dims()
	return n
}

// Inputs returns the input dimension.
func (s *LinearSystem) Inputs() int {
	_, m := s.B.Dims()
	return m
}

// Outputs returns the output dimension.
func (s *LinearSystem) Outputs() int {
	p, _ := s.C.Dims()
	return p
}

// CalculateX advances x by dt with u held constant (zero-order hold).
func (s *LinearSystem) CalculateX(x, u *mat.VecDense, dt float64) (*mat.VecDense, error) {
	if err := linalg.CheckLen("linear system: x", x, s.States()); err != nil {
		return nil, err
	}
	if err := linalg.CheckLen("linear system: u", u, s.Inputs()); err != nil {
		return nil, err
	}
	discA, discB, err := linalg.DiscretizeAB(s.A, s.B, dt)
	if err != nil {
		return nil, err
	}
	var ax, bu mat.VecDense
	ax.MulVec(discA, x)
	bu.MulVec(discB, u)
	ax.AddVec(&ax, &bu)
	return &ax, nil
}

// CalculateY returns Cx + Du.
func (s *LinearSystem) CalculateY(x, u *mat.VecDense) *mat.VecDense {
	var cx, du mat.VecDense
	cx.MulVec(s.C, x)
	du.MulVec(s.D, u)
	cx.AddVec(&cx, &du)
	return &cx
}

// IdentifyDrivetrainSystem returns the plant of a differential drivetrain
// from its feedforward gains. The state and output are the left and right
// wheel velocities in m/s; the input is the left and right voltage. kVLinear
// and kALinear are in V/(m/s) and V/(m/s²) for straight-line motion;
// kVAngular and kAAngular are the same gains measured while turning in place.
func IdentifyDrivetrainSystem(kVLinear, kALinear, kVAngular, kAAngular float64) (*LinearSystem, error) {
	for name, v := range map[string]float64{
		"kV linear":  kVLinear,
		"kA linear":  kALinear,
		"kV angular": kVAngular,
		"kA angular": kAAngular,
	} {
		if v <= 0 {
			return nil, fmt.Errorf("drivetrain system: %s must be positive, got %v", name, v)
		}
	}

	linear, angular := kVLinear/kALinear, kVAngular/kAAngular
	a1 := -0.5 * (linear + angular)
	a2 := -0.5 * (linear - angular)
	b1 := 0.5 * (1/kALinear + 1/kAAngular)
	b2 := 0.5 * (1/kALinear - 1/kAAngular)

	return NewLinearSystem(
		mat.NewDense(2, 2, []float64{a1, a2, a2, a1}),
		mat.NewDense(2, 2, []float64{b1, b2, b2, b1}),
		linalg.Identity(2),
		linalg.Zeros(2, 2),
	)
}

// RK4 integrates ẋ = f(x, u) over dt with a single fourth-order Runge–Kutta
// step, holding u constant.
func RK4(f Model, x, u *mat.VecDense, dt float64) *mat.VecDense {
	halfDt := 0.5 * dt

	k1 := f(x, u)

	var x2 mat.VecDense
	x2.AddScaledVec(x, halfDt, k1)
	k2 := f(&x2, u)

	var x3 mat.VecDense
	x3.AddScaledVec(x, halfDt, k2)
	k3 := f(&x3, u)

	var x4 mat.VecDense
	x4.AddScaledVec(x, dt, k3)
	k4 := f(&x4, u)

	// x + dt/6 (k1 + 2k2 + 2k3 + k4)
	var sum mat.VecDense
	sum.AddScaledVec(k1, 2, k2)
	sum.AddScaledVec(&sum, 2, k3)
	sum.AddVec(&sum, k4)

	var out mat.VecDense
	out.AddScaledVec(x, dt/6, &sum)
	return &out
}

var jacobianSettings = &fd.JacobianSettings{
	Formula: fd.Central,
	Step:    JacobianStep,
}

// NumericalJacobianX returns the rows×len(x) Jacobian of f with respect to x,
// evaluated at (x, u) with central differences.
func NumericalJacobianX(rows int, f Model, x, u *mat.VecDense) *mat.Dense {
	n := x.Len()
	jac := mat.NewDense(rows, n, nil)
	fd.Jacobian(jac, func(y, xs []float64) {
		copyOutput(y, f(mat.NewVecDense(n, xs), u))
	}, rawCopy(x), jacobianSettings)
	return jac
}

// NumericalJacobianU returns the rows×len(u) Jacobian of f with respect to u,
// evaluated at (x, u) with central differences.
func NumericalJacobianU(rows int, f Model, x, u *mat.VecDense) *mat.Dense {
	m := u.Len()
	jac := mat.NewDense(rows, m, nil)
	fd.Jacobian(jac, func(y, us []float64) {
		copyOutput(y, f(x, mat.NewVecDense(m, us)))
	}, rawCopy(u), jacobianSettings)
	return jac
}

func rawCopy(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func copyOutput(dst []float64, v *mat.VecDense) {
	if v.Len() != len(dst) {
		panic(fmt.Sprintf("system: model returned %d outputs, Jacobian expects %d", v.Len(), len(dst)))
	}
	for i := range dst {
		dst[i] = v.AtVec(i)
	}
}
