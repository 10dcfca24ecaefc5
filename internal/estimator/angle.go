package estimator

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MeanFunc computes the weighted mean of the columns of sigmas.
type MeanFunc func(sigmas *mat.Dense, wm *mat.VecDense) *mat.VecDense

// ResidualFunc returns a − b in the space the vectors live in.
type ResidualFunc func(a, b *mat.VecDense) *mat.VecDense

// AddFunc returns a + b in the space the vectors live in.
type AddFunc func(a, b *mat.VecDense) *mat.VecDense

// WeightedMean is the plain weighted column sum.
func WeightedMean(sigmas *mat.Dense, wm *mat.VecDense) *mat.VecDense {
	rows, _ := sigmas.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(sigmas, wm)
	return out
}

// Subtract is the plain vector difference.
func Subtract(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.SubVec(a, b)
	return out
}

// Add is the plain vector sum.
func Add(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddVec(a, b)
	return out
}

// AngleModulus wraps an angle into (−π, π].
func AngleModulus(angle float64) float64 {
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// AngleMean returns a MeanFunc that averages element angleIdx on the circle
// and every other element linearly.
func AngleMean(angleIdx int) MeanFunc {
	return func(sigmas *mat.Dense, wm *mat.VecDense) *mat.VecDense {
		out := WeightedMean(sigmas, wm)
		_, cols := sigmas.Dims()
		var sumSin, sumCos float64
		for i := 0; i < cols; i++ {
			theta := sigmas.At(angleIdx, i)
			sumSin += wm.AtVec(i) * math.Sin(theta)
			sumCos += wm.AtVec(i) * math.Cos(theta)
		}
		out.SetVec(angleIdx, math.Atan2(sumSin, sumCos))
		return out
	}
}

// AngleResidual returns a ResidualFunc whose element angleIdx is wrapped into
// (−π, π].
func AngleResidual(angleIdx int) ResidualFunc {
	return func(a, b *mat.VecDense) *mat.VecDense {
		out := Subtract(a, b)
		out.SetVec(angleIdx, AngleModulus(out.AtVec(angleIdx)))
		return out
	}
}

// AngleAdd returns an AddFunc whose element angleIdx is wrapped into (−π, π].
func AngleAdd(angleIdx int) AddFunc {
	return func(a, b *mat.VecDense) *mat.VecDense {
		out := Add(a, b)
		out.SetVec(angleIdx, AngleModulus(out.AtVec(angleIdx)))
		return out
	}
}
