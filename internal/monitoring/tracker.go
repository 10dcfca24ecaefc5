package monitoring

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pose.estimator/internal/geometry"
)

// PoseErrorTracker accumulates the error between ground-truth and estimated
// poses. It is safe for concurrent use.
type PoseErrorTracker struct {
	mu          sync.Mutex
	translation []float64
	heading     []float64
}

// NewPoseErrorTracker returns an empty tracker.
func NewPoseErrorTracker() *PoseErrorTracker {
	return &PoseErrorTracker{}
}

// Record adds one truth/estimate pair.
func (t *PoseErrorTracker) Record(truth, estimate geometry.Pose2d) {
	dist := truth.Translation.Distance(estimate.Translation)
	dTheta := math.Abs(truth.Rotation.Minus(estimate.Rotation).Radians())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.translation = append(t.translation, dist)
	t.heading = append(t.heading, dTheta)
}

// Reset drops all recorded samples.
func (t *PoseErrorTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.translation = nil
	t.heading = nil
}

// PoseErrorSummary holds aggregate error statistics.
type PoseErrorSummary struct {
	Samples            int
	TranslationRMSE    float64 // metres
	TranslationMean    float64 // metres
	TranslationMax     float64 // metres
	TranslationStdDev  float64 // metres
	HeadingRMSE        float64 // radians
	HeadingMax         float64 // radians
	FinalTranslation   float64 // metres
	FinalHeadingRadian float64
}

// Summary computes statistics over the recorded samples.
func (t *PoseErrorTracker) Summary() PoseErrorSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.translation)
	if n == 0 {
		return PoseErrorSummary{}
	}

	s := PoseErrorSummary{
		Samples:            n,
		TranslationRMSE:    rms(t.translation),
		TranslationMax:     floats.Max(t.translation),
		HeadingRMSE:        rms(t.heading),
		HeadingMax:         floats.Max(t.heading),
		FinalTranslation:   t.translation[n-1],
		FinalHeadingRadian: t.heading[n-1],
	}
	s.TranslationMean, s.TranslationStdDev = stat.MeanStdDev(t.translation, nil)
	if n == 1 {
		s.TranslationStdDev = 0
	}
	return s
}

// Log writes the summary through Logf.
func (s PoseErrorSummary) Log(label string) {
	Logf("%s: samples=%d translation rmse=%.4fm max=%.4fm final=%.4fm heading rmse=%.4frad max=%.4frad",
		label, s.Samples, s.TranslationRMSE, s.TranslationMax, s.FinalTranslation, s.HeadingRMSE, s.HeadingMax)
}

func rms(v []float64) float64 {
	return math.Sqrt(floats.Dot(v, v) / float64(len(v)))
}
