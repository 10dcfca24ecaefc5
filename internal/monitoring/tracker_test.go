package monitoring

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/pose.estimator/internal/geometry"
)

func TestPoseErrorTrackerEmpty(t *testing.T) {
	tr := NewPoseErrorTracker()
	assert.Equal(t, PoseErrorSummary{}, tr.Summary())
}

func TestPoseErrorTrackerSummary(t *testing.T) {
	tr := NewPoseErrorTracker()
	origin := geometry.Pose2d{}

	tr.Record(origin, geometry.NewPose2d(3, 4, geometry.FromRadians(0)))
	tr.Record(origin, geometry.NewPose2d(0, 0, geometry.FromRadians(0.2)))

	s := tr.Summary()
	assert.Equal(t, 2, s.Samples)
	assert.InDelta(t, math.Sqrt(25.0/2), s.TranslationRMSE, 1e-12)
	assert.InDelta(t, 2.5, s.TranslationMean, 1e-12)
	assert.InDelta(t, 5, s.TranslationMax, 1e-12)
	assert.InDelta(t, 0, s.FinalTranslation, 1e-12)
	assert.InDelta(t, 0.2, s.HeadingMax, 1e-12)
	assert.InDelta(t, 0.2, s.FinalHeadingRadian, 1e-12)
	assert.InDelta(t, math.Sqrt(0.04/2), s.HeadingRMSE, 1e-12)

	tr.Reset()
	assert.Equal(t, 0, tr.Summary().Samples)
}

func TestPoseErrorTrackerHeadingWraps(t *testing.T) {
	tr := NewPoseErrorTracker()
	tr.Record(
		geometry.NewPose2d(0, 0, geometry.FromRadians(math.Pi-0.01)),
		geometry.NewPose2d(0, 0, geometry.FromRadians(-math.Pi+0.01)),
	)
	assert.InDelta(t, 0.02, tr.Summary().HeadingMax, 1e-9)
}

func TestPoseErrorTrackerConcurrentRecord(t *testing.T) {
	tr := NewPoseErrorTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record(geometry.Pose2d{}, geometry.NewPose2d(1, 0, geometry.FromRadians(0)))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, tr.Summary().Samples)
}

func TestPoseErrorSummaryLog(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	PoseErrorSummary{Samples: 3, TranslationRMSE: 0.5}.Log("mecanum")
	assert.Contains(t, got, "mecanum: samples=3")
	assert.Contains(t, got, "rmse=0.5000m")
}
