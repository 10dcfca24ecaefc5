package replaylog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/poseestimator"
	"github.com/banshee-data/pose.estimator/internal/sim"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func shortDrive(t *testing.T, d sim.Drivetrain) *sim.Drive {
	t.Helper()
	cfg := sim.DefaultConfig(d)
	cfg.Duration = 1
	drive, err := sim.Generate(cfg)
	require.NoError(t, err)
	return drive
}

func assertPoseNear(t *testing.T, want, got geometry.Pose2d) {
	t.Helper()
	assert.Equal(t, want.X(), got.X())
	assert.Equal(t, want.Y(), got.Y())
	assert.InDelta(t, want.Rotation.Radians(), got.Rotation.Radians(), 1e-12)
}

func TestOpenAppliesPragmas(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	var journalMode string
	require.NoError(t, s.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, s.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, s.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous, "NORMAL")

	var tempStore int
	require.NoError(t, s.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore, "MEMORY")

	var foreignKeys int
	require.NoError(t, s.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "replay.db")

	s, err := Open(path)
	require.NoError(t, err)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'runs'`).Scan(&n))
	assert.Zero(t, n, "runs table dropped")
	require.NoError(t, s.Close())

	// Reopening migrates back up; a second MigrateUp is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.MigrateUp())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestDriveRoundTrip(t *testing.T) {
	t.Parallel()

	for _, d := range []sim.Drivetrain{sim.Differential, sim.Mecanum, sim.Swerve} {
		t.Run(string(d), func(t *testing.T) {
			t.Parallel()
			s := openTestStore(t)
			ctx := context.Background()
			drive := shortDrive(t, d)

			id, err := s.SaveDrive(ctx, drive, "bench "+string(d))
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := s.LoadDrive(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, drive.Drivetrain, got.Drivetrain)
			assert.Equal(t, drive.StartGyro, got.StartGyro)
			assertPoseNear(t, drive.Start, got.Start)

			require.Len(t, got.Ticks, len(drive.Ticks))
			for i := range drive.Ticks {
				want, have := drive.Ticks[i], got.Ticks[i]
				assert.Equal(t, want.T, have.T)
				assert.Equal(t, want.Gyro, have.Gyro)
				assert.Equal(t, want.WheelSpeeds, have.WheelSpeeds)
				assert.Equal(t, want.WheelPositions, have.WheelPositions)
				assert.Equal(t, want.ModuleAngles, have.ModuleAngles)
				assertPoseNear(t, want.Truth, have.Truth)
			}

			require.Len(t, got.Vision, len(drive.Vision))
			for i := range drive.Vision {
				assert.Equal(t, drive.Vision[i].Timestamp, got.Vision[i].Timestamp)
				assert.Equal(t, drive.Vision[i].ArrivedAt, got.Vision[i].ArrivedAt)
				assertPoseNear(t, drive.Vision[i].Pose, got.Vision[i].Pose)
			}
		})
	}
}

func TestReplayedDriveMatchesOriginal(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	drive := shortDrive(t, sim.Swerve)

	id, err := s.SaveDrive(ctx, drive, "")
	require.NoError(t, err)
	loaded, err := s.LoadDrive(ctx, id)
	require.NoError(t, err)

	want, err := sim.Run(ctx, drive, poseestimator.DefaultOptions())
	require.NoError(t, err)
	got, err := sim.Run(ctx, loaded, poseestimator.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, want.VisionApplied, got.VisionApplied)
	assert.InDelta(t, want.Summary.TranslationRMSE, got.Summary.TranslationRMSE, 1e-9)
}

func TestLoadDriveNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.LoadDrive(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListAndDeleteSessions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	drive := shortDrive(t, sim.Mecanum)
	first, err := s.SaveDrive(ctx, drive, "first")
	require.NoError(t, err)
	second, err := s.SaveDrive(ctx, drive, "second")
	require.NoError(t, err)

	sessions, err = s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID, "newest first")
	assert.Equal(t, "second", sessions[0].Note)
	assert.Equal(t, sim.Mecanum, sessions[1].Drivetrain)
	assert.Equal(t, len(drive.Ticks), sessions[1].Ticks)
	assert.Equal(t, len(drive.Vision), sessions[1].Vision)
	assert.False(t, sessions[1].CreatedAt.IsZero())

	require.NoError(t, s.DeleteSession(ctx, first))
	assert.ErrorIs(t, s.DeleteSession(ctx, first), ErrSessionNotFound)

	var ticks int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM ticks WHERE session_id = ?`, first).Scan(&ticks))
	assert.Zero(t, ticks, "ticks cascade with the session")
}

func TestRuns(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	drive := shortDrive(t, sim.Differential)

	sessionID, err := s.SaveDrive(ctx, drive, "")
	require.NoError(t, err)

	res, err := sim.Run(ctx, drive, poseestimator.DefaultOptions())
	require.NoError(t, err)

	runID, err := s.SaveRun(ctx, sessionID, "baseline", "ukf", res)
	require.NoError(t, err)

	runs, err := s.Runs(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "baseline", runs[0].Label)
	assert.Equal(t, "ukf", runs[0].Filter)
	assert.Equal(t, res.Summary.TranslationRMSE, runs[0].TranslationRMSE)
	assert.Equal(t, res.VisionApplied, runs[0].VisionApplied)

	estimates, err := s.Estimates(ctx, runID)
	require.NoError(t, err)
	require.Len(t, estimates, len(res.Samples))
	for i, smp := range res.Samples {
		assertPoseNear(t, smp.Estimate, estimates[i])
	}

	_, err = s.SaveRun(ctx, "missing", "orphan", "ukf", res)
	assert.Error(t, err, "foreign key rejects unknown session")
}
