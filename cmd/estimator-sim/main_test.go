package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/pose.estimator/internal/replaylog"
	"github.com/banshee-data/pose.estimator/internal/report"
)

func TestRunRecordsAndReports(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "replay.db")
	outDir := filepath.Join(dir, "report")

	err := run(context.Background(), options{
		drivetrain: "swerve",
		filters:    "kf,ukf",
		duration:   1,
		seed:       3,
		slip:       0.02,
		dbPath:     dbPath,
		note:       "unit test",
		outDir:     outDir,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, name := range []string{report.TrajectoryFile, report.ErrorFile, report.HTMLFile} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("expected %s to be written: %v", name, err)
		}
	}

	store, err := replaylog.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen replay log: %v", err)
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Note != "unit test" {
		t.Errorf("expected note %q, got %q", "unit test", sessions[0].Note)
	}

	runs, err := store.Runs(context.Background(), sessions[0].ID)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 || runs[0].Filter != "kf" || runs[1].Filter != "ukf" {
		t.Errorf("expected kf and ukf runs, got %+v", runs)
	}
}

func TestRunWithoutOutputs(t *testing.T) {
	err := run(context.Background(), options{drivetrain: "differential", duration: 0.5, seed: 1, noVision: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		opts options
	}{
		{name: "unknown drivetrain", opts: options{drivetrain: "tank", duration: 1}},
		{name: "unknown filter", opts: options{drivetrain: "mecanum", filters: "particle", duration: 1}},
		{name: "missing config", opts: options{drivetrain: "mecanum", configPath: "missing.json", duration: 1}},
		{name: "bad duration", opts: options{drivetrain: "mecanum", duration: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(context.Background(), tt.opts); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, options{drivetrain: "mecanum", duration: 1, seed: 1}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
