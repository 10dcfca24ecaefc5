// Command estimator-replay reruns a recorded session from the replay log with
// new tuning and stores the outcome next to earlier runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/poseestimator"
	"github.com/banshee-data/pose.estimator/internal/replaylog"
	"github.com/banshee-data/pose.estimator/internal/report"
	"github.com/banshee-data/pose.estimator/internal/sim"
	"github.com/banshee-data/pose.estimator/internal/version"
)

var (
	dbPath      = flag.String("db", "replay.db", "path to the replay log")
	list        = flag.Bool("list", false, "list recorded sessions and exit")
	sessionID   = flag.String("session", "", "session to replay")
	filters     = flag.String("filter", "", "comma separated filters to replay with (kf, ekf, ukf); empty uses the drivetrain default")
	configPath  = flag.String("config", "", "estimator tuning JSON; built-in defaults when empty")
	label       = flag.String("label", "replay", "label stored with each run")
	outDir      = flag.String("out", "", "write plots and an HTML report into this directory")
	verbose     = flag.Bool("verbose", false, "log estimator diagnostics to stderr")
	showVersion = flag.Bool("version", false, "print version and exit")
)

var errNoSession = errors.New("-session is required unless -list is given")

type options struct {
	dbPath     string
	list       bool
	sessionID  string
	filters    string
	configPath string
	label      string
	outDir     string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("estimator-replay"))
		return
	}
	if *verbose {
		poseestimator.SetLogWriters(os.Stderr, os.Stderr, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Stdout, options{
		dbPath:     *dbPath,
		list:       *list,
		sessionID:  *sessionID,
		filters:    *filters,
		configPath: *configPath,
		label:      *label,
		outDir:     *outDir,
	})
	if err != nil {
		log.Fatalf("estimator-replay: %v", err)
	}
}

func run(ctx context.Context, w io.Writer, o options) error {
	if !o.list && o.sessionID == "" {
		return errNoSession
	}

	store, err := replaylog.Open(o.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if o.list {
		return listSessions(ctx, w, store)
	}

	kinds, err := config.ParseFilterKinds(o.filters)
	if err != nil {
		return err
	}
	cfg := config.DefaultEstimatorConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadEstimatorConfig(o.configPath); err != nil {
			return err
		}
	}

	drive, err := store.LoadDrive(ctx, o.sessionID)
	if err != nil {
		return err
	}

	results, err := sim.Compare(ctx, drive, poseestimator.OptionsFromConfig(cfg), kinds)
	if err != nil {
		return err
	}
	for _, res := range results {
		if _, err := store.SaveRun(ctx, o.sessionID, o.label, string(res.Filter), res); err != nil {
			return err
		}
	}

	if o.outDir != "" {
		runs := make([]report.Run, 0, len(results))
		for _, res := range results {
			runs = append(runs, report.Run{Label: o.label + " " + string(res.Filter), Result: res})
		}
		title := fmt.Sprintf("%s session %s", drive.Drivetrain, o.sessionID)
		written, err := report.NewWriter(o.outDir, title).Write(runs)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintf(w, "wrote %s\n", path)
		}
	}

	return listRuns(ctx, w, store, o.sessionID)
}

func listSessions(ctx context.Context, w io.Writer, store *replaylog.Store) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions recorded")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %-12s %5d ticks %4d vision  %s  %s\n",
			s.ID, s.Drivetrain, s.Ticks, s.Vision, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Note)
	}
	return nil
}

func listRuns(ctx context.Context, w io.Writer, store *replaylog.Store, sessionID string) error {
	runs, err := store.Runs(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-12s %-6s %10s %10s %12s %8s\n", "label", "filter", "rmse (m)", "max (m)", "heading (rad)", "vision")
	for _, r := range runs {
		fmt.Fprintf(w, "%-12s %-6s %10.4f %10.4f %12.4f %8d\n",
			r.Label, r.Filter, r.TranslationRMSE, r.TranslationMax, r.HeadingRMSE, r.VisionApplied)
	}
	return nil
}
