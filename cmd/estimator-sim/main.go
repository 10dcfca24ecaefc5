// Command estimator-sim generates a synthetic drive, runs it through one or
// more pose estimators and reports how far each estimate strays from the
// ground truth.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/pose.estimator/internal/config"
	"github.com/banshee-data/pose.estimator/internal/monitoring"
	"github.com/banshee-data/pose.estimator/internal/poseestimator"
	"github.com/banshee-data/pose.estimator/internal/replaylog"
	"github.com/banshee-data/pose.estimator/internal/report"
	"github.com/banshee-data/pose.estimator/internal/sim"
	"github.com/banshee-data/pose.estimator/internal/version"
)

var (
	drivetrainName = flag.String("drivetrain", "mecanum", "drivetrain to simulate: differential, mecanum or swerve")
	filters        = flag.String("filter", "", "comma separated filters to compare (kf, ekf, ukf); empty uses the drivetrain default")
	configPath     = flag.String("config", "", "estimator tuning JSON; built-in defaults when empty")
	duration       = flag.Float64("duration", 10, "drive length in seconds")
	seed           = flag.Uint64("seed", 1, "sensor noise seed")
	slip           = flag.Float64("slip", 0.02, "fractional odometry slip")
	noVision       = flag.Bool("no-vision", false, "disable vision measurements")
	dbPath         = flag.String("db", "", "record the drive and its runs into this replay log")
	note           = flag.String("note", "", "note stored with the recorded session")
	outDir         = flag.String("out", "", "write plots and an HTML report into this directory")
	verbose        = flag.Bool("verbose", false, "log estimator diagnostics to stderr")
	showVersion    = flag.Bool("version", false, "print version and exit")
)

type options struct {
	drivetrain string
	filters    string
	configPath string
	duration   float64
	seed       uint64
	slip       float64
	noVision   bool
	dbPath     string
	note       string
	outDir     string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("estimator-sim"))
		return
	}
	if *verbose {
		poseestimator.SetLogWriters(os.Stderr, os.Stderr, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		drivetrain: *drivetrainName,
		filters:    *filters,
		configPath: *configPath,
		duration:   *duration,
		seed:       *seed,
		slip:       *slip,
		noVision:   *noVision,
		dbPath:     *dbPath,
		note:       *note,
		outDir:     *outDir,
	})
	if err != nil {
		log.Fatalf("estimator-sim: %v", err)
	}
}

func run(ctx context.Context, o options) error {
	d, err := sim.ParseDrivetrain(o.drivetrain)
	if err != nil {
		return err
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

	simCfg := sim.DefaultConfig(d)
	simCfg.Duration = o.duration
	simCfg.Seed = o.seed
	simCfg.Slip = o.slip
	if o.noVision {
		simCfg.VisionEvery = 0
	}
	drive, err := sim.Generate(simCfg)
	if err != nil {
		return err
	}
	monitoring.Logf("generated %s drive: %d ticks, %d vision measurements", d, len(drive.Ticks), len(drive.Vision))

	results, err := sim.Compare(ctx, drive, poseestimator.OptionsFromConfig(cfg), kinds)
	if err != nil {
		return err
	}

	if o.dbPath != "" {
		store, err := replaylog.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		sessionID, err := store.SaveDrive(ctx, drive, o.note)
		if err != nil {
			return err
		}
		for _, res := range results {
			if _, err := store.SaveRun(ctx, sessionID, "sim", string(res.Filter), res); err != nil {
				return err
			}
		}
		fmt.Printf("session %s\n", sessionID)
	}

	if o.outDir != "" {
		runs := make([]report.Run, 0, len(results))
		for _, res := range results {
			runs = append(runs, report.Run{Label: string(res.Filter), Result: res})
		}
		title := fmt.Sprintf("%s drive, seed %d", d, o.seed)
		written, err := report.NewWriter(o.outDir, title).Write(runs)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Printf("wrote %s\n", path)
		}
	}

	printSummaries(results)
	return nil
}

func printSummaries(results []*sim.Result) {
	fmt.Printf("%-6s %10s %10s %10s %12s %8s\n", "filter", "rmse (m)", "max (m)", "final (m)", "heading (rad)", "vision")
	for _, res := range results {
		s := res.Summary
		fmt.Printf("%-6s %10.4f %10.4f %10.4f %12.4f %8d\n",
			res.Filter, s.TranslationRMSE, s.TranslationMax, s.FinalTranslation, s.HeadingRMSE, res.VisionApplied)
	}
}
