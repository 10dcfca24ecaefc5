// Package report renders estimator runs as PNG plots and an interactive
// HTML page.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pose.estimator/internal/fsutil"
	"github.com/banshee-data/pose.estimator/internal/sim"
)

// File names written by Writer.Write.
const (
	TrajectoryFile = "trajectory.png"
	ErrorFile      = "error.png"
	HTMLFile       = "report.html"
)

// maxChartPoints caps the points per HTML series.
const maxChartPoints = 1000

var (
	// ErrNoRuns is returned when there is nothing to plot.
	ErrNoRuns = errors.New("report: no runs")
	// ErrEmptyRun is returned for a run without samples.
	ErrEmptyRun = errors.New("report: run has no samples")
)

// Run is one labelled estimator pass. Every run in a report is assumed to
// share the same ground truth.
type Run struct {
	Label  string
	Result *sim.Result
}

// Writer writes reports into Dir.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
	// Title heads the HTML page and the plots.
	Title string
}

// NewWriter returns a Writer on the real filesystem.
func NewWriter(dir, title string) *Writer {
	return &Writer{FS: fsutil.OSFileSystem{}, Dir: dir, Title: title}
}

// Write renders runs and returns the paths written.
func (w *Writer) Write(runs []Run) ([]string, error) {
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	for _, r := range runs {
		if r.Result == nil || len(r.Result.Samples) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyRun, r.Label)
		}
	}
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create %s: %w", w.Dir, err)
	}

	var written []string

	traj, err := w.trajectoryPlot(runs)
	if err != nil {
		return nil, err
	}
	path, err := w.savePNG(traj, TrajectoryFile, 8*vg.Inch, 8*vg.Inch)
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	errPlot, err := w.errorPlot(runs)
	if err != nil {
		return nil, err
	}
	path, err = w.savePNG(errPlot, ErrorFile, 14*vg.Inch, 6*vg.Inch)
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	var buf bytes.Buffer
	if err := w.renderHTML(&buf, runs); err != nil {
		return nil, err
	}
	path = filepath.Join(w.Dir, HTMLFile)
	if err := w.FS.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("report: write %s: %w", path, err)
	}
	written = append(written, path)

	return written, nil
}

func (w *Writer) savePNG(p *plot.Plot, name string, width, height vg.Length) (string, error) {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return "", fmt.Errorf("report: render %s: %w", name, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("report: render %s: %w", name, err)
	}
	path := filepath.Join(w.Dir, name)
	if err := w.FS.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) trajectoryPlot(runs []Run) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = w.Title + " - Trajectory"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	truth := make(plotter.XYs, 0, len(runs[0].Result.Samples))
	for _, s := range runs[0].Result.Samples {
		truth = append(truth, plotter.XY{X: s.Truth.X(), Y: s.Truth.Y()})
	}
	truthLine, err := plotter.NewLine(truth)
	if err != nil {
		return nil, err
	}
	truthLine.Width = vg.Points(1.5)
	truthLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(truthLine)
	p.Legend.Add("truth", truthLine)

	for i, r := range runs {
		pts := make(plotter.XYs, 0, len(r.Result.Samples))
		for _, s := range r.Result.Samples {
			pts = append(pts, plotter.XY{X: s.Estimate.X(), Y: s.Estimate.Y()})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(r.Label, line)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

func (w *Writer) errorPlot(runs []Run) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = w.Title + " - Translation Error"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Error (m)"
	p.Add(plotter.NewGrid())

	for i, r := range runs {
		pts := make(plotter.XYs, 0, len(r.Result.Samples))
		for _, s := range r.Result.Samples {
			pts = append(pts, plotter.XY{X: s.T, Y: translationError(s)})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (rmse %.3f)", r.Label, r.Result.Summary.TranslationRMSE), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func (w *Writer) renderHTML(buf *bytes.Buffer, runs []Run) error {
	samples := runs[0].Result.Samples
	stride := 1
	if len(samples) > maxChartPoints {
		stride = (len(samples) + maxChartPoints - 1) / maxChartPoints
	}

	traj := charts.NewScatter()
	traj.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: w.Title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory", Subtitle: w.Title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	truth := make([]opts.ScatterData, 0, len(samples)/stride+1)
	for i := 0; i < len(samples); i += stride {
		truth = append(truth, opts.ScatterData{Value: []interface{}{samples[i].Truth.X(), samples[i].Truth.Y()}})
	}
	traj.AddSeries("truth", truth, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	for _, r := range runs {
		data := make([]opts.ScatterData, 0, len(r.Result.Samples)/stride+1)
		for i := 0; i < len(r.Result.Samples); i += stride {
			s := r.Result.Samples[i]
			data = append(data, opts.ScatterData{Value: []interface{}{s.Estimate.X(), s.Estimate.Y()}})
		}
		traj.AddSeries(r.Label, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}

	errs := charts.NewLine()
	errs.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Error", Subtitle: "translation (m) and heading (rad)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)"}),
	)
	for _, r := range runs {
		trans := make([]opts.LineData, 0, len(r.Result.Samples)/stride+1)
		heading := make([]opts.LineData, 0, len(r.Result.Samples)/stride+1)
		for i := 0; i < len(r.Result.Samples); i += stride {
			s := r.Result.Samples[i]
			trans = append(trans, opts.LineData{Value: []interface{}{s.T, translationError(s)}})
			heading = append(heading, opts.LineData{Value: []interface{}{s.T, headingError(s)}})
		}
		errs.AddSeries(r.Label+" translation", trans, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		errs.AddSeries(r.Label+" heading", heading, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	summary := charts.NewBar()
	summary.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Translation RMSE (m)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	labels := make([]string, 0, len(runs))
	rmse := make([]opts.BarData, 0, len(runs))
	for _, r := range runs {
		labels = append(labels, r.Label)
		rmse = append(rmse, opts.BarData{Value: r.Result.Summary.TranslationRMSE})
	}
	summary.SetXAxis(labels).
		AddSeries("rmse", rmse, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.AddCharts(traj, errs, summary)
	if err := page.Render(buf); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

func translationError(s sim.Sample) float64 {
	return s.Truth.Translation.Distance(s.Estimate.Translation)
}

func headingError(s sim.Sample) float64 {
	return math.Abs(s.Truth.Rotation.Minus(s.Estimate.Rotation).Radians())
}
