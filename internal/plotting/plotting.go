// Package plotting renders model stages and fit results with gonum/plot. The
// output format follows the file extension (png, svg, pdf, eps, jpg, tif).
package plotting

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"dnfit/internal/model"
	"dnfit/internal/response"
)

const (
	defaultWidth  = 10 * vg.Inch
	defaultHeight = 5 * vg.Inch
)

// Size of a saved figure. Zero values use a 10x5 inch canvas.
type Size struct {
	Width, Height vg.Length
}

func (s Size) orDefault() Size {
	if s.Width <= 0 {
		s.Width = defaultWidth
	}
	if s.Height <= 0 {
		s.Height = defaultHeight
	}
	return s
}

// PlotStages draws the stimulus and every intermediate response of the
// pipeline, each scaled to a peak magnitude of 1, with the parameter values
// listed in the legend.
func PlotStages(path string, p *response.Pipeline, stim []float64, size Size) error {
	if p == nil {
		return errors.New("pipeline is required")
	}
	if len(stim) != p.NumTimepoints() {
		return fmt.Errorf("stimulus has %d timepoints, pipeline expects %d", len(stim), p.NumTimepoints())
	}
	stages := p.Stages(stim)
	t := p.Timepoints()

	plt := plot.New()
	plt.Title.Text = fmt.Sprintf("%s model stages", p.Params().Variant())
	plt.X.Label.Text = "time (s)"
	plt.Y.Label.Text = "normalized response"

	series := []struct {
		name string
		y    []float64
	}{
		{"stimulus", stages.Stimulus},
		{"linear", stages.Linear},
		{"rectified", stages.Rectified},
		{"exponentiated", stages.Exponentiated},
		{"normalized", stages.Normalized},
		{"delay normalized", stages.NormDelayed},
	}
	for i, s := range series {
		line, err := plotter.NewLine(xys(t, maxNormalized(s.y)))
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		plt.Add(line)
		plt.Legend.Add(s.name, line)
	}
	plt.Legend.Add(ParamsLabel(p.Params()))
	plt.Legend.Top = true
	plt.Add(plotter.NewGrid())

	size = size.orDefault()
	return plt.Save(size.Width, size.Height, path)
}

// PlotFit overlays observed responses (points) and model predictions (lines)
// for every batch sample.
func PlotFit(path string, observed, predicted mat.Matrix, sampleRate float64, title string, size Size) error {
	rows, cols := observed.Dims()
	if pr, pc := predicted.Dims(); pr != rows || pc != cols {
		return fmt.Errorf("predictions are %dx%d but observed responses are %dx%d", pr, pc, rows, cols)
	}
	if !(sampleRate > 0) {
		return fmt.Errorf("sample rate must be > 0 (got %g)", sampleRate)
	}
	t := make([]float64, cols)
	for i := range t {
		t[i] = float64(i) / sampleRate
	}

	plt := plot.New()
	plt.Title.Text = title
	plt.X.Label.Text = "time (s)"
	plt.Y.Label.Text = "response"
	for i := 0; i < rows; i++ {
		points, err := plotter.NewScatter(xys(t, mat.Row(nil, i, observed)))
		if err != nil {
			return fmt.Errorf("sample %d observed: %w", i, err)
		}
		points.Color = plotutil.Color(i)
		points.Radius = vg.Points(1.5)

		line, err := plotter.NewLine(xys(t, mat.Row(nil, i, predicted)))
		if err != nil {
			return fmt.Errorf("sample %d predicted: %w", i, err)
		}
		line.Color = plotutil.Color(i)

		plt.Add(points, line)
		plt.Legend.Add(fmt.Sprintf("sample %d", i), points, line)
	}
	plt.Legend.Top = true

	size = size.orDefault()
	return plt.Save(size.Width, size.Height, path)
}

// PlotCostHistory draws the best cost per solver iteration.
func PlotCostHistory(path string, history []float64, size Size) error {
	if len(history) == 0 {
		return errors.New("cost history is empty")
	}
	pts := make(plotter.XYs, len(history))
	for i, c := range history {
		pts[i].X = float64(i + 1)
		pts[i].Y = c
	}
	plt := plot.New()
	plt.Title.Text = "best cost"
	plt.X.Label.Text = "iteration"
	plt.Y.Label.Text = "sum of squared errors"
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	plt.Add(line, plotter.NewGrid())

	size = size.orDefault()
	return plt.Save(size.Width, size.Height, path)
}

// ParamsLabel formats parameter values rounded to two decimals in variant
// order.
func ParamsLabel(p model.Params) string {
	names := p.Variant().ParamNames()
	values := p.Vector()
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strconv.FormatFloat(values[i], 'f', 2, 64)
	}
	return strings.Join(parts, " ")
}

// maxNormalized scales y so its largest magnitude is 1. All-zero and
// non-finite series are returned unchanged.
func maxNormalized(y []float64) []float64 {
	out := append([]float64(nil), y...)
	peak := math.Max(math.Abs(floats.Max(out)), math.Abs(floats.Min(out)))
	if peak == 0 || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return out
	}
	floats.Scale(1/peak, out)
	return out
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}
