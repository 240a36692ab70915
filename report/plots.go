// Package report renders the experiment artifacts: loss and score curves,
// and a per-class sample grid of spectrogram images.
package report

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// MedianFilter returns the running median of x with a centered window,
// reflecting at the boundaries. It tames the per-iteration loss series
// enough to read a trend off a log-scale plot.
func MedianFilter(x []float64, window int) []float64 {
	if window <= 1 || len(x) == 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	n := len(x)
	out := make([]float64, n)
	buf := make([]float64, window)
	for i := range x {
		for k := 0; k < window; k++ {
			buf[k] = x[reflectIndex(i+k-window/2, n)]
		}
		sort.Float64s(buf)
		// Rank window/2 for every width, so even windows take the upper of
		// the two central order statistics.
		out[i] = buf[window/2]
	}
	return out
}

// reflectIndex maps an out-of-range index back into [0, n) by mirroring at
// the edges, matching the usual reflect boundary of image filters.
func reflectIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// SaveLossPlot writes the per-iteration training loss to path as a
// log-scale line plot, median-filtered with the given window.
//
// Arguments:
//   - path: Output image path; the extension picks the format.
//   - loss: Per-iteration loss values.
//   - window: Median filter window; 100 matches the experiment default.
//
// Returns:
//   - error: An error if there is nothing to plot or saving fails.
func SaveLossPlot(path string, loss []float64, window int) error {
	if len(loss) == 0 {
		return errors.New("no loss values to plot")
	}

	filtered := MedianFilter(loss, window)
	xys := make(plotter.XYs, len(filtered))
	for i, v := range filtered {
		xys[i].X = float64(i)
		xys[i].Y = v
	}

	p := plot.New()
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "loss"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	if err := plotutil.AddLines(p, "loss", xys); err != nil {
		return errors.Wrap(err, "adding loss series")
	}
	return errors.Wrapf(p.Save(10*vg.Inch, 6*vg.Inch, path), "saving %s", path)
}

// SaveScorePlot writes one line per series (keyed by name, typically
// "train" and "test") with the given axis labels. Series are drawn in
// sorted key order so output is deterministic.
func SaveScorePlot(path string, series map[string][]float64, xlabel, ylabel string) error {
	if len(series) == 0 {
		return errors.New("no series to plot")
	}

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	p := plot.New()
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel

	args := make([]interface{}, 0, 2*len(names))
	for _, name := range names {
		vals := series[name]
		xys := make(plotter.XYs, len(vals))
		for i, v := range vals {
			xys[i].X = float64(i)
			xys[i].Y = v
		}
		args = append(args, name, xys)
	}

	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return errors.Wrap(err, "adding score series")
	}
	p.Legend.Top = true
	return errors.Wrapf(p.Save(10*vg.Inch, 6*vg.Inch, path), "saving %s", path)
}
