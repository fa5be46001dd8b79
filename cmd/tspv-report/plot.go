package main

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tspv.relay/internal/db"
)

var errNoTimedSamples = errors.New("no timed samples to plot")

// writePlot saves a present value over epoch chart of samples to path, one
// line per status pair. The image format follows the file extension.
func writePlot(path string, samples []db.StoredSample) error {
	series := db.SeriesByStatus(samples)
	if len(series) == 0 {
		return errNoTimedSamples
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("TSPV present values (%d samples)", len(samples))
	p.X.Label.Text = "Epoch (s)"
	p.Y.Label.Text = "Present value"

	for i, s := range series {
		pts := make(plotter.XYs, 0, len(s.Points))
		for _, pt := range s.Points {
			pts = append(pts, plotter.XY{X: float64(pt.Epoch), Y: pt.Value})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to create line for %s: %w", s.Label(), err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.Label(), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
