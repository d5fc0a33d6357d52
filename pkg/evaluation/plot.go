// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"image/color"
	"math"

	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotForecast writes to filePath (the image format is taken from the extension, e.g. ".png") a fan chart of
// the forecast of one series: the history, the band between the lowQ and highQ quantiles of the samples, the
// median and, if not nil, the true future values.
func PlotForecast(filePath, title string, history, future []float32, forecast *deepar.Forecast, lowQ, highQ float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	start := len(history)
	band := make(plotter.XYs, 0, 2*forecast.Length())
	for step, v := range forecast.Quantile(lowQ) {
		band = append(band, plotter.XY{X: float64(start + step), Y: float64(v)})
	}
	high := forecast.Quantile(highQ)
	for step := len(high) - 1; step >= 0; step-- {
		band = append(band, plotter.XY{X: float64(start + step), Y: float64(high[step])})
	}
	polygon, err := plotter.NewPolygon(band)
	if err != nil {
		return errors.Wrap(err, "failed to plot quantiles band")
	}
	polygon.Color = color.RGBA{R: 20, G: 80, B: 200, A: 60}
	polygon.LineStyle.Width = 0
	p.Add(polygon)
	p.Legend.Add("quantiles band", polygon)

	lines := []struct {
		name   string
		offset int
		values []float32
		color  color.Color
	}{
		{"history", 0, history, color.RGBA{R: 80, G: 80, B: 80, A: 255}},
		{"median", start, forecast.Median(), color.RGBA{R: 20, G: 80, B: 200, A: 255}},
		{"true", start, future, color.RGBA{R: 200, G: 30, B: 30, A: 255}},
	}
	for _, l := range lines {
		if len(l.values) == 0 {
			continue
		}
		line, err := plotter.NewLine(toXYs(l.offset, l.values))
		if err != nil {
			return errors.Wrapf(err, "failed to plot %s", l.name)
		}
		line.Color = l.color
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	if err := p.Save(10*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}

// toXYs converts the values to points, with missing values (NaN) dropped.
func toXYs(offset int, values []float32) plotter.XYs {
	xys := make(plotter.XYs, 0, len(values))
	for ii, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(offset + ii), Y: float64(v)})
	}
	return xys
}
