package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/measure"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// Plot size for median beat images.
const (
	PlotWidth  = 8 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

var fiducialColor = color.RGBA{R: 200, A: 255}

// MedianBeatPlot draws the median beat of l in mV against ms from the
// R-peak, with its TP baseline and detected fiducials marked.
func MedianBeatPlot(b measure.LeadBeat, l leads.Lead) (*plot.Plot, error) {
	tpl := b.Template
	if len(tpl.Samples) == 0 || tpl.SampleRate <= 0 {
		return nil, fmt.Errorf("lead %s: %w", l, ecg.ErrInsufficientData)
	}
	ms := func(i int) float64 { return tpl.Millis(i - tpl.R) }

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Lead %s median beat (%d beats)", l, tpl.Beats)
	p.X.Label.Text = "ms from R"
	p.Y.Label.Text = "mV"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(tpl.Samples))
	for i, v := range tpl.Samples {
		pts[i] = plotter.XY{X: ms(i), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1.5)
	p.Add(line)

	base, err := plotter.NewLine(plotter.XYs{
		{X: pts[0].X, Y: b.Baseline},
		{X: pts[len(pts)-1].X, Y: b.Baseline},
	})
	if err != nil {
		return nil, err
	}
	base.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	base.Color = color.Gray{Y: 128}
	p.Add(base)

	var marks plotter.XYs
	for _, f := range []optional.Value[int]{
		b.Points.POnset, b.Points.POffset, b.Points.QRSOnset,
		b.Points.QRSOffset, b.Points.TPeak, b.Points.TOffset,
	} {
		if i, ok := f.Get(); ok && i >= 0 && i < len(tpl.Samples) {
			marks = append(marks, plotter.XY{X: ms(i), Y: tpl.Samples[i]})
		}
	}
	if len(marks) > 0 {
		sc, err := plotter.NewScatter(marks)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = fiducialColor
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
	}
	return p, nil
}

// WriteMedianBeatPNG renders MedianBeatPlot as PNG to w.
func WriteMedianBeatPNG(w io.Writer, b measure.LeadBeat, l leads.Lead) error {
	p, err := MedianBeatPlot(b, l)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
