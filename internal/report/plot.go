package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/geomrefine/internal/refine"
)

var (
	originalColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	refinedColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
)

func residualXYs(s refine.Stats) plotter.XYs {
	pts := make(plotter.XYs, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Err != "" {
			continue
		}
		pts = append(pts, plotter.XY{X: p.X, Y: p.Y})
	}
	return pts
}

// residualPlot builds an east/north residual scatter of both models.
func residualPlot(res *refine.Result) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s residuals (RMSE %.2f m -> %.2f m)",
		res.ModelType, res.Original.Global.RMSE, res.Refined.Global.RMSE)
	p.X.Label.Text = "East error (m)"
	p.Y.Label.Text = "North error (m)"
	p.Add(plotter.NewGrid())

	series := []struct {
		name  string
		stats refine.Stats
		color color.Color
		shape draw.GlyphDrawer
	}{
		{"original", res.Original, originalColor, draw.CrossGlyph{}},
		{"refined", res.Refined, refinedColor, draw.CircleGlyph{}},
	}
	extent := 1.0
	for _, s := range series {
		pts := residualXYs(s.stats)
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("%s scatter: %w", s.name, err)
		}
		sc.GlyphStyle.Color = s.color
		sc.GlyphStyle.Shape = s.shape
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(s.name, sc)
		for _, xy := range pts {
			extent = math.Max(extent, math.Max(math.Abs(xy.X), math.Abs(xy.Y)))
		}
	}

	// Square, origin-centred axes so the residual clouds compare directly.
	extent *= 1.1
	p.X.Min, p.X.Max = -extent, extent
	p.Y.Min, p.Y.Max = -extent, extent

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// PlotResiduals saves the residual scatter to path. The format follows the
// file extension (png, svg, pdf...).
func PlotResiduals(path string, res *refine.Result) error {
	p, err := residualPlot(res)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save residual plot: %w", err)
	}
	return nil
}

// WriteResidualPlot writes the residual scatter to w in the given format
// ("png", "svg", "pdf"...).
func WriteResidualPlot(w io.Writer, res *refine.Result, format string) error {
	p, err := residualPlot(res)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
