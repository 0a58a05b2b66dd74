package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/geomrefine/internal/refine"
)

func scatterData(s refine.Stats) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Err != "" {
			continue
		}
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("line %d", p.Line),
			Value: []interface{}{p.X, p.Y, p.Global},
		})
	}
	return data
}

func rmseBars(s refine.Stats) []opts.BarData {
	return []opts.BarData{
		{Value: s.X.RMSE},
		{Value: s.Y.RMSE},
		{Value: s.Global.RMSE},
	}
}

// RenderHTML writes an interactive page with the residual scatter and the
// RMSE of both models.
func RenderHTML(w io.Writer, res *refine.Result) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sensor model refinement", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tie point residuals", Subtitle: fmt.Sprintf("model=%s points=%d", res.ModelType, res.Refined.Count)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "East (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "North (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("original", scatterData(res.Original), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("refined", scatterData(res.Refined), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "RMSE (m)", Subtitle: res.Optimizer.StopReason}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"x", "y", "global"}).
		AddSeries("original", rmseBars(res.Original)).
		AddSeries("refined", rmseBars(res.Refined),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(scatter, bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
