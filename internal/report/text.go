// Package report renders refinement results as text, JSON, PNG residual
// plots and interactive HTML charts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/banshee-data/geomrefine/internal/refine"
	"github.com/banshee-data/geomrefine/internal/units"
)

const pointHeader = "ref_lon\tref_lat\televation\test_lon\test_lat\tx_err\ty_err\tglobal_err"

// WriteText writes the per-point errors of the original and refined models
// followed by their aggregate statistics. Ground errors are converted to
// unit (see package units); an empty unit means metres.
func WriteText(w io.Writer, res *refine.Result, unit string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	conv := func(m float64) float64 { return units.ConvertLength(m, unit) }

	writePoints := func(title string, s refine.Stats) {
		fmt.Fprintf(tw, "# %s model\n", title)
		fmt.Fprintf(tw, "# %s\n", pointHeader)
		for _, p := range s.Points {
			if p.Err != "" {
				fmt.Fprintf(tw, "# line %d (%g, %g): %s\n", p.Line, p.Row, p.Col, p.Err)
				continue
			}
			fmt.Fprintf(tw, "%.9f\t%.9f\t%.3f\t%.9f\t%.9f\t%.4f\t%.4f\t%.4f\n",
				p.RefLon, p.RefLat, p.Elevation, p.EstLon, p.EstLat, conv(p.X), conv(p.Y), conv(p.Global))
		}
		fmt.Fprintln(tw)
	}
	writePoints("original", res.Original)
	writePoints("refined", res.Refined)

	fmt.Fprintf(tw, "# statistics (%s)\n", units.Label(unit))
	fmt.Fprintln(tw, "model\tpoints\tmean_x\tmean_y\tmean_global\tstddev_x\tstddev_y\tstddev_global\trmse_x\trmse_y\trmse_global")
	for _, row := range []struct {
		name string
		s    refine.Stats
	}{{"original", res.Original}, {"refined", res.Refined}} {
		s := row.s
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
			row.name, s.Count,
			conv(s.X.Mean), conv(s.Y.Mean), conv(s.Global.Mean),
			conv(s.X.StdDev), conv(s.Y.StdDev), conv(s.Global.StdDev),
			conv(s.X.RMSE), conv(s.Y.RMSE), conv(s.Global.RMSE))
	}
	fmt.Fprintln(tw)

	opt := res.Optimizer
	fmt.Fprintf(tw, "# optimiser: %d iterations, rms %.6g px -> %.6g px, %s\n",
		opt.Iterations, opt.InitialRMS, opt.FinalRMS, opt.StopReason)
	for i, name := range res.ParamNames {
		fmt.Fprintf(tw, "%s\t%.12g\t->\t%.12g\n", name, res.ParamsBefore[i], res.ParamsAfter[i])
	}
	if res.SkippedTiePoints > 0 {
		fmt.Fprintf(tw, "# %d malformed tie point lines skipped\n", res.SkippedTiePoints)
	}
	return tw.Flush()
}

// WriteJSON writes res as indented JSON.
func WriteJSON(w io.Writer, res *refine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// Summary returns a one-line description of res for logs.
func Summary(res *refine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d points, global RMSE %.3f m -> %.3f m",
		res.ModelType, res.Refined.Count, res.Original.Global.RMSE, res.Refined.Global.RMSE)
	if !res.Optimizer.Converged {
		b.WriteString(" (not converged)")
	}
	return b.String()
}
