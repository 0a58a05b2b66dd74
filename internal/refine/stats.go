package refine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/geomrefine/internal/geodesy"
	"github.com/banshee-data/geomrefine/internal/geom"
	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/tiepoint"
)

// PointError is the geolocation error of one tie point under a model.
// X is the east error and Y the north error of the estimate relative to the
// reference, Global the great-circle distance between them, all in metres.
type PointError struct {
	Line      int     `json:"line,omitempty"`
	Row       float64 `json:"row"`
	Col       float64 `json:"col"`
	RefLon    float64 `json:"ref_lon"`
	RefLat    float64 `json:"ref_lat"`
	Elevation float64 `json:"elevation"`
	EstLon    float64 `json:"est_lon"`
	EstLat    float64 `json:"est_lat"`
	X         float64 `json:"x_err"`
	Y         float64 `json:"y_err"`
	Global    float64 `json:"global_err"`
	// Err is set when the model could not project the point; such points are
	// left out of the aggregates.
	Err string `json:"error,omitempty"`
}

// AxisStats summarises one error component.
type AxisStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	RMSE   float64 `json:"rmse"`
}

// Stats holds per-point errors and their aggregates.
type Stats struct {
	Points []PointError `json:"points"`
	Count  int          `json:"count"`
	Failed int          `json:"failed"`
	X      AxisStats    `json:"x"`
	Y      AxisStats    `json:"y"`
	Global AxisStats    `json:"global"`
}

// ComputeStats projects every tie point through m at the matching height and
// measures the distance from the estimate to the reference ground position.
// Points the model cannot project are recorded with Err and excluded from
// the aggregates. If no point can be measured, ErrNoTiePoints is returned.
func ComputeStats(m geom.Model, points []tiepoint.TiePoint, heights []float64) (Stats, error) {
	if len(points) == 0 {
		return Stats{}, ErrNoTiePoints
	}
	if len(heights) != len(points) {
		return Stats{}, fmt.Errorf("have %d heights for %d tie points", len(heights), len(points))
	}

	s := Stats{Points: make([]PointError, len(points))}
	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	gs := make([]float64, 0, len(points))

	for i, tp := range points {
		pe := PointError{
			Line:      tp.Line,
			Row:       tp.Row,
			Col:       tp.Col,
			RefLon:    tp.Lon,
			RefLat:    tp.Lat,
			Elevation: heights[i],
		}
		lon, lat, err := m.ImageToGround(tp.Row, tp.Col, heights[i])
		if err != nil {
			pe.Err = err.Error()
			s.Points[i] = pe
			s.Failed++
			monitoring.Debugf("stats: tie point %d (%g, %g): %v", i, tp.Row, tp.Col, err)
			continue
		}
		pe.EstLon, pe.EstLat = lon, lat
		pe.X, pe.Y = geodesy.Offset(tp.Lon, tp.Lat, lon, lat)
		pe.Global = geodesy.Distance(tp.Lon, tp.Lat, lon, lat)
		s.Points[i] = pe

		xs = append(xs, pe.X)
		ys = append(ys, pe.Y)
		gs = append(gs, pe.Global)
	}

	s.Count = len(gs)
	if s.Count == 0 {
		return s, fmt.Errorf("%w: none of %d points could be projected", ErrNoTiePoints, len(points))
	}
	s.X = summarise(xs)
	s.Y = summarise(ys)
	s.Global = summarise(gs)
	return s, nil
}

// summarise computes the mean, population standard deviation and RMSE of a
// non-empty sample.
func summarise(v []float64) AxisStats {
	mean, std := stat.PopMeanStdDev(v, nil)
	return AxisStats{
		Mean:   mean,
		StdDev: std,
		RMSE:   floats.Norm(v, 2) / math.Sqrt(float64(len(v))),
	}
}
