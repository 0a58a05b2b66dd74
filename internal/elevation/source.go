// Package elevation resolves heights above the WGS84 ellipsoid for tie
// points, either as a constant or by sampling a DEM corrected by a geoid grid.
package elevation

import "context"

// Source resolves a height above the ellipsoid in metres for a ground point.
type Source interface {
	HeightAboveEllipsoid(ctx context.Context, lon, lat float64) (float64, error)
}

// Constant returns the same height everywhere.
type Constant struct {
	Height float64
}

// HeightAboveEllipsoid implements Source.
func (c Constant) HeightAboveEllipsoid(ctx context.Context, _, _ float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Height, nil
}
