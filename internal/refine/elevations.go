package refine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/geomrefine/internal/elevation"
	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/tiepoint"
)

// ResolveElevations returns the height above the ellipsoid for each point.
// Lookups run on at most workers goroutines; the first failure cancels the
// rest.
func ResolveElevations(ctx context.Context, points []tiepoint.TiePoint, src elevation.Source, useTiePoint bool, workers int) ([]float64, error) {
	heights := make([]float64, len(points))
	if workers < 1 {
		workers = 1
	}

	if src == nil {
		for _, tp := range points {
			if !useTiePoint || !tp.HasElevation {
				return nil, fmt.Errorf("%w for tie point at line %d", ErrNoElevationSource, tp.Line)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range points {
		tp := points[i]
		if useTiePoint && tp.HasElevation {
			heights[i] = tp.Elevation
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := src.HeightAboveEllipsoid(gctx, tp.Lon, tp.Lat)
			if err != nil {
				return fmt.Errorf("elevation at (%g, %g): %w", tp.Lon, tp.Lat, err)
			}
			heights[i] = h
			monitoring.Debugf("tie point %d: h=%.3f", i, h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return heights, nil
}
