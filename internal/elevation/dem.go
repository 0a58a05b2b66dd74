package elevation

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/tilecache"
)

// DEMSource samples a DEM of heights above mean sea level and adds the geoid
// undulation to obtain heights above the ellipsoid:
//
//	h = H_msl(lon, lat) + N(lon, lat)
//
// Outside the DEM, or on no-data cells, DefaultHeight stands in for H_msl.
// Without a geoid grid N is zero.
type DEMSource struct {
	DEM           *Raster
	Geoid         *Raster
	DefaultHeight float64
}

// OpenDEM opens the DEM and, when geoidPath is not empty, the geoid grid.
// Both files must exist.
func OpenDEM(demPath, geoidPath string, defaultHeight float64, cfg tilecache.Config) (*DEMSource, error) {
	if demPath == "" {
		return nil, errors.New("dem path is empty")
	}
	dem, err := OpenRaster(demPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("open dem: %w", err)
	}
	src := &DEMSource{DEM: dem, DefaultHeight: defaultHeight}
	if geoidPath != "" {
		geoid, err := OpenRaster(geoidPath, cfg)
		if err != nil {
			dem.Close()
			return nil, fmt.Errorf("open geoid: %w", err)
		}
		src.Geoid = geoid
	}
	monitoring.Logf("DEM %s: %dx%d cells of %g deg", demPath, dem.Header.NCols, dem.Header.NRows, dem.Header.CellSize)
	return src, nil
}

// OpenGeoid returns a DEMSource without a DEM: every point gets defaultHeight
// above mean sea level plus the geoid undulation.
func OpenGeoid(geoidPath string, defaultHeight float64, cfg tilecache.Config) (*DEMSource, error) {
	if geoidPath == "" {
		return nil, errors.New("geoid path is empty")
	}
	geoid, err := OpenRaster(geoidPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("open geoid: %w", err)
	}
	monitoring.Logf("geoid %s without DEM: default height %g above MSL", geoidPath, defaultHeight)
	return &DEMSource{Geoid: geoid, DefaultHeight: defaultHeight}, nil
}

// CacheStats sums the tile cache statistics of both grids.
func (s *DEMSource) CacheStats() tilecache.Stats {
	var st tilecache.Stats
	for _, r := range []*Raster{s.DEM, s.Geoid} {
		if r == nil {
			continue
		}
		rs := r.CacheStats()
		st.Hits += rs.Hits
		st.Misses += rs.Misses
		st.Evictions += rs.Evictions
		st.Blanks += rs.Blanks
		st.Flushes += rs.Flushes
		st.Cached += rs.Cached
	}
	return st
}

// Close releases both grids.
func (s *DEMSource) Close() error {
	var errs []error
	if s.DEM != nil {
		errs = append(errs, s.DEM.Close())
	}
	if s.Geoid != nil {
		errs = append(errs, s.Geoid.Close())
	}
	return errors.Join(errs...)
}

// HeightAboveMSL returns the DEM height, or DefaultHeight where the DEM has none.
func (s *DEMSource) HeightAboveMSL(ctx context.Context, lon, lat float64) (float64, error) {
	if s.DEM == nil {
		return s.DefaultHeight, nil
	}
	v, ok, err := s.DEM.Sample(ctx, lon, lat)
	if err != nil {
		return 0, fmt.Errorf("sample dem at (%g, %g): %w", lon, lat, err)
	}
	if !ok {
		monitoring.Debugf("no DEM height at (%g, %g), using default %g", lon, lat, s.DefaultHeight)
		return s.DefaultHeight, nil
	}
	return v, nil
}

// GeoidUndulation returns N at (lon, lat), zero without a geoid grid.
func (s *DEMSource) GeoidUndulation(ctx context.Context, lon, lat float64) (float64, error) {
	if s.Geoid == nil {
		return 0, nil
	}
	n, ok, err := s.Geoid.SampleWrapped(ctx, lon, lat)
	if err != nil {
		return 0, fmt.Errorf("sample geoid at (%g, %g): %w", lon, lat, err)
	}
	if !ok {
		return 0, nil
	}
	return n, nil
}

// HeightAboveEllipsoid implements Source.
func (s *DEMSource) HeightAboveEllipsoid(ctx context.Context, lon, lat float64) (float64, error) {
	h, err := s.HeightAboveMSL(ctx, lon, lat)
	if err != nil {
		return 0, err
	}
	n, err := s.GeoidUndulation(ctx, lon, lat)
	if err != nil {
		return 0, err
	}
	return h + n, nil
}
