package refine

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/geomrefine/internal/elevation"
	"github.com/banshee-data/geomrefine/internal/geom"
	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/tiepoint"
)

// Job is a file-based refinement: read a geom file and a tie-point file,
// refine, and optionally write the refined geom.
type Job struct {
	GeomPath     string
	TiePointPath string
	// OutGeomPath receives the refined model when not empty.
	OutGeomPath string

	Elevation elevation.Source
	// Strict fails the job on any malformed tie-point line. Otherwise such
	// lines are logged and skipped.
	Strict  bool
	Options Options
}

// Run executes the job.
func Run(ctx context.Context, job Job) (*Result, error) {
	model, err := geom.LoadModelFile(job.GeomPath)
	if err != nil {
		return nil, fmt.Errorf("load geom: %w", err)
	}

	points, perr := tiepoint.Load(job.TiePointPath)
	skipped := 0
	if perr != nil {
		lineErrs := tiepoint.ParseErrors(perr)
		if job.Strict || len(lineErrs) == 0 || errors.Is(perr, tiepoint.ErrRead) {
			return nil, fmt.Errorf("load tie points: %w", perr)
		}
		for _, le := range lineErrs {
			monitoring.Logf("skipping %v", le)
		}
		skipped = len(lineErrs)
	}
	monitoring.Logf("loaded %d tie points from %s", len(points), job.TiePointPath)

	res, err := Refine(ctx, model, points, job.Elevation, job.Options)
	if err != nil {
		return nil, err
	}
	res.SkippedTiePoints = skipped

	if job.OutGeomPath != "" {
		if err := geom.SaveModelFile(job.OutGeomPath, res.Model); err != nil {
			return nil, fmt.Errorf("write refined geom: %w", err)
		}
		monitoring.Logf("wrote refined model to %s", job.OutGeomPath)
	}
	return res, nil
}
