// Package refine adjusts a sensor model's parameters so that it reprojects a
// set of tie points with minimal image-space error, and reports geolocation
// statistics for the model before and after the adjustment.
package refine

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/geomrefine/internal/config"
	"github.com/banshee-data/geomrefine/internal/elevation"
	"github.com/banshee-data/geomrefine/internal/geom"
	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/tiepoint"
)

var (
	// ErrNoTiePoints is returned when there is nothing to fit or measure.
	ErrNoTiePoints = errors.New("no tie points")
	// ErrUnderdetermined is returned when the tie points provide fewer
	// observations than the model has adjustable parameters.
	ErrUnderdetermined = errors.New("not enough tie points for the adjustable parameters")
	// ErrNoElevationSource is returned when a tie point needs an elevation
	// and no source was given.
	ErrNoElevationSource = errors.New("no elevation source")
)

// Options controls a refinement.
type Options struct {
	MaxIterations  int
	Tolerance      float64
	InitialDamping float64
	JacobianStep   float64

	// UseTiePointElevation keeps the elevation carried by a tie point instead
	// of querying the elevation source.
	UseTiePointElevation bool
	MinTiePoints         int
	Workers              int
}

// OptionsFromConfig builds Options from a RefineConfig, applying defaults for
// unset fields.
func OptionsFromConfig(cfg *config.RefineConfig) Options {
	if cfg == nil {
		cfg = config.EmptyRefineConfig()
	}
	return Options{
		MaxIterations:        cfg.GetMaxIterations(),
		Tolerance:            cfg.GetTolerance(),
		InitialDamping:       cfg.GetInitialDamping(),
		JacobianStep:         cfg.GetJacobianStep(),
		UseTiePointElevation: cfg.GetUseTiePointElevation(),
		MinTiePoints:         cfg.GetMinTiePoints(),
		Workers:              cfg.GetElevationWorkers(),
	}
}

// DefaultOptions returns the options of an empty configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(nil)
}

// Result is the outcome of a refinement.
type Result struct {
	ModelType    string    `json:"model_type"`
	ParamNames   []string  `json:"param_names"`
	ParamsBefore []float64 `json:"params_before"`
	ParamsAfter  []float64 `json:"params_after"`
	Optimizer    Summary   `json:"optimizer"`
	Original     Stats     `json:"original"`
	Refined      Stats     `json:"refined"`

	// SkippedTiePoints counts malformed tie-point lines dropped in lenient mode.
	SkippedTiePoints int `json:"skipped_tie_points"`

	// Model is the refined model. The caller's model is left untouched.
	Model geom.Model `json:"-"`
}

// Refine fits a copy of model to points. Heights are resolved from src unless
// a point carries its own elevation and opts.UseTiePointElevation is set.
func Refine(ctx context.Context, model geom.Model, points []tiepoint.TiePoint, src elevation.Source, opts Options) (*Result, error) {
	if len(points) == 0 {
		return nil, ErrNoTiePoints
	}
	if opts.MinTiePoints > 0 && len(points) < opts.MinTiePoints {
		return nil, fmt.Errorf("%w: have %d, need at least %d", ErrNoTiePoints, len(points), opts.MinTiePoints)
	}
	nParams := len(model.AdjustableParams())
	if 2*len(points) < nParams {
		return nil, fmt.Errorf("%w: %d points give %d observations, model has %d parameters",
			ErrUnderdetermined, len(points), 2*len(points), nParams)
	}

	heights, err := ResolveElevations(ctx, points, src, opts.UseTiePointElevation, opts.Workers)
	if err != nil {
		return nil, err
	}

	original := model.Clone()
	refined := model.Clone()

	before, err := ComputeStats(original, points, heights)
	if err != nil {
		return nil, fmt.Errorf("original model statistics: %w", err)
	}

	obs := make([]observation, len(points))
	for i, tp := range points {
		obs[i] = observation{row: tp.Row, col: tp.Col, lon: tp.Lon, lat: tp.Lat, height: heights[i]}
	}
	summary, err := levenbergMarquardt(ctx, refined, obs, opts)
	if err != nil {
		return nil, fmt.Errorf("optimise %s: %w", model.Type(), err)
	}
	if !summary.Converged {
		monitoring.Logf("refine: %s stopped after %d iterations without converging (rms %.4g px)",
			model.Type(), summary.Iterations, summary.FinalRMS)
	}

	after, err := ComputeStats(refined, points, heights)
	if err != nil {
		return nil, fmt.Errorf("refined model statistics: %w", err)
	}

	monitoring.Logf("refine: %d tie points, global RMSE %.3f m -> %.3f m in %d iterations",
		len(points), before.Global.RMSE, after.Global.RMSE, summary.Iterations)

	return &Result{
		ModelType:    model.Type(),
		ParamNames:   model.AdjustableParamNames(),
		ParamsBefore: original.AdjustableParams(),
		ParamsAfter:  refined.AdjustableParams(),
		Optimizer:    summary,
		Original:     before,
		Refined:      after,
		Model:        refined,
	}, nil
}
