package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical refinement defaults file.
const DefaultConfigPath = "config/refine.defaults.json"

// RefineConfig holds the tunables of a refinement run. Every field is
// optional; the Get* methods supply the default for fields left unset so
// partial JSON files are safe.
type RefineConfig struct {
	// Optimiser params
	MaxIterations  *int     `json:"max_iterations,omitempty"`
	Tolerance      *float64 `json:"tolerance,omitempty"`
	InitialDamping *float64 `json:"initial_damping,omitempty"`
	JacobianStep   *float64 `json:"jacobian_step,omitempty"`

	// Tie point handling
	StrictTiePoints      *bool `json:"strict_tie_points,omitempty"`
	UseTiePointElevation *bool `json:"use_tie_point_elevation,omitempty"`
	MinTiePoints         *int  `json:"min_tie_points,omitempty"`

	// Elevation params
	DefaultHeight    *float64 `json:"default_height,omitempty"`
	ElevationWorkers *int     `json:"elevation_workers,omitempty"`

	// Tile cache params
	TileSize          *int `json:"tile_size,omitempty"`
	TileCacheCapacity *int `json:"tile_cache_capacity,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRefineConfig returns a RefineConfig with all fields unset.
func EmptyRefineConfig() *RefineConfig {
	return &RefineConfig{}
}

// DefaultRefineConfig returns a RefineConfig with every field set to its default.
func DefaultRefineConfig() *RefineConfig {
	c := EmptyRefineConfig()
	return &RefineConfig{
		MaxIterations:        ptrInt(c.GetMaxIterations()),
		Tolerance:            ptrFloat64(c.GetTolerance()),
		InitialDamping:       ptrFloat64(c.GetInitialDamping()),
		JacobianStep:         ptrFloat64(c.GetJacobianStep()),
		StrictTiePoints:      ptrBool(c.GetStrictTiePoints()),
		UseTiePointElevation: ptrBool(c.GetUseTiePointElevation()),
		MinTiePoints:         ptrInt(c.GetMinTiePoints()),
		DefaultHeight:        ptrFloat64(c.GetDefaultHeight()),
		ElevationWorkers:     ptrInt(c.GetElevationWorkers()),
		TileSize:             ptrInt(c.GetTileSize()),
		TileCacheCapacity:    ptrInt(c.GetTileCacheCapacity()),
	}
}

// LoadRefineConfig loads a RefineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadRefineConfig(path string) (*RefineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRefineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *RefineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRefineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *RefineConfig) Validate() error {
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", *c.Tolerance)
	}
	if c.InitialDamping != nil && *c.InitialDamping <= 0 {
		return fmt.Errorf("initial_damping must be positive, got %g", *c.InitialDamping)
	}
	if c.JacobianStep != nil && (*c.JacobianStep <= 0 || *c.JacobianStep > 1) {
		return fmt.Errorf("jacobian_step must be in (0, 1], got %g", *c.JacobianStep)
	}
	if c.MinTiePoints != nil && *c.MinTiePoints < 1 {
		return fmt.Errorf("min_tie_points must be at least 1, got %d", *c.MinTiePoints)
	}
	if c.ElevationWorkers != nil && *c.ElevationWorkers < 1 {
		return fmt.Errorf("elevation_workers must be at least 1, got %d", *c.ElevationWorkers)
	}
	if c.TileSize != nil && (*c.TileSize < 2 || *c.TileSize > 4096) {
		return fmt.Errorf("tile_size must be between 2 and 4096, got %d", *c.TileSize)
	}
	if c.TileCacheCapacity != nil && *c.TileCacheCapacity < 0 {
		return fmt.Errorf("tile_cache_capacity must be non-negative, got %d", *c.TileCacheCapacity)
	}
	return nil
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *RefineConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 50
	}
	return *c.MaxIterations
}

// GetTolerance returns the relative cost-change tolerance or the default.
func (c *RefineConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 1e-10
	}
	return *c.Tolerance
}

// GetInitialDamping returns the initial_damping value or the default.
func (c *RefineConfig) GetInitialDamping() float64 {
	if c.InitialDamping == nil {
		return 1e-3
	}
	return *c.InitialDamping
}

// GetJacobianStep returns the jacobian_step value or the default.
func (c *RefineConfig) GetJacobianStep() float64 {
	if c.JacobianStep == nil {
		return 1e-6
	}
	return *c.JacobianStep
}

// GetStrictTiePoints returns the strict_tie_points value or the default.
func (c *RefineConfig) GetStrictTiePoints() bool {
	if c.StrictTiePoints == nil {
		return true // default: any malformed line aborts the run
	}
	return *c.StrictTiePoints
}

// GetUseTiePointElevation returns the use_tie_point_elevation value or the default.
func (c *RefineConfig) GetUseTiePointElevation() bool {
	if c.UseTiePointElevation == nil {
		return true
	}
	return *c.UseTiePointElevation
}

// GetMinTiePoints returns the min_tie_points value or the default.
func (c *RefineConfig) GetMinTiePoints() int {
	if c.MinTiePoints == nil {
		return 1
	}
	return *c.MinTiePoints
}

// GetDefaultHeight returns the default_height value or the default.
func (c *RefineConfig) GetDefaultHeight() float64 {
	if c.DefaultHeight == nil {
		return 0
	}
	return *c.DefaultHeight
}

// GetElevationWorkers returns the elevation_workers value or the default.
func (c *RefineConfig) GetElevationWorkers() int {
	if c.ElevationWorkers == nil {
		return 4
	}
	return *c.ElevationWorkers
}

// GetTileSize returns the tile_size value or the default.
func (c *RefineConfig) GetTileSize() int {
	if c.TileSize == nil {
		return 256
	}
	return *c.TileSize
}

// GetTileCacheCapacity returns the tile_cache_capacity value or the default.
func (c *RefineConfig) GetTileCacheCapacity() int {
	if c.TileCacheCapacity == nil {
		return 256
	}
	return *c.TileCacheCapacity
}
