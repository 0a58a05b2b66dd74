// Package geom implements the parametric sensor models refined by tie points
// and their geom keyword-list serialisation.
package geom

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownModelType is returned by LoadModel for an unregistered type keyword.
	ErrUnknownModelType = errors.New("unknown sensor model type")
	// ErrNotConverged is returned when an iterative inversion does not reach
	// the requested tolerance.
	ErrNotConverged = errors.New("ground point iteration did not converge")
	// ErrSingular is returned when a model cannot be evaluated at a point.
	ErrSingular = errors.New("sensor model is singular at this point")
	// ErrParamCount is returned when an adjustable parameter vector has the wrong length.
	ErrParamCount = errors.New("wrong number of adjustable parameters")
)

// TypeKeyword is the keyword naming the model type in a geom file.
const TypeKeyword = "type"

// Model maps image coordinates to ground coordinates and back. Ground
// coordinates are WGS84 degrees; heights are metres above the ellipsoid.
type Model interface {
	// Type returns the geom "type" keyword value.
	Type() string

	// ImageToGround projects an image point at the given height to the ground.
	ImageToGround(row, col, height float64) (lon, lat float64, err error)

	// GroundToImage projects a ground point into the image.
	GroundToImage(lon, lat, height float64) (row, col float64, err error)

	// AdjustableParamNames names the adjustable parameters in vector order.
	AdjustableParamNames() []string

	// AdjustableParams returns a copy of the current adjustable parameters.
	AdjustableParams() []float64

	// SetAdjustableParams replaces the adjustable parameters.
	SetAdjustableParams(p []float64) error

	// Clone returns an independent copy.
	Clone() Model

	// SaveState writes the full model, adjustments included, to kwl.
	SaveState(kwl *KeywordList)
}

// Loader builds a model from a keyword list.
type Loader func(kwl *KeywordList) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Loader{}
)

// Register makes a model type available to LoadModel.
func Register(modelType string, loader Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[modelType] = loader
}

// RegisteredTypes lists the known type keywords, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// LoadModel builds the model named by the "type" keyword.
func LoadModel(kwl *KeywordList) (Model, error) {
	modelType, err := kwl.String("", TypeKeyword)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	loader, ok := registry[modelType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelType, modelType)
	}
	m, err := loader(kwl)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", modelType, err)
	}
	return m, nil
}

// LoadModelFile reads a geom file and builds its model.
func LoadModelFile(path string) (Model, error) {
	kwl, err := ReadKeywordListFile(path)
	if err != nil {
		return nil, err
	}
	return LoadModel(kwl)
}

// SaveModelFile writes m as a geom file.
func SaveModelFile(path string, m Model) error {
	kwl := NewKeywordList()
	m.SaveState(kwl)
	return kwl.WriteFile(path)
}

func init() {
	Register(RPCModelType, loadRPCModel)
	Register(AffineModelType, loadAffineModel)
}
