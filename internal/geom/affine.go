package geom

import (
	"fmt"
	"math"
)

// AffineModelType is the geom type keyword for AffineModel.
const AffineModelType = "ossimAffineModel"

var affineKeys = []string{"lon_0", "lon_col", "lon_row", "lat_0", "lat_col", "lat_row"}

// AffineModel is a six-coefficient image to ground mapping:
//
//	lon = Lon0 + LonCol*col + LonRow*row
//	lat = Lat0 + LatCol*col + LatRow*row
//
// Height is ignored. All six coefficients are adjustable.
type AffineModel struct {
	Lon0, LonCol, LonRow float64
	Lat0, LatCol, LatRow float64
}

func loadAffineModel(kwl *KeywordList) (Model, error) {
	var vals [6]float64
	for i, key := range affineKeys {
		v, err := kwl.Float("", key)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	m := &AffineModel{}
	if err := m.SetAdjustableParams(vals[:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Type implements Model.
func (m *AffineModel) Type() string { return AffineModelType }

// ImageToGround implements Model.
func (m *AffineModel) ImageToGround(row, col, _ float64) (float64, float64, error) {
	return m.Lon0 + m.LonCol*col + m.LonRow*row, m.Lat0 + m.LatCol*col + m.LatRow*row, nil
}

// GroundToImage implements Model.
func (m *AffineModel) GroundToImage(lon, lat, _ float64) (float64, float64, error) {
	det := m.LonCol*m.LatRow - m.LonRow*m.LatCol
	if math.Abs(det) < 1e-300 {
		return 0, 0, ErrSingular
	}
	dLon, dLat := lon-m.Lon0, lat-m.Lat0
	col := (dLon*m.LatRow - m.LonRow*dLat) / det
	row := (m.LonCol*dLat - dLon*m.LatCol) / det
	return row, col, nil
}

// AdjustableParamNames implements Model.
func (m *AffineModel) AdjustableParamNames() []string {
	out := make([]string, len(affineKeys))
	copy(out, affineKeys)
	return out
}

// AdjustableParams implements Model.
func (m *AffineModel) AdjustableParams() []float64 {
	return []float64{m.Lon0, m.LonCol, m.LonRow, m.Lat0, m.LatCol, m.LatRow}
}

// SetAdjustableParams implements Model.
func (m *AffineModel) SetAdjustableParams(p []float64) error {
	if len(p) != len(affineKeys) {
		return fmt.Errorf("%w: got %d, want %d", ErrParamCount, len(p), len(affineKeys))
	}
	m.Lon0, m.LonCol, m.LonRow = p[0], p[1], p[2]
	m.Lat0, m.LatCol, m.LatRow = p[3], p[4], p[5]
	return nil
}

// Clone implements Model.
func (m *AffineModel) Clone() Model {
	c := *m
	return &c
}

// SaveState implements Model.
func (m *AffineModel) SaveState(kwl *KeywordList) {
	kwl.Add("", TypeKeyword, AffineModelType)
	for i, v := range m.AdjustableParams() {
		kwl.AddFloat("", affineKeys[i], v)
	}
}
