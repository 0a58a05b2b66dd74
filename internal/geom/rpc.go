package geom

import (
	"fmt"
	"math"
	"strings"
)

// RPCModelType is the geom type keyword for RPCModel.
const RPCModelType = "ossimRpcModel"

// Polynomial term orderings.
const (
	PolynomialA = "A"
	PolynomialB = "B"
)

// NumRPCCoefficients is the number of terms in each rational polynomial.
const NumRPCCoefficients = 20

const (
	groundMaxIterations = 25
	groundPixelTol      = 1e-6
)

var rpcAdjustableNames = []string{
	"intrack_offset",
	"crtrack_offset",
	"intrack_scale",
	"crtrack_scale",
	"map_rotation",
}

// RPCModel is a rational polynomial camera model. Ground coordinates are
// normalised with the offsets and scales, the four cubic polynomials give the
// normalised line and sample, and the adjustable parameters apply a rotation,
// scale and bias correction in image space.
type RPCModel struct {
	PolyType string

	LineOffset, SampOffset             float64
	LatOffset, LonOffset, HeightOffset float64
	LineScale, SampScale               float64
	LatScale, LonScale, HeightScale    float64
	LineNum, LineDen, SampNum, SampDen [NumRPCCoefficients]float64

	// Adjustable parameters. Offsets are in pixels, scales are added to the
	// line and sample scales, MapRotation is in radians.
	IntrackOffset, CrtrackOffset float64
	IntrackScale, CrtrackScale   float64
	MapRotation                  float64
}

func loadRPCModel(kwl *KeywordList) (Model, error) {
	m := &RPCModel{PolyType: PolynomialB}
	if v, ok := kwl.Find("", "polynomial_format"); ok {
		m.PolyType = strings.ToUpper(strings.TrimSpace(v))
	}
	if m.PolyType != PolynomialA && m.PolyType != PolynomialB {
		return nil, fmt.Errorf("unsupported polynomial_format %q", m.PolyType)
	}

	scalars := []struct {
		key string
		dst *float64
	}{
		{"line_off", &m.LineOffset},
		{"samp_off", &m.SampOffset},
		{"lat_off", &m.LatOffset},
		{"lon_off", &m.LonOffset},
		{"hgt_off", &m.HeightOffset},
		{"line_scale", &m.LineScale},
		{"samp_scale", &m.SampScale},
		{"lat_scale", &m.LatScale},
		{"lon_scale", &m.LonScale},
		{"hgt_scale", &m.HeightScale},
	}
	for _, s := range scalars {
		v, err := kwl.Float("", s.key)
		if err != nil {
			return nil, err
		}
		*s.dst = v
	}
	if m.LatScale == 0 || m.LonScale == 0 || m.HeightScale == 0 {
		return nil, fmt.Errorf("normalisation scales must be non-zero")
	}

	coeffs := []struct {
		prefix string
		dst    *[NumRPCCoefficients]float64
	}{
		{"line_num_coeff_", &m.LineNum},
		{"line_den_coeff_", &m.LineDen},
		{"samp_num_coeff_", &m.SampNum},
		{"samp_den_coeff_", &m.SampDen},
	}
	for _, c := range coeffs {
		for i := 0; i < NumRPCCoefficients; i++ {
			v, err := kwl.Float(c.prefix, fmt.Sprintf("%02d", i))
			if err != nil {
				return nil, err
			}
			c.dst[i] = v
		}
	}

	adj := make([]float64, len(rpcAdjustableNames))
	for i, name := range rpcAdjustableNames {
		v, err := kwl.FloatOr("", name, 0)
		if err != nil {
			return nil, err
		}
		adj[i] = v
	}
	if err := m.SetAdjustableParams(adj); err != nil {
		return nil, err
	}
	return m, nil
}

// Type implements Model.
func (m *RPCModel) Type() string { return RPCModelType }

// terms fills t with the 20 polynomial terms for normalised (P=lat, L=lon, H).
func (m *RPCModel) terms(t *[NumRPCCoefficients]float64, p, l, h float64) {
	t[0] = 1
	t[1] = l
	t[2] = p
	t[3] = h
	t[4] = l * p
	t[5] = l * h
	t[6] = p * h
	if m.PolyType == PolynomialA {
		t[7] = p * l * h
		t[8] = l * l
		t[9] = p * p
		t[10] = h * h
		t[11] = l * l * l
		t[12] = l * l * p
		t[13] = l * l * h
		t[14] = l * p * p
		t[15] = p * p * p
		t[16] = p * p * h
		t[17] = l * h * h
		t[18] = p * h * h
		t[19] = h * h * h
		return
	}
	t[7] = l * l
	t[8] = p * p
	t[9] = h * h
	t[10] = p * l * h
	t[11] = l * l * l
	t[12] = l * p * p
	t[13] = l * h * h
	t[14] = l * l * p
	t[15] = p * p * p
	t[16] = p * h * h
	t[17] = l * l * h
	t[18] = p * p * h
	t[19] = h * h * h
}

func dot(a, b *[NumRPCCoefficients]float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// GroundToImage implements Model.
func (m *RPCModel) GroundToImage(lon, lat, height float64) (float64, float64, error) {
	p := (lat - m.LatOffset) / m.LatScale
	l := (lon - m.LonOffset) / m.LonScale
	h := (height - m.HeightOffset) / m.HeightScale

	var t [NumRPCCoefficients]float64
	m.terms(&t, p, l, h)
	lineDen := dot(&m.LineDen, &t)
	sampDen := dot(&m.SampDen, &t)
	if lineDen == 0 || sampDen == 0 {
		return 0, 0, ErrSingular
	}
	u := dot(&m.LineNum, &t) / lineDen
	v := dot(&m.SampNum, &t) / sampDen

	sinR, cosR := math.Sincos(m.MapRotation)
	uRot := cosR*u - sinR*v
	vRot := sinR*u + cosR*v

	row := uRot*(m.LineScale+m.IntrackScale) + m.LineOffset + m.IntrackOffset
	col := vRot*(m.SampScale+m.CrtrackScale) + m.SampOffset + m.CrtrackOffset
	return row, col, nil
}

// ImageToGround implements Model by Newton iteration on GroundToImage at a
// fixed height, starting from the normalisation offsets.
func (m *RPCModel) ImageToGround(row, col, height float64) (float64, float64, error) {
	lat, lon := m.LatOffset, m.LonOffset
	dLat := m.LatScale * 1e-6
	dLon := m.LonScale * 1e-6

	for iter := 0; iter < groundMaxIterations; iter++ {
		r, c, err := m.GroundToImage(lon, lat, height)
		if err != nil {
			return 0, 0, err
		}
		errRow, errCol := row-r, col-c
		if math.Abs(errRow) < groundPixelTol && math.Abs(errCol) < groundPixelTol {
			return lon, lat, nil
		}

		rLat, cLat, err := m.GroundToImage(lon, lat+dLat, height)
		if err != nil {
			return 0, 0, err
		}
		rLon, cLon, err := m.GroundToImage(lon+dLon, lat, height)
		if err != nil {
			return 0, 0, err
		}
		drdLat, dcdLat := (rLat-r)/dLat, (cLat-c)/dLat
		drdLon, dcdLon := (rLon-r)/dLon, (cLon-c)/dLon

		det := drdLat*dcdLon - drdLon*dcdLat
		if det == 0 || math.IsNaN(det) {
			return 0, 0, ErrSingular
		}
		lat += (errRow*dcdLon - drdLon*errCol) / det
		lon += (drdLat*errCol - errRow*dcdLat) / det
	}
	return 0, 0, fmt.Errorf("%w after %d iterations at (%g, %g)", ErrNotConverged, groundMaxIterations, row, col)
}

// AdjustableParamNames implements Model.
func (m *RPCModel) AdjustableParamNames() []string {
	out := make([]string, len(rpcAdjustableNames))
	copy(out, rpcAdjustableNames)
	return out
}

// AdjustableParams implements Model.
func (m *RPCModel) AdjustableParams() []float64 {
	return []float64{m.IntrackOffset, m.CrtrackOffset, m.IntrackScale, m.CrtrackScale, m.MapRotation}
}

// SetAdjustableParams implements Model.
func (m *RPCModel) SetAdjustableParams(p []float64) error {
	if len(p) != len(rpcAdjustableNames) {
		return fmt.Errorf("%w: got %d, want %d", ErrParamCount, len(p), len(rpcAdjustableNames))
	}
	m.IntrackOffset, m.CrtrackOffset = p[0], p[1]
	m.IntrackScale, m.CrtrackScale = p[2], p[3]
	m.MapRotation = p[4]
	return nil
}

// Clone implements Model.
func (m *RPCModel) Clone() Model {
	c := *m
	return &c
}

// SaveState implements Model.
func (m *RPCModel) SaveState(kwl *KeywordList) {
	kwl.Add("", TypeKeyword, RPCModelType)
	kwl.Add("", "polynomial_format", m.PolyType)
	kwl.AddFloat("", "line_off", m.LineOffset)
	kwl.AddFloat("", "samp_off", m.SampOffset)
	kwl.AddFloat("", "lat_off", m.LatOffset)
	kwl.AddFloat("", "lon_off", m.LonOffset)
	kwl.AddFloat("", "hgt_off", m.HeightOffset)
	kwl.AddFloat("", "line_scale", m.LineScale)
	kwl.AddFloat("", "samp_scale", m.SampScale)
	kwl.AddFloat("", "lat_scale", m.LatScale)
	kwl.AddFloat("", "lon_scale", m.LonScale)
	kwl.AddFloat("", "hgt_scale", m.HeightScale)
	for i := 0; i < NumRPCCoefficients; i++ {
		kwl.AddFloat("line_num_coeff_", fmt.Sprintf("%02d", i), m.LineNum[i])
	}
	for i := 0; i < NumRPCCoefficients; i++ {
		kwl.AddFloat("line_den_coeff_", fmt.Sprintf("%02d", i), m.LineDen[i])
	}
	for i := 0; i < NumRPCCoefficients; i++ {
		kwl.AddFloat("samp_num_coeff_", fmt.Sprintf("%02d", i), m.SampNum[i])
	}
	for i := 0; i < NumRPCCoefficients; i++ {
		kwl.AddFloat("samp_den_coeff_", fmt.Sprintf("%02d", i), m.SampDen[i])
	}
	for i, v := range m.AdjustableParams() {
		kwl.AddFloat("", rpcAdjustableNames[i], v)
	}
}
