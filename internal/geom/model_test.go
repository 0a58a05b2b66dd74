package geom

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRPCModel_GroundToImageAtOffsets(t *testing.T) {
	m := newTestRPCModel()
	row, col, err := m.GroundToImage(m.LonOffset, m.LatOffset, m.HeightOffset)
	if err != nil {
		t.Fatalf("GroundToImage: %v", err)
	}
	if row != m.LineOffset || col != m.SampOffset {
		t.Errorf("got (%v, %v), want offsets (%v, %v)", row, col, m.LineOffset, m.SampOffset)
	}
}

func TestRPCModel_RoundTrip(t *testing.T) {
	for _, poly := range []string{PolynomialA, PolynomialB} {
		m := newTestRPCModel()
		m.PolyType = poly
		points := []struct{ lon, lat, h float64 }{
			{1.44, 43.6, 200},
			{1.41, 43.63, 150},
			{1.47, 43.58, 420},
			{1.49, 43.56, -20},
		}
		for _, p := range points {
			row, col, err := m.GroundToImage(p.lon, p.lat, p.h)
			if err != nil {
				t.Fatalf("%s GroundToImage: %v", poly, err)
			}
			lon, lat, err := m.ImageToGround(row, col, p.h)
			if err != nil {
				t.Fatalf("%s ImageToGround: %v", poly, err)
			}
			if math.Abs(lon-p.lon) > 1e-9 || math.Abs(lat-p.lat) > 1e-9 {
				t.Errorf("%s round trip (%v, %v) -> (%v, %v)", poly, p.lon, p.lat, lon, lat)
			}
		}
	}
}

func TestRPCModel_TermOrdering(t *testing.T) {
	const p, l, h = 0.5, 0.2, 0.3
	tests := []struct {
		poly string
		want [NumRPCCoefficients]float64
	}{
		{PolynomialA, [NumRPCCoefficients]float64{
			1, l, p, h, l * p, l * h, p * h, p * l * h, l * l, p * p, h * h,
			l * l * l, l * l * p, l * l * h, l * p * p, p * p * p, p * p * h, l * h * h, p * h * h, h * h * h,
		}},
		{PolynomialB, [NumRPCCoefficients]float64{
			1, l, p, h, l * p, l * h, p * h, l * l, p * p, h * h, p * l * h,
			l * l * l, l * p * p, l * h * h, l * l * p, p * p * p, p * h * h, l * l * h, p * p * h, h * h * h,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.poly, func(t *testing.T) {
			m := &RPCModel{PolyType: tt.poly}
			var got [NumRPCCoefficients]float64
			m.terms(&got, p, l, h)
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-15 {
					t.Errorf("term %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRPCModel_ImageToGroundNotConverged(t *testing.T) {
	// Normalised line is p^2 + 0.1p, which never goes below -0.0025, so a
	// pixel at normalised line -1 has no ground solution.
	m := &RPCModel{
		PolyType:    PolynomialB,
		LineOffset:  5000,
		SampOffset:  5000,
		LineScale:   1000,
		SampScale:   1000,
		LatScale:    1,
		LonScale:    1,
		HeightScale: 1,
	}
	m.LineNum[2] = 0.1
	m.LineNum[8] = 1
	m.LineDen[0] = 1
	m.SampNum[1] = 1
	m.SampDen[0] = 1

	_, _, err := m.ImageToGround(4000, 5000, 0)
	if !errors.Is(err, ErrNotConverged) {
		t.Fatalf("expected ErrNotConverged, got %v", err)
	}
}

func TestRPCModel_Adjustments(t *testing.T) {
	m := newTestRPCModel()
	row0, col0, _ := m.GroundToImage(1.45, 43.61, 200)

	if err := m.SetAdjustableParams([]float64{2, -3, 0, 0, 0}); err != nil {
		t.Fatalf("SetAdjustableParams: %v", err)
	}
	row1, col1, _ := m.GroundToImage(1.45, 43.61, 200)
	if math.Abs(row1-row0-2) > 1e-9 || math.Abs(col1-col0+3) > 1e-9 {
		t.Errorf("bias not applied: d=(%v, %v)", row1-row0, col1-col0)
	}

	if err := m.SetAdjustableParams([]float64{1, 2, 3}); !errors.Is(err, ErrParamCount) {
		t.Errorf("expected ErrParamCount, got %v", err)
	}
}

func TestRPCModel_Singular(t *testing.T) {
	m := newTestRPCModel()
	m.LineDen = [NumRPCCoefficients]float64{}
	if _, _, err := m.GroundToImage(1.44, 43.6, 200); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
}

func TestRPCModel_SaveLoad(t *testing.T) {
	m := newTestRPCModel()
	m.IntrackOffset = 1.25
	m.MapRotation = 1e-4

	kwl := NewKeywordList()
	m.SaveState(kwl)
	loaded, err := LoadModel(kwl)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if diff := cmp.Diff(m, loaded); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}
}

func TestAffineModel(t *testing.T) {
	m := &AffineModel{Lon0: 1.0, LonCol: 1e-4, LonRow: 2e-6, Lat0: 44.0, LatCol: -1e-6, LatRow: -1e-4}
	lon, lat, err := m.ImageToGround(100, 250, 0)
	if err != nil {
		t.Fatalf("ImageToGround: %v", err)
	}
	row, col, err := m.GroundToImage(lon, lat, 0)
	if err != nil {
		t.Fatalf("GroundToImage: %v", err)
	}
	if math.Abs(row-100) > 1e-6 || math.Abs(col-250) > 1e-6 {
		t.Errorf("round trip = (%v, %v)", row, col)
	}

	degenerate := &AffineModel{}
	if _, _, err := degenerate.GroundToImage(0, 0, 0); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}

	clone := m.Clone().(*AffineModel)
	clone.Lon0 = 5
	if m.Lon0 == 5 {
		t.Error("Clone shares state with original")
	}
}

func TestLoadModel_Errors(t *testing.T) {
	kwl := NewKeywordList()
	if _, err := LoadModel(kwl); !errors.Is(err, ErrMissingKeyword) {
		t.Errorf("expected ErrMissingKeyword, got %v", err)
	}

	kwl.Add("", TypeKeyword, "ossimSarModel")
	if _, err := LoadModel(kwl); !errors.Is(err, ErrUnknownModelType) {
		t.Errorf("expected ErrUnknownModelType, got %v", err)
	}

	rpc := NewKeywordList()
	rpc.Add("", TypeKeyword, RPCModelType)
	rpc.AddFloat("", "line_off", 1)
	if _, err := LoadModel(rpc); !errors.Is(err, ErrMissingKeyword) {
		t.Errorf("incomplete RPC: expected ErrMissingKeyword, got %v", err)
	}
}

func TestModelFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "affine.geom")
	m := &AffineModel{Lon0: 1, LonCol: 0.5, LatRow: -0.5, Lat0: 2}
	if err := SaveModelFile(path, m); err != nil {
		t.Fatalf("SaveModelFile: %v", err)
	}
	loaded, err := LoadModelFile(path)
	if err != nil {
		t.Fatalf("LoadModelFile: %v", err)
	}
	if diff := cmp.Diff(Model(m), loaded); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisteredTypes(t *testing.T) {
	types := RegisteredTypes()
	want := []string{AffineModelType, RPCModelType}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("RegisteredTypes mismatch (-want +got):\n%s", diff)
	}
}
