package refine

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geomrefine/internal/config"
	"github.com/banshee-data/geomrefine/internal/elevation"
	"github.com/banshee-data/geomrefine/internal/geom"
	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/tiepoint"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func trueAffine() *geom.AffineModel {
	return &geom.AffineModel{
		Lon0: 1.40, LonCol: 1e-4, LonRow: 1e-6,
		Lat0: 43.65, LatCol: 2e-6, LatRow: -1e-4,
	}
}

// affineTiePoints samples m on a 6x6 grid of image positions.
func affineTiePoints(t *testing.T, m geom.Model) []tiepoint.TiePoint {
	t.Helper()
	var pts []tiepoint.TiePoint
	for row := 0.0; row <= 100; row += 20 {
		for col := 0.0; col <= 100; col += 20 {
			lon, lat, err := m.ImageToGround(row, col, 0)
			require.NoError(t, err)
			pts = append(pts, tiepoint.TiePoint{Row: row, Col: col, Lon: lon, Lat: lat})
		}
	}
	return pts
}

func testRPCModel() *geom.RPCModel {
	m := &geom.RPCModel{
		PolyType:     geom.PolynomialB,
		LineOffset:   5000,
		SampOffset:   5000,
		LatOffset:    43.6,
		LonOffset:    1.44,
		HeightOffset: 200,
		LineScale:    5000,
		SampScale:    5000,
		LatScale:     0.05,
		LonScale:     0.06,
		HeightScale:  500,
	}
	m.LineNum[1] = 0.02
	m.LineNum[2] = -1.0
	m.LineNum[3] = 0.01
	m.LineDen[0] = 1
	m.SampNum[1] = 1.0
	m.SampNum[2] = 0.03
	m.SampNum[3] = -0.02
	m.SampDen[0] = 1
	return m
}

// rpcTiePoints projects a ground grid through m at height h.
func rpcTiePoints(t *testing.T, m geom.Model, h float64) []tiepoint.TiePoint {
	t.Helper()
	var pts []tiepoint.TiePoint
	for lat := 43.57; lat <= 43.63; lat += 0.015 {
		for lon := 1.40; lon <= 1.48; lon += 0.02 {
			row, col, err := m.GroundToImage(lon, lat, h)
			require.NoError(t, err)
			pts = append(pts, tiepoint.TiePoint{Row: row, Col: col, Lon: lon, Lat: lat})
		}
	}
	return pts
}

func TestRefine_AffineRecoversShift(t *testing.T) {
	truth := trueAffine()
	points := affineTiePoints(t, truth)

	start := trueAffine()
	start.Lon0 += 1e-4
	start.Lat0 -= 5e-5

	res, err := Refine(context.Background(), start, points, elevation.Constant{}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, geom.AffineModelType, res.ModelType)
	assert.Greater(t, res.Original.Global.RMSE, 5.0)
	assert.Less(t, res.Refined.Global.RMSE, 1e-3)
	assert.Equal(t, len(points), res.Refined.Count)
	assert.Less(t, res.Optimizer.FinalCost, res.Optimizer.InitialCost)

	// The caller's model is not modified.
	assert.InDelta(t, truth.Lon0+1e-4, start.Lon0, 1e-15)

	want := truth.AdjustableParams()
	for i, got := range res.ParamsAfter {
		assert.InDelta(t, want[i], got, math.Abs(want[i])*1e-6+1e-12, "param %s", res.ParamNames[i])
	}
}

func TestRefine_RPCRecoversImageBias(t *testing.T) {
	truth := testRPCModel()
	truth.IntrackOffset = 3.5
	truth.CrtrackOffset = -2.25
	points := rpcTiePoints(t, truth, 200)

	start := testRPCModel()
	res, err := Refine(context.Background(), start, points, elevation.Constant{Height: 200}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, res.ParamsAfter, 5)
	assert.InDelta(t, 3.5, res.ParamsAfter[0], 1e-3)
	assert.InDelta(t, -2.25, res.ParamsAfter[1], 1e-3)
	assert.InDelta(t, 0, res.ParamsAfter[4], 1e-6)
	assert.Less(t, res.Optimizer.FinalRMS, 1e-3)
	assert.Less(t, res.Refined.Global.RMSE, res.Original.Global.RMSE)
	assert.True(t, res.Optimizer.Converged, "stop reason %q", res.Optimizer.StopReason)
}

func TestRefine_Errors(t *testing.T) {
	ctx := context.Background()
	points := affineTiePoints(t, trueAffine())

	t.Run("no tie points", func(t *testing.T) {
		_, err := Refine(ctx, trueAffine(), nil, elevation.Constant{}, DefaultOptions())
		assert.ErrorIs(t, err, ErrNoTiePoints)
	})

	t.Run("underdetermined", func(t *testing.T) {
		_, err := Refine(ctx, trueAffine(), points[:2], elevation.Constant{}, DefaultOptions())
		assert.ErrorIs(t, err, ErrUnderdetermined)
	})

	t.Run("below minimum", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MinTiePoints = 100
		_, err := Refine(ctx, trueAffine(), points, elevation.Constant{}, opts)
		assert.ErrorIs(t, err, ErrNoTiePoints)
	})

	t.Run("no elevation source", func(t *testing.T) {
		_, err := Refine(ctx, trueAffine(), points, nil, DefaultOptions())
		assert.ErrorIs(t, err, ErrNoElevationSource)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Refine(cctx, trueAffine(), points, elevation.Constant{}, DefaultOptions())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type countingSource struct {
	calls  atomic.Int64
	height float64
	err    error
}

func (s *countingSource) HeightAboveEllipsoid(ctx context.Context, lon, lat float64) (float64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return 0, s.err
	}
	return s.height + lon, nil
}

func TestResolveElevations(t *testing.T) {
	points := []tiepoint.TiePoint{
		{Lon: 1, Lat: 40},
		{Lon: 2, Lat: 40, Elevation: 55, HasElevation: true},
		{Lon: 3, Lat: 40},
	}

	src := &countingSource{height: 100}
	heights, err := ResolveElevations(context.Background(), points, src, true, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 55, 103}, heights)
	assert.EqualValues(t, 2, src.calls.Load())

	src = &countingSource{height: 100}
	heights, err = ResolveElevations(context.Background(), points, src, false, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 102, 103}, heights)
	assert.EqualValues(t, 3, src.calls.Load())

	// Every point carries an elevation, so no source is needed.
	carried := []tiepoint.TiePoint{{Elevation: 7, HasElevation: true}}
	heights, err = ResolveElevations(context.Background(), carried, nil, true, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, heights)

	boom := errors.New("boom")
	_, err = ResolveElevations(context.Background(), points, &countingSource{err: boom}, true, 4)
	assert.ErrorIs(t, err, boom)
}

type flakyModel struct {
	*geom.AffineModel
}

func (m flakyModel) ImageToGround(row, col, h float64) (float64, float64, error) {
	if row < 0 {
		return 0, 0, geom.ErrNotConverged
	}
	return m.AffineModel.ImageToGround(row, col, h)
}

func TestComputeStats(t *testing.T) {
	m := trueAffine()
	points := affineTiePoints(t, m)
	heights := make([]float64, len(points))

	exact, err := ComputeStats(m, points, heights)
	require.NoError(t, err)
	assert.Less(t, exact.Global.RMSE, 1e-6)

	// Shift every reference 0.001 deg west: the estimate is then east of the
	// reference by roughly 80 m at 43.6N.
	shifted := make([]tiepoint.TiePoint, len(points))
	for i, tp := range points {
		tp.Lon -= 0.001
		shifted[i] = tp
	}
	s, err := ComputeStats(m, shifted, heights)
	require.NoError(t, err)
	assert.InDelta(t, 80.68, s.X.Mean, 0.05)
	assert.InDelta(t, 0, s.Y.Mean, 1e-6)
	assert.Less(t, s.X.StdDev, 0.05)
	assert.InDelta(t, s.X.RMSE, s.Global.RMSE, 0.5)

	for _, axis := range []AxisStats{s.X, s.Y, s.Global} {
		assert.InDelta(t, axis.RMSE*axis.RMSE, axis.Mean*axis.Mean+axis.StdDev*axis.StdDev, 1e-6)
	}
}

func TestComputeStats_FailedPoints(t *testing.T) {
	m := flakyModel{trueAffine()}
	points := []tiepoint.TiePoint{
		{Row: -1, Col: 0, Lon: 1.4, Lat: 43.65},
		{Row: 0, Col: 0, Lon: 1.4, Lat: 43.65},
	}
	s, err := ComputeStats(m, points, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 1, s.Failed)
	assert.NotEmpty(t, s.Points[0].Err)
	assert.Empty(t, s.Points[1].Err)

	_, err = ComputeStats(m, points[:1], []float64{0})
	assert.ErrorIs(t, err, ErrNoTiePoints)

	_, err = ComputeStats(m, points, []float64{0})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(nil)
	assert.Equal(t, 50, opts.MaxIterations)
	assert.True(t, opts.UseTiePointElevation)
	assert.Equal(t, 4, opts.Workers)

	cfg := config.EmptyRefineConfig()
	iters, workers := 7, 2
	cfg.MaxIterations = &iters
	cfg.ElevationWorkers = &workers
	opts = OptionsFromConfig(cfg)
	assert.Equal(t, 7, opts.MaxIterations)
	assert.Equal(t, 2, opts.Workers)
}

func TestLevenbergMarquardt_MaxIterations(t *testing.T) {
	truth := trueAffine()
	points := affineTiePoints(t, truth)
	obs := make([]observation, len(points))
	for i, tp := range points {
		obs[i] = observation{row: tp.Row, col: tp.Col, lon: tp.Lon, lat: tp.Lat}
	}

	start := trueAffine()
	start.Lon0 += 1e-3
	opts := DefaultOptions()
	opts.MaxIterations = 1
	opts.InitialDamping = 1

	sum, err := levenbergMarquardt(context.Background(), start, obs, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Iterations)
	assert.False(t, sum.Converged)
	assert.Equal(t, StopMaxIterations, sum.StopReason)
	assert.Less(t, sum.FinalCost, sum.InitialCost)
}

func TestLevenbergMarquardt_ExactStart(t *testing.T) {
	truth := trueAffine()
	points := affineTiePoints(t, truth)
	obs := make([]observation, len(points))
	for i, tp := range points {
		obs[i] = observation{row: tp.Row, col: tp.Col, lon: tp.Lon, lat: tp.Lat}
	}

	sum, err := levenbergMarquardt(context.Background(), trueAffine(), obs, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, sum.Converged)
	assert.Less(t, sum.FinalRMS, 1e-6)
}

const testAffineGeom = `type:  ossimAffineModel
lon_0:  1.4001
lon_col:  0.0001
lon_row:  1e-06
lat_0:  43.65
lat_col:  2e-06
lat_row:  -0.0001
`

func writeJobFiles(t *testing.T, extraLine string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	geomPath := filepath.Join(dir, "in.geom")
	require.NoError(t, os.WriteFile(geomPath, []byte(testAffineGeom), 0644))

	var sb strings.Builder
	require.NoError(t, tiepoint.Write(&sb, affineTiePoints(t, trueAffine())))
	sb.WriteString(extraLine)
	tpPath := filepath.Join(dir, "points.txt")
	require.NoError(t, os.WriteFile(tpPath, []byte(sb.String()), 0644))
	return geomPath, tpPath
}

func TestRun(t *testing.T) {
	geomPath, tpPath := writeJobFiles(t, "12\tnot-a-number\t1.4\t43.6\n")
	outPath := filepath.Join(filepath.Dir(geomPath), "out.geom")

	job := Job{
		GeomPath:     geomPath,
		TiePointPath: tpPath,
		OutGeomPath:  outPath,
		Elevation:    elevation.Constant{},
		Strict:       true,
		Options:      DefaultOptions(),
	}
	_, err := Run(context.Background(), job)
	var pe *tiepoint.ParseError
	require.ErrorAs(t, err, &pe)
	assert.NoFileExists(t, outPath)

	job.Strict = false
	res, err := Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedTiePoints)
	assert.Less(t, res.Refined.Global.RMSE, 1e-3)

	reloaded, err := geom.LoadModelFile(outPath)
	require.NoError(t, err)
	got := reloaded.AdjustableParams()
	want := res.Model.AdjustableParams()
	for i := range want {
		assert.InDelta(t, want[i], got[i], math.Abs(want[i])*1e-12)
	}
}

func TestRun_LenientStillFailsOnReadError(t *testing.T) {
	geomPath, tpPath := writeJobFiles(t, "12\tnot-a-number\t1.4\t43.6\n"+strings.Repeat("9", 70*1024)+"\n")

	_, err := Run(context.Background(), Job{
		GeomPath:     geomPath,
		TiePointPath: tpPath,
		Elevation:    elevation.Constant{},
		Options:      DefaultOptions(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, tiepoint.ErrRead)
}

func TestRun_MissingFiles(t *testing.T) {
	geomPath, tpPath := writeJobFiles(t, "")
	dir := filepath.Dir(geomPath)

	_, err := Run(context.Background(), Job{GeomPath: filepath.Join(dir, "nope.geom"), TiePointPath: tpPath, Elevation: elevation.Constant{}})
	assert.Error(t, err)

	_, err = Run(context.Background(), Job{GeomPath: geomPath, TiePointPath: filepath.Join(dir, "nope.txt"), Elevation: elevation.Constant{}})
	assert.Error(t, err)
}
