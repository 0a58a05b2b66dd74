package elevation

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/geomrefine/internal/tilecache"
)

// ErrUnsupportedFormat is returned by OpenRaster for an unknown file extension.
var ErrUnsupportedFormat = errors.New("unsupported raster format")

const maxLevels = 8

// rowReader fills dst with consecutive samples of one grid row starting at col0.
type rowReader interface {
	readRow(row, col0 int, dst []float64) error
}

// gridSource exposes a grid as a tilecache.Source. Level n keeps every 2^n-th
// sample in each direction.
type gridSource struct {
	hdr  Header
	rows rowReader
}

func (s *gridSource) NumLevels() int {
	n := 1
	for n < maxLevels && s.hdr.NCols>>n >= 1 && s.hdr.NRows>>n >= 1 {
		n++
	}
	return n
}

func (s *gridSource) Bounds(level int) image.Rectangle {
	return image.Rect(0, 0, s.hdr.NCols>>level, s.hdr.NRows>>level)
}

func (s *gridSource) NoDataValue() float64 { return s.hdr.NoData }

func (s *gridSource) Tile(ctx context.Context, rect image.Rectangle, level int) (*tilecache.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := tilecache.NewTile(rect, s.hdr.NoData)
	if rect.Empty() {
		return t, nil
	}
	step := 1 << level
	buf := make([]float64, (rect.Dx()-1)*step+1)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		if err := s.rows.readRow(y*step, rect.Min.X*step, buf); err != nil {
			return nil, fmt.Errorf("row %d: %w", y*step, err)
		}
		for x := rect.Min.X; x < rect.Max.X; x++ {
			t.Set(x, y, buf[(x-rect.Min.X)*step])
		}
	}
	return t, nil
}

type memRows struct {
	ncols int
	data  []float64
}

func (m *memRows) readRow(row, col0 int, dst []float64) error {
	start := row*m.ncols + col0
	if row < 0 || col0 < 0 || col0+len(dst) > m.ncols || start+len(dst) > len(m.data) {
		return fmt.Errorf("read outside grid at row %d col %d", row, col0)
	}
	copy(dst, m.data[start:start+len(dst)])
	return nil
}

type floatRows struct {
	r     io.ReaderAt
	ncols int
	order binary.ByteOrder
}

func (f *floatRows) readRow(row, col0 int, dst []float64) error {
	if col0+len(dst) > f.ncols {
		return fmt.Errorf("read outside grid at row %d col %d", row, col0)
	}
	raw := make([]byte, 4*len(dst))
	off := int64(row*f.ncols+col0) * 4
	if _, err := f.r.ReadAt(raw, off); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = float64(math.Float32frombits(f.order.Uint32(raw[4*i:])))
	}
	return nil
}

// Raster is a single-band elevation grid read through a tile cache.
type Raster struct {
	Header Header
	cache  *tilecache.Cache
	closer io.Closer
}

func newRaster(hdr Header, rows rowReader, closer io.Closer, cfg tilecache.Config) (*Raster, error) {
	cache, err := tilecache.New(&gridSource{hdr: hdr, rows: rows}, cfg)
	if err != nil {
		return nil, err
	}
	return &Raster{Header: hdr, cache: cache, closer: closer}, nil
}

// Close releases the underlying file, if any.
func (r *Raster) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// CacheStats reports the raster's tile cache counters.
func (r *Raster) CacheStats() tilecache.Stats { return r.cache.Stats() }

// Tiles returns the raster's tile cache.
func (r *Raster) Tiles() *tilecache.Cache { return r.cache }

// OpenRaster opens an ESRI ASCII grid (.asc) or an ArcGIS float grid
// (.flt with a sibling .hdr).
func OpenRaster(path string, cfg tilecache.Config) (*Raster, error) {
	path = filepath.Clean(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open grid: %w", err)
		}
		defer f.Close()
		r, err := ParseASCIIGrid(f, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return r, nil
	case ".flt":
		return openFloatGrid(path, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ParseASCIIGrid reads an ESRI ASCII grid into memory.
func ParseASCIIGrid(r io.Reader, cfg tilecache.Config) (*Raster, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	b := newHeaderBuilder()
	var pending string
	for scanner.Scan() {
		key := scanner.Text()
		if !isHeaderKey(key) {
			pending = key
			break
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("header %s has no value", key)
		}
		if err := b.set(key, scanner.Text()); err != nil {
			return nil, err
		}
	}
	hdr, err := b.build()
	if err != nil {
		return nil, err
	}

	data := make([]float64, 0, hdr.NCols*hdr.NRows)
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("sample %d: %w", len(data), err)
		}
		data = append(data, v)
		return nil
	}
	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for len(data) < cap(data) && scanner.Scan() {
		if err := parse(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid: %w", err)
	}
	if len(data) != hdr.NCols*hdr.NRows {
		return nil, fmt.Errorf("grid has %d samples, header declares %dx%d", len(data), hdr.NCols, hdr.NRows)
	}
	return newRaster(hdr, &memRows{ncols: hdr.NCols, data: data}, nil, cfg)
}

func openFloatGrid(path string, cfg tilecache.Config) (*Raster, error) {
	hdrPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".hdr"
	hf, err := os.Open(hdrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open grid header: %w", err)
	}
	defer hf.Close()

	b := newHeaderBuilder()
	scanner := bufio.NewScanner(hf)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !isHeaderKey(fields[0]) {
			continue
		}
		if err := b.set(fields[0], fields[1]); err != nil {
			return nil, fmt.Errorf("%s: %w", hdrPath, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid header: %w", err)
	}
	hdr, err := b.build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hdrPath, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grid: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat grid: %w", err)
	}
	if want := int64(hdr.NCols) * int64(hdr.NRows) * 4; info.Size() < want {
		f.Close()
		return nil, fmt.Errorf("%s: file has %d bytes, header needs %d", path, info.Size(), want)
	}
	r, err := newRaster(hdr, &floatRows{r: f, ncols: hdr.NCols, order: hdr.ByteOrder}, f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Sample returns the bilinearly interpolated value at (lon, lat). ok is false
// when the point is outside the grid or no valid sample is nearby. When one
// of the four neighbours is no-data the nearest cell is used instead.
func (r *Raster) Sample(ctx context.Context, lon, lat float64) (value float64, ok bool, err error) {
	h := r.Header
	if !h.Contains(lon, lat) {
		return 0, false, nil
	}
	fx, fy := h.Pixel(lon, lat)

	x0 := clampInt(int(math.Floor(fx)), 0, h.NCols-2)
	y0 := clampInt(int(math.Floor(fy)), 0, h.NRows-2)
	dx := clampFloat(fx-float64(x0), 0, 1)
	dy := clampFloat(fy-float64(y0), 0, 1)

	tile, err := r.cache.Tile(ctx, image.Rect(x0, y0, x0+2, y0+2), 0)
	if err != nil {
		return 0, false, err
	}
	v00, v10 := tile.At(x0, y0), tile.At(x0+1, y0)
	v01, v11 := tile.At(x0, y0+1), tile.At(x0+1, y0+1)

	if tile.IsNoData(v00) || tile.IsNoData(v10) || tile.IsNoData(v01) || tile.IsNoData(v11) {
		nx := x0 + int(math.Round(dx))
		ny := y0 + int(math.Round(dy))
		v := tile.At(nx, ny)
		if tile.IsNoData(v) {
			return 0, false, nil
		}
		return v, true, nil
	}

	top := v00*(1-dx) + v10*dx
	bottom := v01*(1-dx) + v11*dx
	return top*(1-dy) + bottom*dy, true, nil
}

// SampleWrapped is Sample with longitudes retried modulo 360, for global
// grids stored as 0..360.
func (r *Raster) SampleWrapped(ctx context.Context, lon, lat float64) (float64, bool, error) {
	for _, l := range []float64{lon, lon + 360, lon - 360} {
		if r.Header.Contains(l, lat) {
			return r.Sample(ctx, l, lat)
		}
	}
	return 0, false, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
