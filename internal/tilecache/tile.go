package tilecache

import (
	"image"
	"math"
)

// Tile is a rectangle of single-band float64 samples stored row-major.
type Tile struct {
	Rect   image.Rectangle
	Data   []float64
	NoData float64
}

// NewTile allocates a tile covering rect filled with noData.
func NewTile(rect image.Rectangle, noData float64) *Tile {
	rect = rect.Canon()
	t := &Tile{Rect: rect, NoData: noData, Data: make([]float64, rect.Dx()*rect.Dy())}
	if noData != 0 {
		for i := range t.Data {
			t.Data[i] = noData
		}
	}
	return t
}

func (t *Tile) offset(x, y int) int {
	return (y-t.Rect.Min.Y)*t.Rect.Dx() + (x - t.Rect.Min.X)
}

// At returns the sample at absolute image coordinates (x, y), or NoData when
// the point lies outside the tile.
func (t *Tile) At(x, y int) float64 {
	if !image.Pt(x, y).In(t.Rect) {
		return t.NoData
	}
	return t.Data[t.offset(x, y)]
}

// Set writes a sample; points outside the tile are ignored.
func (t *Tile) Set(x, y int, v float64) {
	if !image.Pt(x, y).In(t.Rect) {
		return
	}
	t.Data[t.offset(x, y)] = v
}

// IsNoData reports whether v equals the tile's no-data value. A NaN no-data
// value matches any NaN.
func (t *Tile) IsNoData(v float64) bool {
	if math.IsNaN(t.NoData) {
		return math.IsNaN(v)
	}
	return v == t.NoData
}

// IsBlank reports whether the tile is empty or holds only no-data samples.
func (t *Tile) IsBlank() bool {
	if t == nil || t.Rect.Empty() {
		return true
	}
	for _, v := range t.Data {
		if !t.IsNoData(v) {
			return false
		}
	}
	return true
}

// CopyFrom copies the overlapping region of src into t. Samples equal to
// src's no-data value are written as t's no-data value.
func (t *Tile) CopyFrom(src *Tile) {
	if src == nil {
		return
	}
	overlap := t.Rect.Intersect(src.Rect)
	if overlap.Empty() {
		return
	}
	w := overlap.Dx()
	for y := overlap.Min.Y; y < overlap.Max.Y; y++ {
		so := src.offset(overlap.Min.X, y)
		do := t.offset(overlap.Min.X, y)
		row := src.Data[so : so+w]
		if src.NoData == t.NoData || (math.IsNaN(src.NoData) && math.IsNaN(t.NoData)) {
			copy(t.Data[do:do+w], row)
			continue
		}
		for i, v := range row {
			if src.IsNoData(v) {
				v = t.NoData
			}
			t.Data[do+i] = v
		}
	}
}
