package elevation

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Header describes a north-up grid whose lower-left cell corner is at
// (XLLCorner, YLLCorner) in degrees.
type Header struct {
	NCols     int
	NRows     int
	XLLCorner float64
	YLLCorner float64
	CellSize  float64
	NoData    float64
	ByteOrder binary.ByteOrder
}

// DefaultNoData is used when a grid header does not declare one.
const DefaultNoData = -9999

// Top returns the latitude of the upper edge of the grid.
func (h Header) Top() float64 { return h.YLLCorner + float64(h.NRows)*h.CellSize }

// Right returns the longitude of the right edge of the grid.
func (h Header) Right() float64 { return h.XLLCorner + float64(h.NCols)*h.CellSize }

// Pixel converts a ground point to fractional pixel coordinates where
// integer values are cell centres.
func (h Header) Pixel(lon, lat float64) (x, y float64) {
	return (lon-h.XLLCorner)/h.CellSize - 0.5, (h.Top()-lat)/h.CellSize - 0.5
}

// Contains reports whether (lon, lat) falls inside the grid extent.
func (h Header) Contains(lon, lat float64) bool {
	return lon >= h.XLLCorner && lon <= h.Right() && lat >= h.YLLCorner && lat <= h.Top()
}

func (h Header) validate() error {
	if h.NCols < 2 || h.NRows < 2 {
		return fmt.Errorf("grid must be at least 2x2, got %dx%d", h.NCols, h.NRows)
	}
	if h.CellSize <= 0 {
		return fmt.Errorf("cellsize must be positive, got %g", h.CellSize)
	}
	return nil
}

type headerBuilder struct {
	h                Header
	seen             map[string]bool
	xCenter, yCenter bool
	xValue, yValue   float64
}

func newHeaderBuilder() *headerBuilder {
	return &headerBuilder{
		h:    Header{NoData: DefaultNoData, ByteOrder: binary.LittleEndian},
		seen: map[string]bool{},
	}
}

// isHeaderKey reports whether key names a grid header field.
func isHeaderKey(key string) bool {
	switch strings.ToLower(key) {
	case "ncols", "nrows", "xllcorner", "xllcenter", "yllcorner", "yllcenter",
		"cellsize", "nodata_value", "nodata", "byteorder", "nbits", "pixeltype", "layout", "nbands":
		return true
	}
	return false
}

func (b *headerBuilder) set(key, value string) error {
	key = strings.ToLower(key)
	b.seen[key] = true
	var err error
	switch key {
	case "ncols":
		b.h.NCols, err = strconv.Atoi(value)
	case "nrows":
		b.h.NRows, err = strconv.Atoi(value)
	case "xllcorner", "xllcenter":
		b.xCenter = key == "xllcenter"
		b.xValue, err = strconv.ParseFloat(value, 64)
	case "yllcorner", "yllcenter":
		b.yCenter = key == "yllcenter"
		b.yValue, err = strconv.ParseFloat(value, 64)
	case "cellsize":
		b.h.CellSize, err = strconv.ParseFloat(value, 64)
	case "nodata_value", "nodata":
		b.h.NoData, err = strconv.ParseFloat(value, 64)
	case "byteorder":
		switch strings.ToUpper(value) {
		case "LSBFIRST", "I":
			b.h.ByteOrder = binary.LittleEndian
		case "MSBFIRST", "M":
			b.h.ByteOrder = binary.BigEndian
		default:
			err = fmt.Errorf("unknown byte order %q", value)
		}
	case "nbits":
		if value != "32" {
			err = fmt.Errorf("only 32-bit float grids are supported, got nbits %s", value)
		}
	}
	if err != nil {
		return fmt.Errorf("header %s: %w", key, err)
	}
	return nil
}

func (b *headerBuilder) build() (Header, error) {
	for _, required := range []string{"ncols", "nrows", "cellsize"} {
		if !b.seen[required] {
			return Header{}, fmt.Errorf("grid header missing %s", required)
		}
	}
	if !(b.seen["xllcorner"] || b.seen["xllcenter"]) || !(b.seen["yllcorner"] || b.seen["yllcenter"]) {
		return Header{}, fmt.Errorf("grid header missing lower-left origin")
	}
	b.h.XLLCorner, b.h.YLLCorner = b.xValue, b.yValue
	if b.xCenter {
		b.h.XLLCorner -= b.h.CellSize / 2
	}
	if b.yCenter {
		b.h.YLLCorner -= b.h.CellSize / 2
	}
	if err := b.h.validate(); err != nil {
		return Header{}, err
	}
	return b.h, nil
}
