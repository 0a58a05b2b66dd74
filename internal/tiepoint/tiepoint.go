// Package tiepoint reads and writes tie-point files: one correspondence per
// line, "row col lon lat [elevation]", tab separated, with "#" comments.
package tiepoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/geomrefine/internal/geodesy"
)

// TiePoint pairs an image position with a ground position.
type TiePoint struct {
	Row float64 `json:"row"`
	Col float64 `json:"col"`
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	// Elevation is the height above the ellipsoid in metres. It is only
	// meaningful when HasElevation is set.
	Elevation    float64 `json:"elevation"`
	HasElevation bool    `json:"has_elevation"`
	// Line is the 1-based source line, zero for points built in code.
	Line int `json:"line,omitempty"`
}

var (
	// ErrFieldCount is returned for a line without 4 or 5 fields.
	ErrFieldCount = errors.New("expected 4 or 5 fields")
	// ErrOutOfRange is returned for coordinates outside the WGS84 domain.
	ErrOutOfRange = errors.New("longitude/latitude out of range")
	// ErrRead marks a failure of the underlying reader, as opposed to a
	// malformed line.
	ErrRead = errors.New("failed to read tie points")
)

// ParseError describes a single malformed line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tie point line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var fieldNames = []string{"row", "col", "lon", "lat", "elevation"}

// ParseLine parses a single non-comment line.
func ParseLine(line string) (TiePoint, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 && len(fields) != 5 {
		return TiePoint{}, fmt.Errorf("%w, got %d", ErrFieldCount, len(fields))
	}
	var vals [5]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return TiePoint{}, fmt.Errorf("%s: %w", fieldNames[i], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return TiePoint{}, fmt.Errorf("%s: non-finite value %q", fieldNames[i], f)
		}
		vals[i] = v
	}
	tp := TiePoint{Row: vals[0], Col: vals[1], Lon: vals[2], Lat: vals[3]}
	if len(fields) == 5 {
		tp.Elevation = vals[4]
		tp.HasElevation = true
	}
	if !geodesy.ValidLonLat(tp.Lon, tp.Lat) {
		return TiePoint{}, fmt.Errorf("%w: lon=%g lat=%g", ErrOutOfRange, tp.Lon, tp.Lat)
	}
	return tp, nil
}

// Parse reads every tie point from r. Blank lines and lines starting with
// "#" are skipped. Malformed lines are reported as *ParseError values joined
// into the returned error; the valid points are returned regardless so the
// caller can decide whether to continue.
func Parse(r io.Reader) ([]TiePoint, error) {
	var points []TiePoint
	var errs []error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		tp, err := ParseLine(text)
		if err != nil {
			errs = append(errs, &ParseError{Line: lineNo, Text: text, Err: err})
			continue
		}
		tp.Line = lineNo
		points = append(points, tp)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("%w after line %d: %w", ErrRead, lineNo, err))
	}
	return points, errors.Join(errs...)
}

// Load parses the tie-point file at path. See Parse for error semantics.
func Load(path string) ([]TiePoint, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open tie point file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ParseErrors extracts the per-line errors from an error returned by Parse.
func ParseErrors(err error) []*ParseError {
	if err == nil {
		return nil
	}
	var out []*ParseError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var pe *ParseError
			if errors.As(e, &pe) {
				out = append(out, pe)
			}
		}
		return out
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		out = append(out, pe)
	}
	return out
}

// Write emits points in the tab-separated file format. The elevation column
// is written only for points that carry one.
func Write(w io.Writer, points []TiePoint) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "# row\tcol\tlon\tlat\t[elevation]"); err != nil {
		return err
	}
	for _, p := range points {
		var err error
		if p.HasElevation {
			_, err = fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\n", ff(p.Row), ff(p.Col), ff(p.Lon), ff(p.Lat), ff(p.Elevation))
		} else {
			_, err = fmt.Fprintf(bw, "%s\t%s\t%s\t%s\n", ff(p.Row), ff(p.Col), ff(p.Lon), ff(p.Lat))
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
