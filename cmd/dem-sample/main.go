// Command dem-sample prints DEM heights, geoid undulations and ellipsoidal
// heights for lon/lat pairs given as arguments or read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/geomrefine/internal/elevation"
	"github.com/banshee-data/geomrefine/internal/tilecache"
)

func main() {
	var demPath, geoidPath string
	var defaultHeight float64
	var tileSize, capacity int

	flag.StringVar(&demPath, "dem", "", "DEM raster (.asc or .flt)")
	flag.StringVar(&geoidPath, "geoid", "", "geoid undulation raster")
	flag.Float64Var(&defaultHeight, "default-height", 0, "height used outside the DEM")
	flag.IntVar(&tileSize, "tile-size", 256, "tile cache tile width and height")
	flag.IntVar(&capacity, "cache-tiles", 256, "tile cache capacity in tiles")
	flag.Parse()

	if demPath == "" {
		log.Fatalf("-dem is required")
	}

	src, err := elevation.OpenDEM(demPath, geoidPath, defaultHeight, tilecache.Config{
		TileWidth:  tileSize,
		TileHeight: tileSize,
		Capacity:   capacity,
	})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer src.Close()

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 {
		in = strings.NewReader(strings.Join(flag.Args(), "\n"))
	}
	if err := sample(context.Background(), src, in, os.Stdout); err != nil {
		log.Fatalf("sample: %v", err)
	}

	st := src.DEM.CacheStats()
	log.Printf("tile cache: %d hits, %d misses, %d evictions, %d cached", st.Hits, st.Misses, st.Evictions, st.Cached)
}

// sample reads "lon lat" or "lon,lat" lines from in and writes
// "lon lat h_msl N h_ellipsoid" lines to out.
func sample(ctx context.Context, src *elevation.DEMSource, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
		if len(fields) != 2 {
			return fmt.Errorf("line %d: expected lon lat, got %q", lineNo, text)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return fmt.Errorf("line %d: lon: %w", lineNo, err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("line %d: lat: %w", lineNo, err)
		}

		msl, err := src.HeightAboveMSL(ctx, lon, lat)
		if err != nil {
			return err
		}
		n, err := src.GeoidUndulation(ctx, lon, lat)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%.8f %.8f %.3f %.3f %.3f\n", lon, lat, msl, n, msl+n)
	}
	return scanner.Err()
}
