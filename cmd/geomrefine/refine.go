package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/banshee-data/geomrefine/internal/config"
	"github.com/banshee-data/geomrefine/internal/elevation"
	"github.com/banshee-data/geomrefine/internal/fsutil"
	"github.com/banshee-data/geomrefine/internal/monitoring"
	"github.com/banshee-data/geomrefine/internal/refine"
	"github.com/banshee-data/geomrefine/internal/report"
	"github.com/banshee-data/geomrefine/internal/store"
	"github.com/banshee-data/geomrefine/internal/tilecache"
	"github.com/banshee-data/geomrefine/internal/units"
	"github.com/banshee-data/geomrefine/internal/version"
)

type refineFlags struct {
	geomPath     string
	tiePointPath string
	outGeomPath  string
	statsPath    string
	units        string
	jsonPath     string
	plotPath     string
	htmlPath     string
	demPath      string
	geoidPath    string
	height       float64
	configPath   string
	dbPath       string
	envFile      string
	lenient      bool
	verbose      bool
	showVersion  bool

	heightSet bool
}

func parseRefineFlags(args []string) (*refineFlags, error) {
	f := &refineFlags{}
	fs := flag.NewFlagSet("geomrefine", flag.ContinueOnError)
	fs.StringVar(&f.geomPath, "geom", "", "input geom file (required)")
	fs.StringVar(&f.tiePointPath, "tiepoints", "", "tie point file: row col lon lat [elevation] per line (required)")
	fs.StringVar(&f.outGeomPath, "out-geom", "", "write the refined geom file here")
	fs.StringVar(&f.statsPath, "stats", "", "write the text statistics report here (- for stdout)")
	fs.StringVar(&f.units, "units", units.Metres, "length units for the text report ("+units.GetValidUnitsString()+")")
	fs.StringVar(&f.jsonPath, "json", "", "write the JSON report here (- for stdout)")
	fs.StringVar(&f.plotPath, "plot", "", "save a residual scatter plot here (.png, .svg or .pdf)")
	fs.StringVar(&f.htmlPath, "html", "", "write an interactive HTML report here")
	fs.StringVar(&f.demPath, "dem", "", "DEM raster (.asc or .flt) giving heights above mean sea level (default $"+config.EnvDEMPath+")")
	fs.StringVar(&f.geoidPath, "geoid", "", "geoid undulation raster (default $"+config.EnvGeoidPath+")")
	fs.Float64Var(&f.height, "height", 0, "constant height when no DEM is given (above MSL if -geoid is set, else above the ellipsoid), or the DEM fallback height")
	fs.StringVar(&f.configPath, "config", "", "refinement config JSON (default $"+config.EnvConfig+")")
	fs.StringVar(&f.dbPath, "db", "", "record the run in this SQLite database (default $"+config.EnvDBPath+")")
	fs.StringVar(&f.envFile, "env", "", "load environment defaults from this .env file")
	fs.BoolVar(&f.lenient, "lenient", false, "skip malformed tie point lines instead of failing")
	fs.BoolVar(&f.verbose, "verbose", false, "log per-point and per-iteration detail")
	fs.BoolVar(&f.showVersion, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "height" {
			f.heightSet = true
		}
	})
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if !units.IsValid(f.units) {
		return nil, fmt.Errorf("invalid -units %q: must be one of %s", f.units, units.GetValidUnitsString())
	}
	return f, nil
}

func runRefine(ctx context.Context, args []string, stdout io.Writer) error {
	f, err := parseRefineFlags(args)
	if err != nil {
		return err
	}
	if f.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	if f.geomPath == "" || f.tiePointPath == "" {
		return fmt.Errorf("-geom and -tiepoints are required")
	}
	monitoring.SetVerbose(f.verbose)

	env, err := loadEnv(f.envFile)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	cfg := config.EmptyRefineConfig()
	if path := firstNonEmpty(f.configPath, env.ConfigPath); path != "" {
		cfg, err = config.LoadRefineConfig(path)
		if err != nil {
			return err
		}
	}

	src, elevationDesc, closeSrc, err := openElevation(f, env, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	res, err := refine.Run(ctx, refine.Job{
		GeomPath:     f.geomPath,
		TiePointPath: f.tiePointPath,
		OutGeomPath:  f.outGeomPath,
		Elevation:    src,
		Strict:       cfg.GetStrictTiePoints() && !f.lenient,
		Options:      refine.OptionsFromConfig(cfg),
	})
	if err != nil {
		return err
	}
	log.Print(report.Summary(res))

	if err := writeOutput(f.statsPath, stdout, func(w io.Writer) error { return report.WriteText(w, res, f.units) }); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	if err := writeOutput(f.jsonPath, stdout, func(w io.Writer) error { return report.WriteJSON(w, res) }); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	if err := writeOutput(f.htmlPath, stdout, func(w io.Writer) error { return report.RenderHTML(w, res) }); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	if err := writeOutput(f.plotPath, stdout, func(w io.Writer) error {
		return report.WriteResidualPlot(w, res, plotFormat(f.plotPath))
	}); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}

	if dbPath := firstNonEmpty(f.dbPath, env.DBPath); dbPath != "" {
		run, err := recordRun(dbPath, res, f, elevationDesc)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		log.Printf("recorded run %s in %s", run.RunID, dbPath)
	}
	return nil
}

// openElevation picks the elevation source: a DEM (with optional geoid), a
// geoid over the constant height, or the constant height alone.
func openElevation(f *refineFlags, env config.Env, cfg *config.RefineConfig) (elevation.Source, string, func(), error) {
	height := cfg.GetDefaultHeight()
	if f.heightSet {
		height = f.height
	}
	demPath := firstNonEmpty(f.demPath, env.DEMPath)
	geoidPath := firstNonEmpty(f.geoidPath, env.GeoidPath)
	if demPath == "" && geoidPath == "" {
		return elevation.Constant{Height: height}, fmt.Sprintf("constant:%g", height), func() {}, nil
	}

	tiles := tilecache.Config{
		TileWidth:  cfg.GetTileSize(),
		TileHeight: cfg.GetTileSize(),
		Capacity:   cfg.GetTileCacheCapacity(),
	}
	var (
		src  *elevation.DEMSource
		desc string
		err  error
	)
	if demPath != "" {
		src, err = elevation.OpenDEM(demPath, geoidPath, height, tiles)
		desc = "dem:" + demPath
		if geoidPath != "" {
			desc += "+geoid:" + geoidPath
		}
	} else {
		src, err = elevation.OpenGeoid(geoidPath, height, tiles)
		desc = fmt.Sprintf("constant:%g+geoid:%s", height, geoidPath)
	}
	if err != nil {
		return nil, "", nil, err
	}
	closeSrc := func() {
		st := src.CacheStats()
		monitoring.Logf("elevation tile cache: %d hits, %d misses, %d evictions", st.Hits, st.Misses, st.Evictions)
		src.Close()
	}
	return src, desc, closeSrc, nil
}

func recordRun(dbPath string, res *refine.Result, f *refineFlags, elevationDesc string) (*store.Run, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		return nil, err
	}
	geomPath, _ := filepath.Abs(f.geomPath)
	tpPath, _ := filepath.Abs(f.tiePointPath)
	return store.NewRunStore(db).SaveResult(res, geomPath, tpPath, elevationDesc)
}

// outputFS receives report files.
var outputFS fsutil.FileSystem = fsutil.OSFileSystem{}

// writeOutput calls fn with stdout for "-", a new file in outputFS for any
// other non-empty path, and does nothing for an empty path.
func writeOutput(path string, stdout io.Writer, fn func(io.Writer) error) error {
	switch path {
	case "":
		return nil
	case "-":
		return fn(stdout)
	}
	file, err := fsutil.CreateWithParents(outputFS, path)
	if err != nil {
		return err
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// plotFormat maps a plot file name to a gonum/plot format, PNG by default.
func plotFormat(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "svg", "pdf", "eps", "jpg", "jpeg", "tif", "tiff":
		return ext
	}
	return "png"
}
