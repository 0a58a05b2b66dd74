package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/geomrefine/internal/config"
	"github.com/banshee-data/geomrefine/internal/fsutil"
	"github.com/banshee-data/geomrefine/internal/monitoring"
)

const testGeom = `type:  ossimAffineModel
lon_0:  1.4001
lon_col:  0.0001
lon_row:  1e-06
lat_0:  43.6499
lat_col:  2e-06
lat_row:  -0.0001
`

// writeFixtures writes a shifted affine geom and tie points generated from
// the unshifted model.
func writeFixtures(t *testing.T) (dir, geomPath, tpPath string) {
	t.Helper()
	dir = t.TempDir()
	geomPath = filepath.Join(dir, "in.geom")
	if err := os.WriteFile(geomPath, []byte(testGeom), 0644); err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	sb.WriteString("# row\tcol\tlon\tlat\n")
	for row := 0.0; row <= 100; row += 25 {
		for col := 0.0; col <= 100; col += 25 {
			lon := 1.40 + 1e-4*col + 1e-6*row
			lat := 43.65 + 2e-6*col - 1e-4*row
			fmt.Fprintf(&sb, "%g\t%g\t%.12f\t%.12f\n", row, col, lon, lat)
		}
	}
	tpPath = filepath.Join(dir, "points.txt")
	if err := os.WriteFile(tpPath, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, geomPath, tpPath
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvDBPath, config.EnvDEMPath, config.EnvGeoidPath, config.EnvConfig} {
		t.Setenv(k, "")
	}
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

func TestRunRefine_AllOutputs(t *testing.T) {
	clearEnv(t)
	dir, geomPath, tpPath := writeFixtures(t)
	out := func(name string) string { return filepath.Join(dir, name) }

	var stdout bytes.Buffer
	err := runRefine(context.Background(), []string{
		"-geom", geomPath,
		"-tiepoints", tpPath,
		"-out-geom", out("out.geom"),
		"-stats", "-",
		"-json", out("report.json"),
		"-plot", out("residuals.png"),
		"-html", out("report.html"),
		"-db", out("runs.db"),
	}, &stdout)
	if err != nil {
		t.Fatalf("runRefine: %v", err)
	}

	if !strings.Contains(stdout.String(), "# refined model") {
		t.Errorf("stats not written to stdout:\n%s", stdout.String())
	}
	for _, name := range []string{"out.geom", "report.json", "residuals.png", "report.html", "runs.db"} {
		if info, err := os.Stat(out(name)); err != nil || info.Size() == 0 {
			t.Errorf("%s missing or empty: %v", name, err)
		}
	}

	var history bytes.Buffer
	if err := runHistory([]string{"-db", out("runs.db")}, &history); err != nil {
		t.Fatalf("runHistory: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(history.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("history has %d lines, want header + 1 run:\n%s", len(lines), history.String())
	}
	runID := strings.Fields(lines[1])[0]

	var shown bytes.Buffer
	if err := runHistory([]string{"-db", out("runs.db"), "-show", runID}, &shown); err != nil {
		t.Fatalf("history -show: %v", err)
	}
	if !strings.Contains(shown.String(), "ossimAffineModel") {
		t.Errorf("unexpected -show output:\n%s", shown.String())
	}

	var migrate bytes.Buffer
	if err := runMigrate([]string{"-db", out("runs.db"), "status"}, &migrate); err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	if !strings.Contains(migrate.String(), "version: 2") {
		t.Errorf("unexpected migrate output: %s", migrate.String())
	}

	if err := runHistory([]string{"-db", out("runs.db"), "-delete", runID}, &bytes.Buffer{}); err != nil {
		t.Fatalf("history -delete: %v", err)
	}
}

func TestRunRefine_GeoidWithoutDEM(t *testing.T) {
	clearEnv(t)
	dir, geomPath, tpPath := writeFixtures(t)

	geoid := "ncols 4\nnrows 2\nxllcorner 0\nyllcorner -90\ncellsize 90\n50 50 50 50\n50 50 50 50\n"
	geoidPath := filepath.Join(dir, "geoid.asc")
	if err := os.WriteFile(geoidPath, []byte(geoid), 0644); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	err := runRefine(context.Background(), []string{
		"-geom", geomPath, "-tiepoints", tpPath, "-geoid", geoidPath, "-height", "20", "-json", "-",
	}, &stdout)
	if err != nil {
		t.Fatalf("runRefine: %v", err)
	}
	if !strings.Contains(stdout.String(), `"elevation": 70`) {
		t.Errorf("geoid undulation not added to the constant height:\n%s", stdout.String())
	}
}

func TestRunRefine_DEM(t *testing.T) {
	clearEnv(t)
	dir, geomPath, tpPath := writeFixtures(t)

	dem := "ncols 4\nnrows 4\nxllcorner 1.3\nyllcorner 43.5\ncellsize 0.1\nNODATA_value -9999\n" +
		"100 100 100 100\n100 100 100 100\n100 100 100 100\n100 100 100 100\n"
	demPath := filepath.Join(dir, "dem.asc")
	if err := os.WriteFile(demPath, []byte(dem), 0644); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte(config.EnvDEMPath+"="+demPath+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv(config.EnvDEMPath)

	var stdout bytes.Buffer
	err := runRefine(context.Background(), []string{
		"-geom", geomPath, "-tiepoints", tpPath, "-env", envPath, "-json", "-",
	}, &stdout)
	if err != nil {
		t.Fatalf("runRefine: %v", err)
	}
	if !strings.Contains(stdout.String(), `"elevation": 100`) {
		t.Errorf("DEM heights not used:\n%s", stdout.String())
	}
}

func TestRunRefine_Errors(t *testing.T) {
	clearEnv(t)
	dir, geomPath, tpPath := writeFixtures(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing inputs", nil},
		{"unknown flag", []string{"-nope"}},
		{"bad units", []string{"-geom", geomPath, "-tiepoints", tpPath, "-units", "mph"}},
		{"stray argument", []string{"-geom", geomPath, "-tiepoints", tpPath, "extra"}},
		{"missing dem", []string{"-geom", geomPath, "-tiepoints", tpPath, "-dem", filepath.Join(dir, "none.asc")}},
		{"bad config", []string{"-geom", geomPath, "-tiepoints", tpPath, "-config", filepath.Join(dir, "none.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runRefine(context.Background(), tt.args, &bytes.Buffer{}); err == nil {
				t.Errorf("runRefine(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestRunRefine_Version(t *testing.T) {
	var stdout bytes.Buffer
	if err := runRefine(context.Background(), []string{"-version"}, &stdout); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout.String(), "geomrefine ") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q, want b", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty = %q, want empty", got)
	}
}

func TestWriteOutput_MemoryFS(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	prev := outputFS
	outputFS = mem
	t.Cleanup(func() { outputFS = prev })

	write := func(w io.Writer) error {
		_, err := io.WriteString(w, "report")
		return err
	}
	if err := writeOutput("out/nested/report.txt", io.Discard, write); err != nil {
		t.Fatalf("writeOutput: %v", err)
	}
	data, err := mem.ReadFile("out/nested/report.txt")
	if err != nil || string(data) != "report" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	var stdout bytes.Buffer
	if err := writeOutput("-", &stdout, write); err != nil || stdout.String() != "report" {
		t.Errorf("stdout output = %q, %v", stdout.String(), err)
	}
	if err := writeOutput("", &stdout, func(io.Writer) error { t.Fatal("called for empty path"); return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestPlotFormat(t *testing.T) {
	tests := map[string]string{
		"a.png":  "png",
		"a.SVG":  "svg",
		"a.pdf":  "pdf",
		"a":      "png",
		"a.webp": "png",
	}
	for path, want := range tests {
		if got := plotFormat(path); got != want {
			t.Errorf("plotFormat(%q) = %q, want %q", path, got, want)
		}
	}
}
