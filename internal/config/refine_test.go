package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEmptyRefineConfig_Getters(t *testing.T) {
	cfg := EmptyRefineConfig()

	if cfg.GetMaxIterations() != 50 {
		t.Errorf("GetMaxIterations() = %d, want 50", cfg.GetMaxIterations())
	}
	if cfg.GetTolerance() != 1e-10 {
		t.Errorf("GetTolerance() = %g, want 1e-10", cfg.GetTolerance())
	}
	if !cfg.GetStrictTiePoints() {
		t.Error("GetStrictTiePoints() should default to true")
	}
	if !cfg.GetUseTiePointElevation() {
		t.Error("GetUseTiePointElevation() should default to true")
	}
	if cfg.GetElevationWorkers() != 4 {
		t.Errorf("GetElevationWorkers() = %d, want 4", cfg.GetElevationWorkers())
	}
	if cfg.GetTileSize() != 256 || cfg.GetTileCacheCapacity() != 256 {
		t.Errorf("tile defaults = %d/%d", cfg.GetTileSize(), cfg.GetTileCacheCapacity())
	}
}

func TestDefaultRefineConfig_MatchesDefaultsFile(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultRefineConfig(), fromFile); diff != "" {
		t.Errorf("config/refine.defaults.json drifted from code defaults (-code +file):\n%s", diff)
	}
}

func TestLoadRefineConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "refine.json")

	testJSON := `{
  "max_iterations": 10,
  "strict_tie_points": false,
  "tile_size": 128
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadRefineConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetMaxIterations() != 10 {
		t.Errorf("GetMaxIterations() = %d, want 10", cfg.GetMaxIterations())
	}
	if cfg.GetStrictTiePoints() {
		t.Error("GetStrictTiePoints() = true, want false")
	}
	if cfg.GetTileSize() != 128 {
		t.Errorf("GetTileSize() = %d, want 128", cfg.GetTileSize())
	}
	// Omitted fields fall back to defaults.
	if cfg.GetJacobianStep() != 1e-6 {
		t.Errorf("GetJacobianStep() = %g, want default", cfg.GetJacobianStep())
	}
}

func TestLoadRefineConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"invalid value", write("invalid.json", `{"max_iterations": 0}`), "max_iterations"},
		{"too large", write("big.json", `{"x":"`+strings.Repeat("a", 1024*1024)+`"}`), "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRefineConfig(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RefineConfig
		wantErr bool
	}{
		{"empty", RefineConfig{}, false},
		{"defaults", *DefaultRefineConfig(), false},
		{"negative tolerance", RefineConfig{Tolerance: ptrFloat64(-1)}, true},
		{"zero damping", RefineConfig{InitialDamping: ptrFloat64(0)}, true},
		{"huge jacobian step", RefineConfig{JacobianStep: ptrFloat64(2)}, true},
		{"zero workers", RefineConfig{ElevationWorkers: ptrInt(0)}, true},
		{"tiny tiles", RefineConfig{TileSize: ptrInt(1)}, true},
		{"negative capacity", RefineConfig{TileCacheCapacity: ptrInt(-1)}, true},
		{"zero min points", RefineConfig{MinTiePoints: ptrInt(0)}, true},
		{"unbounded cache", RefineConfig{TileCacheCapacity: ptrInt(0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	body := EnvDBPath + "=/var/lib/geomrefine/runs.db\n" + EnvDEMPath + "=/data/dem.flt\n"
	if err := os.WriteFile(envFile, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvDBPath, "")
	os.Unsetenv(EnvDBPath)
	t.Setenv(EnvDEMPath, "/already/set.asc")
	t.Setenv(EnvGeoidPath, "")

	env, err := LoadEnv(envFile)
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.DBPath != "/var/lib/geomrefine/runs.db" {
		t.Errorf("DBPath = %q", env.DBPath)
	}
	if env.DEMPath != "/already/set.asc" {
		t.Errorf("DEMPath = %q, existing variables must win", env.DEMPath)
	}

	if _, err := LoadEnv(filepath.Join(dir, "missing.env")); err == nil {
		t.Error("expected error for explicit missing env file")
	}
}
