package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names read by LoadEnv.
const (
	EnvDBPath    = "GEOMREFINE_DB"
	EnvDEMPath   = "GEOMREFINE_DEM"
	EnvGeoidPath = "GEOMREFINE_GEOID"
	EnvConfig    = "GEOMREFINE_CONFIG"
)

// Env holds path defaults taken from the process environment, optionally
// seeded from .env files. Command-line flags override these.
type Env struct {
	DBPath     string
	DEMPath    string
	GeoidPath  string
	ConfigPath string
}

// LoadEnv loads the given .env files (".env" when none are given) without
// overriding variables already set, then reads the GEOMREFINE_* variables.
// A missing default .env file is not an error.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, err
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Env{}, err
	}
	return Env{
		DBPath:     os.Getenv(EnvDBPath),
		DEMPath:    os.Getenv(EnvDEMPath),
		GeoidPath:  os.Getenv(EnvGeoidPath),
		ConfigPath: os.Getenv(EnvConfig),
	}, nil
}
