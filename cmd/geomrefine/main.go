// Command geomrefine refines a sensor model geom file against tie points and
// reports geolocation accuracy before and after.
//
// Usage:
//
//	geomrefine -geom in.geom -tiepoints points.txt -out-geom out.geom [flags]
//	geomrefine history [-db runs.db] [-limit n] [-show run-id]
//	geomrefine migrate [-db runs.db] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/geomrefine/internal/config"
	"github.com/banshee-data/geomrefine/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	var err error
	if len(args) > 0 {
		switch args[0] {
		case "history":
			err = runHistory(args[1:], os.Stdout)
		case "migrate":
			err = runMigrate(args[1:], os.Stdout)
		default:
			err = runRefine(ctx, args, os.Stdout)
		}
	} else {
		err = runRefine(ctx, args, os.Stdout)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("geomrefine: %v", err)
	}
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "", "path to the run history database (default $"+config.EnvDBPath+")")
	envFile := fs.String("env", "", "load environment defaults from this .env file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := loadEnv(*envFile)
	if err != nil {
		return err
	}
	path := firstNonEmpty(*dbPath, env.DBPath)
	if path == "" {
		return fmt.Errorf("-db or %s is required", config.EnvDBPath)
	}
	return store.RunMigrateCommand(fs.Args(), path, stdout)
}

func loadEnv(path string) (config.Env, error) {
	if path == "" {
		return config.LoadEnv()
	}
	return config.LoadEnv(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
