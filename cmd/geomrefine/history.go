package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/geomrefine/internal/config"
	"github.com/banshee-data/geomrefine/internal/store"
)

func runHistory(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	dbPath := fs.String("db", "", "path to the run history database (default $"+config.EnvDBPath+")")
	limit := fs.Int("limit", 20, "number of runs to list (0 for all)")
	show := fs.String("show", "", "print the per-point errors of this run")
	del := fs.String("delete", "", "delete this run")
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

	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		return err
	}
	runs := store.NewRunStore(db)

	switch {
	case *del != "":
		if err := runs.Delete(*del); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted run %s\n", *del)
		return nil
	case *show != "":
		return showRun(runs, *show, stdout)
	}

	list, err := runs.List(*limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tMODEL\tPOINTS\tITER\tRMSE BEFORE (m)\tRMSE AFTER (m)")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.3f\t%.3f\n",
			r.RunID, time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339), r.ModelType,
			r.PointCount, r.Iterations, r.RMSEBefore, r.RMSEAfter)
	}
	return tw.Flush()
}

func showRun(runs *store.RunStore, id string, stdout io.Writer) error {
	run, err := runs.Get(id)
	if err != nil {
		return err
	}
	points, err := runs.Points(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run %s: %s, %s, elevation %s\n", run.RunID, run.ModelType, run.StopReason, run.ElevationSource)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tROW\tCOL\tGLOBAL BEFORE\tGLOBAL AFTER\tERROR")
	for _, p := range points {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.3f\t%.3f\t%s\n", p.Line, p.Row, p.Col, p.GlobalBefore, p.GlobalAfter, p.Error)
	}
	return tw.Flush()
}
