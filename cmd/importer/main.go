package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/asharando/rideplan_core/internal/cache"
	"github.com/asharando/rideplan_core/internal/config"
	"github.com/asharando/rideplan_core/internal/db"
	"github.com/asharando/rideplan_core/internal/importer"
	"github.com/asharando/rideplan_core/internal/logging"
	"github.com/asharando/rideplan_core/internal/planner"
	"github.com/asharando/rideplan_core/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	// Command-line flags
	csvPath := flag.String("csv", "", "Path to the plan CSV (required)")
	name := flag.String("name", "", "Plan name, e.g. \"SFR 300k Healdsburg\" (required)")
	slug := flag.String("slug", "", "URL slug, derived from the name when empty")
	description := flag.String("description", "", "Plan description")
	configPath := flag.String("config", ".", "directory holding an optional config.yaml")

	flag.Parse()

	if *csvPath == "" || *name == "" {
		fmt.Println("Usage: rideplan-import --csv=<plan.csv> --name=<plan name> [--slug=<slug>] [--description=<text>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)

	if _, err := os.Stat(*csvPath); os.IsNotExist(err) {
		log.Fatalf("Plan file not found: %s", *csvPath)
	}

	pf, err := importer.ParseFile(*csvPath, *name, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to parse plan")
	}
	if *slug != "" {
		pf.Plan.Slug = *slug
	}
	pf.Plan.Description = *description

	log.WithFields(logrus.Fields{
		"slug":      pf.Plan.Slug,
		"stops":     len(pf.Stops),
		"miles":     pf.Plan.TotalDistanceMiles,
		"elevation": pf.Plan.TotalElevationFt,
		"skipped":   pf.Skipped,
	}).Info("Parsed plan")

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer pool.Close()

	var viewCache *cache.Cache
	if cfg.Cache.Enabled {
		rdb, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, cached views will expire on their own")
		} else {
			defer rdb.Close()
			viewCache = cache.New(rdb, cfg.Cache)
		}
	}

	st := store.New(pool)
	planID, err := st.CreateBasePlan(ctx, pf.Plan, pf.Stops)
	if err != nil {
		log.WithError(err).Fatal("Import failed")
	}

	view, err := planner.New(st, viewCache, log).RecomputeBasePlan(ctx, pf.Plan.Slug)
	if err != nil {
		log.WithError(err).Fatal("Failed to compute imported plan")
	}

	log.WithFields(logrus.Fields{
		"id":          planID,
		"slug":        pf.Plan.Slug,
		"elapsed_min": view.Summary.TotalElapsedTimeMin,
		"cutoff_h":    view.Summary.CutoffHours,
	}).Info("Import completed successfully")
}
