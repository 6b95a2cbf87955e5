package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/asharando/rideplan_core/internal/cache"
	"github.com/asharando/rideplan_core/internal/config"
	"github.com/asharando/rideplan_core/internal/db"
	"github.com/asharando/rideplan_core/internal/logging"
	"github.com/asharando/rideplan_core/internal/planner"
	"github.com/asharando/rideplan_core/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", ".", "directory holding an optional config.yaml")
	only := flag.String("slug", "", "recompute a single plan instead of all of them")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)

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
	svc := planner.New(st, viewCache, log)

	slugs := []string{*only}
	if *only == "" {
		plans, err := st.ListPlans(ctx)
		if err != nil {
			log.WithError(err).Fatal("Failed to list plans")
		}
		slugs = slugs[:0]
		for _, p := range plans {
			slugs = append(slugs, p.Slug)
		}
	}
	if len(slugs) == 0 {
		log.Info("No plans found. Import a plan first")
		return
	}

	if !*yes {
		fmt.Printf("This will overwrite the computed columns of %d plan(s).\n", len(slugs))
		fmt.Print("Continue? (yes/no): ")
		var confirm string
		fmt.Scanln(&confirm)

		if confirm != "yes" && confirm != "y" {
			log.Info("Backfill cancelled")
			return
		}
	}

	startTime := time.Now()
	failed := 0
	for _, slug := range slugs {
		view, err := svc.RecomputeBasePlan(ctx, slug)
		if err != nil {
			log.WithError(err).WithField("slug", slug).Error("Failed to recompute plan")
			failed++
			continue
		}
		log.WithFields(logrus.Fields{
			"slug":            slug,
			"stops":           len(view.Stops),
			"elapsed_min":     view.Summary.TotalElapsedTimeMin,
			"min_time_bank":   view.Summary.MinTimeBankMin,
			"weighted_effort": view.Summary.WeightedDifficulty,
		}).Info("Plan recomputed")
	}

	log.WithFields(logrus.Fields{
		"plans":    len(slugs),
		"failed":   failed,
		"duration": time.Since(startTime).String(),
	}).Info("Backfill completed")

	if failed > 0 {
		os.Exit(1)
	}
}
