package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asharando/rideplan_core/internal/api"
	"github.com/asharando/rideplan_core/internal/cache"
	"github.com/asharando/rideplan_core/internal/config"
	"github.com/asharando/rideplan_core/internal/db"
	"github.com/asharando/rideplan_core/internal/logging"
	"github.com/asharando/rideplan_core/internal/middleware"
	"github.com/asharando/rideplan_core/internal/planner"
	"github.com/asharando/rideplan_core/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	configPath := flag.String("config", ".", "directory holding an optional config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log)
	log.Info("Starting rideplan API server...")

	ctx := context.Background()

	// Initialize database connection
	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer pool.Close()
	log.Info("Database connection established")

	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return db.HealthCheck(ctx, pool) },
	}

	var viewCache *cache.Cache
	app := fiber.New(fiber.Config{
		AppName:      "Rideplan API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: api.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))

	// Initialize Redis connection
	if cfg.Cache.Enabled || cfg.RateLimit.PerSecond > 0 || cfg.RateLimit.PerDay > 0 {
		rdb, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info("Redis connection established")

		if cfg.Cache.Enabled {
			viewCache = cache.New(rdb, cfg.Cache)
			checks["redis"] = viewCache.HealthCheck
		}
		app.Use(middleware.NewRateLimiter(rdb, cfg.RateLimit).Handler())
	}

	svc := planner.New(store.New(pool), viewCache, log)
	handler := api.NewHandler(svc, checks, log)
	if viewCache != nil {
		handler.WithStats("redis", viewCache.Stats)
	}
	handler.RegisterRoutes(app)

	// 404 handler
	app.Use(api.NotFound)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.WithError(err).Error("Error during shutdown")
		}
	}()

	log.WithField("addr", addr).Info("Server listening")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}
