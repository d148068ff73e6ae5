package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/fieldops/geotrack/internal/adapters/http"
	natsadapter "github.com/fieldops/geotrack/internal/adapters/nats"
	"github.com/fieldops/geotrack/internal/adapters/postgres"
	"github.com/fieldops/geotrack/internal/adapters/valkey"
	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
	"github.com/fieldops/geotrack/internal/core/usecases"
	"github.com/fieldops/geotrack/internal/pkg/config"
	"github.com/fieldops/geotrack/internal/pkg/logging"
	"github.com/fieldops/geotrack/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("geotrack-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("geotrack-api", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolMetrics(ctx, 15*time.Second)

	// Cache
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS
	var pub ports.EventPublisher = noopPublisher{}
	nc, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer nc.Close()
		pub = nc
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	}

	// Repos
	zoneRepo := postgres.NewZoneRepo(db)
	pingRepo := postgres.NewPingRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	tripRepo := postgres.NewTripRepo(db)
	trackingRepo := postgres.NewTrackingRepo(db)

	// Zone catalog, refreshed in the background
	catalog := usecases.NewZoneCatalog(zoneRepo)
	if err := catalog.Refresh(ctx); err != nil {
		log.Fatalf("initial zone catalog load: %v", err)
	}
	go catalog.Run(ctx, time.Duration(cfg.Engine.CatalogRefreshSec)*time.Second)

	// Processing pipeline
	pipeline := usecases.NewPipeline(engineConfig(cfg), catalog, pingRepo, eventRepo, tripRepo, trackingRepo, pub)
	go pipeline.Run(ctx)

	deps := &http.Dependencies{
		Pipeline:  pipeline,
		Zones:     usecases.NewZoneService(zoneRepo, eventRepo, cacheSvc),
		Locations: usecases.NewLocationService(pingRepo, eventRepo, cacheSvc),
		Trips:     usecases.NewTripService(tripRepo),
		Tracking:  usecases.NewTrackingService(trackingRepo, tripRepo, cacheSvc),
		NATS:      natsConn,
		DB:        db,
		Cache:     cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "GeoTrack API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.fieldops.example",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Stop the pipeline after the listener so in-flight submits drain
	cancel()

	slog.Info("server stopped")
}

func engineConfig(cfg *config.Config) usecases.EngineConfig {
	return usecases.EngineConfig{
		Lanes:              cfg.Engine.Lanes,
		AccuracyThresholdM: cfg.Engine.AccuracyThresholdM,
		Hysteresis:         cfg.Engine.HysteresisCount,
		DwellThreshold:     time.Duration(cfg.Engine.DwellThresholdMin) * time.Minute,
		ReorderWindow:      time.Duration(cfg.Engine.ReorderWindowSec) * time.Second,
		FutureSkew:         time.Duration(cfg.Engine.FutureSkewSec) * time.Second,
		IdleEvict:          time.Duration(cfg.Engine.MembershipIdleEvictMin) * time.Minute,
		Trip: usecases.TripConfig{
			MinMovementM:     cfg.Engine.MinMovementM,
			Inactivity:       time.Duration(cfg.Engine.TripInactivityMin) * time.Minute,
			DestinationDwell: time.Duration(cfg.Engine.DestinationDwellMin) * time.Minute,
			MaxRoutePoints:   cfg.Engine.MaxRoutePoints,
		},
	}
}

// noopPublisher keeps the pipeline running when the broker is down; events
// are still persisted, only the live relay goes dark.
type noopPublisher struct{}

func (noopPublisher) PublishPing(ctx context.Context, ping *domain.LocationPing) error { return nil }

func (noopPublisher) PublishZoneEvent(ctx context.Context, event *domain.GeofenceEvent) error {
	return nil
}

func (noopPublisher) PublishTripUpdate(ctx context.Context, trip *domain.Trip) error { return nil }
