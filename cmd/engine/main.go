package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/fieldops/geotrack/internal/adapters/nats"
	"github.com/fieldops/geotrack/internal/adapters/postgres"
	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/usecases"
	"github.com/fieldops/geotrack/internal/pkg/config"
	"github.com/fieldops/geotrack/internal/pkg/logging"
	"github.com/fieldops/geotrack/internal/pkg/telemetry"
)

// The engine consumes location pings from the broker and runs the full
// processing pipeline on them. Deployments where devices publish straight to
// NATS (or through the simulator) use this instead of the API's embedded
// pipeline; the two share a database but must not consume the same ping
// population twice.
func main() {
	cfg, err := config.Load("geotrack-engine")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("geotrack-engine", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, "geotrack-engine", cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolMetrics(ctx, 15*time.Second)

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer pub.Close()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	zoneRepo := postgres.NewZoneRepo(db)
	pingRepo := postgres.NewPingRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	tripRepo := postgres.NewTripRepo(db)
	trackingRepo := postgres.NewTrackingRepo(db)

	catalog := usecases.NewZoneCatalog(zoneRepo)
	if err := catalog.Refresh(ctx); err != nil {
		log.Fatalf("initial zone catalog load: %v", err)
	}
	go catalog.Run(ctx, time.Duration(cfg.Engine.CatalogRefreshSec)*time.Second)

	pipeline := usecases.NewPipeline(engineConfig(cfg), catalog, pingRepo, eventRepo, tripRepo, trackingRepo, pub)
	go pipeline.Run(ctx)

	err = sub.SubscribePings(ctx, func(ctx context.Context, ping *domain.LocationPing) error {
		err := pipeline.Submit(ctx, ping)
		// Rejections are final; redelivering a bad ping cannot fix it.
		if errors.Is(err, domain.ErrInvalidPing) {
			slog.Warn("dropping invalid ping", "user_id", ping.UserID, "error", err)
			return nil
		}
		return err
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	slog.Info("engine started", "lanes", cfg.Engine.Lanes)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())
	cancel()

	// Let in-flight lane work drain
	time.Sleep(2 * time.Second)
	slog.Info("engine stopped")
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
