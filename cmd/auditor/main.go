package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fieldops/geotrack/internal/adapters/postgres"
	"github.com/fieldops/geotrack/internal/pkg/config"
	"github.com/fieldops/geotrack/internal/pkg/logging"
	"github.com/fieldops/geotrack/internal/workflows"
)

// Completed trips settle for this long before the audit looks at them, so a
// straggling late ping cannot race the stat verification.
const auditSettleTime = 10 * time.Minute

const sweepInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load("geotrack-auditor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("geotrack-auditor", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	tripRepo := postgres.NewTripRepo(db)

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort: cfg.Temporal.HostPort,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.TripAuditWorkflow)
	w.RegisterActivity(&workflows.TripAuditActivities{
		Trips: tripRepo,
		// Notifier stays nil until a push provider is wired up; the
		// activity logs instead.
	})

	// Periodic sweep: start an audit workflow for every settled,
	// unaudited trip. Workflow IDs are derived from the trip ID so a
	// sweep overlapping a running audit is a no-op.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			sweep(ctx, c, cfg.Temporal.TaskQueue, tripRepo)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("auditor worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
	cancel()
}

func sweep(ctx context.Context, c client.Client, taskQueue string, tripRepo *postgres.TripRepo) {
	before := time.Now().Add(-auditSettleTime)
	trips, err := tripRepo.ListUnaudited(ctx, before, 100)
	if err != nil {
		slog.Error("audit sweep query failed", "error", err)
		return
	}

	for _, trip := range trips {
		opts := client.StartWorkflowOptions{
			ID:        "trip-audit-" + trip.ID,
			TaskQueue: taskQueue,
		}
		_, err := c.ExecuteWorkflow(ctx, opts, workflows.TripAuditWorkflow, workflows.TripAuditInput{
			TripID: trip.ID,
			UserID: trip.UserID,
		})
		if err != nil {
			// Includes "already started", which just means a previous
			// sweep got here first.
			slog.Warn("start audit workflow", "trip_id", trip.ID, "error", err)
			continue
		}
		slog.Info("audit workflow started", "trip_id", trip.ID)
	}
}
