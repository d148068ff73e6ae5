package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// TripAuditInput is the input for the trip audit workflow.
type TripAuditInput struct {
	TripID string
	UserID string
}

// TripAuditWorkflow re-checks a completed trip's derived stats, notifies the
// user when the trip was closed by inference rather than an explicit end
// signal, and finally marks the trip audited. If a later step fails the stat
// adjustments are rolled back (saga compensation) so the next audit sweep
// picks the trip up again with a clean slate.
func TripAuditWorkflow(ctx workflow.Context, input TripAuditInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting trip audit workflow", "tripID", input.TripID)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: Load the trip as persisted
	var trip domain.Trip
	err := workflow.ExecuteActivity(ctx, "FetchTrip", input.TripID).Get(ctx, &trip)
	if err != nil {
		return err
	}

	// Step 2: Recompute stats from the stored route and persist corrections
	var adjusted bool
	err = workflow.ExecuteActivity(ctx, "VerifyTripStats", trip).Get(ctx, &adjusted)
	if err != nil {
		return err
	}
	if adjusted {
		logger.Info("Trip stats corrected", "tripID", input.TripID)
	}

	// Step 3: Tell the user about inferred closes
	if trip.InferredEnd {
		err = workflow.ExecuteActivity(ctx, "NotifyTripClosed", input.UserID, input.TripID).Get(ctx, nil)
		if err != nil {
			logger.Warn("trip close notification failed, compensating", "error", err)
			if adjusted {
				// Compensate: put the original stats back
				_ = workflow.ExecuteActivity(ctx, "RestoreTripStats", trip).Get(ctx, nil)
			}
			return err
		}
	}

	// Step 4: Mark the trip audited so the sweep skips it from now on
	err = workflow.ExecuteActivity(ctx, "MarkTripAudited", input.TripID).Get(ctx, nil)
	if err != nil {
		if adjusted {
			_ = workflow.ExecuteActivity(ctx, "RestoreTripStats", trip).Get(ctx, nil)
		}
		return err
	}

	logger.Info("Trip audited", "tripID", input.TripID)
	return nil
}
