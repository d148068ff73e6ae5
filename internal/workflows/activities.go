package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
	"github.com/fieldops/geotrack/internal/pkg/geospatial"
)

// TripAuditActivities holds the activity implementations for the trip audit
// workflow.
type TripAuditActivities struct {
	Trips    ports.TripRepository
	Notifier ports.NotificationService
}

// FetchTrip loads a trip by ID.
func (a *TripAuditActivities) FetchTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	trip, err := a.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("fetch trip %s: %w", tripID, err)
	}
	return trip, nil
}

// VerifyTripStats recomputes distance, duration, and average speed from the
// stored route polyline and persists corrections when the stored values drift
// beyond tolerance. Returns whether anything was adjusted.
//
// The route is decimated before storage, so the recomputed distance is a
// lower bound; only corrections outside a 10% band are applied.
func (a *TripAuditActivities) VerifyTripStats(ctx context.Context, trip domain.Trip) (bool, error) {
	if trip.EndTime == nil || len(trip.Route) < 2 {
		return false, nil
	}

	var distKm float64
	for i := 1; i < len(trip.Route); i++ {
		prev, cur := trip.Route[i-1], trip.Route[i]
		distKm += geospatial.Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon) / 1000
	}
	durMin := trip.EndTime.Sub(trip.StartTime).Minutes()
	if durMin <= 0 {
		return false, nil
	}

	adjusted := false
	fixed := trip

	// Stored distance below the decimated lower bound means pings were lost
	// mid-trip; trust the polyline instead.
	if distKm > trip.DistanceKm*1.10 {
		fixed.DistanceKm = distKm
		adjusted = true
	}
	if math.Abs(durMin-trip.DurationMin) > 1 {
		fixed.DurationMin = durMin
		adjusted = true
	}
	if adjusted {
		fixed.AvgSpeedKmh = fixed.DistanceKm / (fixed.DurationMin / 60)
		if err := a.Trips.Upsert(ctx, &fixed); err != nil {
			return false, fmt.Errorf("persist corrected stats for trip %s: %w", trip.ID, err)
		}
		slog.Info("trip stats corrected",
			"trip_id", trip.ID,
			"distance_km", fixed.DistanceKm,
			"duration_min", fixed.DurationMin)
	}
	return adjusted, nil
}

// NotifyTripClosed tells the user their trip was closed automatically.
func (a *TripAuditActivities) NotifyTripClosed(ctx context.Context, userID, tripID string) error {
	if a.Notifier == nil {
		slog.Info("notify (no notifier configured)", "user_id", userID, "trip_id", tripID)
		return nil
	}
	title := "Trip closed automatically"
	body := fmt.Sprintf("Trip %s was closed after a period of inactivity. Review it if the end point looks wrong.", tripID)
	return a.Notifier.Notify(ctx, userID, title, body)
}

// MarkTripAudited flags the trip so the audit sweep skips it.
func (a *TripAuditActivities) MarkTripAudited(ctx context.Context, tripID string) error {
	if err := a.Trips.MarkAudited(ctx, tripID); err != nil {
		return fmt.Errorf("mark trip %s audited: %w", tripID, err)
	}
	return nil
}

// RestoreTripStats writes the pre-audit snapshot back (saga compensation).
func (a *TripAuditActivities) RestoreTripStats(ctx context.Context, trip domain.Trip) error {
	if err := a.Trips.Upsert(ctx, &trip); err != nil {
		return fmt.Errorf("restore stats for trip %s: %w", trip.ID, err)
	}
	slog.Info("trip stats restored", "trip_id", trip.ID)
	return nil
}
