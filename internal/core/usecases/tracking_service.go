package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

// Movement classification thresholds. An engineer doing under walking pace
// near a known site is on site; under walking pace elsewhere is stationary.
const (
	travelingSpeedKmh = 5.0
	nearRefM          = 100.0
)

// BuildTrackingEntry derives a tracking history row from an accepted ping.
// insideSiteZone is whether the membership tracker has the user confirmed
// inside a customer or site zone.
func BuildTrackingEntry(p *domain.LocationPing, insideSiteZone bool) *domain.TrackingEntry {
	entry := &domain.TrackingEntry{
		ID:            uuid.NewString(),
		UserID:        p.UserID,
		TaskID:        p.TaskID,
		Time:          p.Time,
		Location:      p.Location,
		SpeedKmh:      p.SpeedKmh,
		AccuracyM:     p.AccuracyM,
		BatteryLevel:  p.BatteryLevel,
		NetworkStatus: p.NetworkStatus,
	}

	nearCustomer := false
	if p.OfficeRef != nil {
		km := p.Location.DistanceM(*p.OfficeRef) / 1000
		entry.DistanceOfficeKm = &km
	}
	if p.CustomerRef != nil {
		m := p.Location.DistanceM(*p.CustomerRef)
		km := m / 1000
		entry.DistanceCustomerKm = &km
		nearCustomer = m <= nearRefM
	}

	switch {
	case p.SpeedKmh != nil && *p.SpeedKmh > travelingSpeedKmh:
		entry.Movement = domain.MovementTraveling
	case insideSiteZone || nearCustomer:
		entry.Movement = domain.MovementAtLocation
	default:
		entry.Movement = domain.MovementStationary
	}

	return entry
}

// TrackingService serves tracking history and per-user stats.
type TrackingService struct {
	tracking ports.TrackingRepository
	trips    ports.TripRepository
	cache    ports.CacheService
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(tracking ports.TrackingRepository, trips ports.TripRepository, cache ports.CacheService) *TrackingService {
	return &TrackingService{tracking: tracking, trips: trips, cache: cache}
}

// History returns a user's tracking entries in the period, newest first.
func (s *TrackingService) History(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	return s.tracking.ByUser(ctx, userID, from, to, limit)
}

// Stats aggregates a user's tracking history and trip counters for a period.
func (s *TrackingService) Stats(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
	cacheKey := fmt.Sprintf("tracking:stats:%s:%d:%d", userID, from.Unix(), to.Unix())
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var stats domain.TrackingStats
			if err := json.Unmarshal(data, &stats); err == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.tracking.StatsByUser(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	trips, _, err := s.trips.List(ctx, ports.TripFilter{
		UserID: userID, Status: domain.TripCompleted, From: from, To: to, Limit: 1000,
	})
	if err != nil {
		return nil, err
	}
	stats.TripsCompleted = len(trips)
	for _, t := range trips {
		if t.InferredEnd {
			stats.TripsInferredEnd++
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 60)
		}
	}
	return stats, nil
}
