package usecases

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

// LocationService serves raw location queries.
type LocationService struct {
	pings  ports.PingRepository
	events ports.EventRepository
	cache  ports.CacheService
}

// NewLocationService creates a new LocationService.
func NewLocationService(pings ports.PingRepository, events ports.EventRepository, cache ports.CacheService) *LocationService {
	return &LocationService{pings: pings, events: events, cache: cache}
}

// Latest returns a user's most recent ping. Cached briefly since dashboards
// poll this endpoint aggressively.
func (s *LocationService) Latest(ctx context.Context, userID string) (*domain.LocationPing, error) {
	cacheKey := "location:latest:" + userID
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var ping domain.LocationPing
			if err := json.Unmarshal(data, &ping); err == nil {
				return &ping, nil
			}
		}
	}

	ping, err := s.pings.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && ping != nil {
		if data, err := json.Marshal(ping); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 10)
		}
	}
	return ping, nil
}

// History returns a user's raw ping history in the period, newest first.
// Stale pings are included; they carry no derived state but remain visible.
func (s *LocationService) History(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.LocationPing, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.pings.HistoryByUser(ctx, userID, from, to, limit)
}

// EventsByUser returns a user's newest membership events.
func (s *LocationService) EventsByUser(ctx context.Context, userID string, limit int) ([]domain.GeofenceEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.events.ByUser(ctx, userID, limit)
}
