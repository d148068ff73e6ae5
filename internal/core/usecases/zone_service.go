package usecases

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

const zonesCacheKey = "zones:active"

// ZoneService handles the zone administration surface. Geometry is validated
// here, at the boundary, so the engine never evaluates a malformed shape.
type ZoneService struct {
	zones  ports.ZoneRepository
	events ports.EventRepository
	cache  ports.CacheService
}

// NewZoneService creates a new ZoneService.
func NewZoneService(zones ports.ZoneRepository, events ports.EventRepository, cache ports.CacheService) *ZoneService {
	return &ZoneService{zones: zones, events: events, cache: cache}
}

// Create validates and persists a new zone.
func (s *ZoneService) Create(ctx context.Context, zone *domain.GeofenceZone) error {
	if err := zone.Geometry.Validate(); err != nil {
		return err
	}
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	if zone.Category == "" {
		zone.Category = domain.ZoneSite
	}
	zone.Active = true
	zone.CreatedAt = time.Now()

	if err := s.zones.Insert(ctx, zone); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// List returns zones, serving active listings from cache.
func (s *ZoneService) List(ctx context.Context, includeInactive bool) ([]domain.GeofenceZone, error) {
	if includeInactive {
		return s.zones.List(ctx, true)
	}

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, zonesCacheKey); err == nil {
			var zones []domain.GeofenceZone
			if err := json.Unmarshal(data, &zones); err == nil {
				return zones, nil
			}
		}
	}

	zones, err := s.zones.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(zones); err == nil {
			_ = s.cache.Set(ctx, zonesCacheKey, data, 60)
		}
	}
	return zones, nil
}

// Get returns one zone by ID.
func (s *ZoneService) Get(ctx context.Context, id string) (*domain.GeofenceZone, error) {
	return s.zones.GetByID(ctx, id)
}

// Deactivate removes a zone from evaluation. Users inside it simply stop
// being tracked against it on their next ping; no synthetic exit is emitted.
func (s *ZoneService) Deactivate(ctx context.Context, id string) error {
	if err := s.zones.Deactivate(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RecentEvents returns the newest membership events across all zones.
func (s *ZoneService) RecentEvents(ctx context.Context, limit int) ([]domain.GeofenceEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.events.Recent(ctx, limit)
}

// EventsByZone returns the newest events for one zone.
func (s *ZoneService) EventsByZone(ctx context.Context, zoneID string, limit int) ([]domain.GeofenceEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.events.ByZone(ctx, zoneID, limit)
}

func (s *ZoneService) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, zonesCacheKey)
	}
}
