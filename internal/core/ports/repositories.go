package ports

import (
	"context"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// ZoneRepository persists geofence zones.
type ZoneRepository interface {
	Insert(ctx context.Context, zone *domain.GeofenceZone) error
	GetByID(ctx context.Context, id string) (*domain.GeofenceZone, error)
	List(ctx context.Context, includeInactive bool) ([]domain.GeofenceZone, error)
	ListActive(ctx context.Context) ([]domain.GeofenceZone, error)
	Deactivate(ctx context.Context, id string) error
}

// PingRepository persists raw location pings. Stale pings are stored with the
// stale flag set and never reach stateful processing.
type PingRepository interface {
	Insert(ctx context.Context, ping *domain.LocationPing, stale bool) error
	LatestByUser(ctx context.Context, userID string) (*domain.LocationPing, error)
	HistoryByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.LocationPing, error)
}

// EventRepository persists geofence membership events.
type EventRepository interface {
	Insert(ctx context.Context, event *domain.GeofenceEvent) error
	Recent(ctx context.Context, limit int) ([]domain.GeofenceEvent, error)
	ByUser(ctx context.Context, userID string, limit int) ([]domain.GeofenceEvent, error)
	ByZone(ctx context.Context, zoneID string, limit int) ([]domain.GeofenceEvent, error)
}

// TripFilter narrows trip listings.
type TripFilter struct {
	UserID string
	Status domain.TripStatus
	From   time.Time
	To     time.Time
	Offset int
	Limit  int
}

// TripRepository persists trips.
type TripRepository interface {
	Upsert(ctx context.Context, trip *domain.Trip) error
	GetByID(ctx context.Context, id string) (*domain.Trip, error)
	OpenByUser(ctx context.Context, userID string) (*domain.Trip, error)
	List(ctx context.Context, filter TripFilter) ([]domain.Trip, int, error)
	ListUnaudited(ctx context.Context, before time.Time, limit int) ([]domain.Trip, error)
	MarkAudited(ctx context.Context, id string) error
}

// TrackingRepository persists the per-engineer tracking history.
type TrackingRepository interface {
	Append(ctx context.Context, entry *domain.TrackingEntry) error
	ByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error)
	StatsByUser(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error)
}
