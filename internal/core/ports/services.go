package ports

import (
	"context"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishPing(ctx context.Context, ping *domain.LocationPing) error
	PublishZoneEvent(ctx context.Context, event *domain.GeofenceEvent) error
	PublishTripUpdate(ctx context.Context, trip *domain.Trip) error
}

// PingSubscriber consumes location pings from a message broker.
type PingSubscriber interface {
	SubscribePings(ctx context.Context, handler func(ctx context.Context, ping *domain.LocationPing) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// NotificationService notifies a user out of band (push, email).
type NotificationService interface {
	Notify(ctx context.Context, userID, title, body string) error
}
