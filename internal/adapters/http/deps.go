package http

import (
	"github.com/nats-io/nats.go"

	"github.com/fieldops/geotrack/internal/adapters/postgres"
	"github.com/fieldops/geotrack/internal/adapters/valkey"
	"github.com/fieldops/geotrack/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Pipeline  *usecases.Pipeline
	Zones     *usecases.ZoneService
	Locations *usecases.LocationService
	Trips     *usecases.TripService
	Tracking  *usecases.TrackingService
	NATS      *nats.Conn
	DB        *postgres.DB
	Cache     *valkey.Cache
}
