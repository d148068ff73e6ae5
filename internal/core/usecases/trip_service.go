package usecases

import (
	"context"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

// TripService serves trip queries. Trip mutation goes through the pipeline so
// it stays serialized with ping processing.
type TripService struct {
	trips ports.TripRepository
}

// NewTripService creates a new TripService.
func NewTripService(trips ports.TripRepository) *TripService {
	return &TripService{trips: trips}
}

// Get returns one trip by ID.
func (s *TripService) Get(ctx context.Context, id string) (*domain.Trip, error) {
	return s.trips.GetByID(ctx, id)
}

// List returns trips matching the filter plus the total match count.
func (s *TripService) List(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.trips.List(ctx, filter)
}

// Open returns a user's currently open trip, or nil.
func (s *TripService) Open(ctx context.Context, userID string) (*domain.Trip, error) {
	return s.trips.OpenByUser(ctx, userID)
}
