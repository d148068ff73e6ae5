package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
	"github.com/fieldops/geotrack/internal/pkg/metrics"
)

// Snapshot is an immutable view of the active zone set with precomputed
// bounding boxes. Lanes read it lock-free; a refresh swaps the whole thing.
type Snapshot struct {
	zones    []domain.GeofenceZone
	bounds   []domain.Bounds
	byID     map[string]*domain.GeofenceZone
	loadedAt time.Time
}

// Candidates returns zones whose bounding box contains the point. This is a
// prefilter: the exact geometry test happens in the membership tracker.
func (s *Snapshot) Candidates(p domain.GeoPoint) []*domain.GeofenceZone {
	var out []*domain.GeofenceZone
	for i := range s.zones {
		if s.bounds[i].Contains(p) {
			out = append(out, &s.zones[i])
		}
	}
	return out
}

// ByID returns the zone with the given ID, or nil if it left the active set.
func (s *Snapshot) ByID(id string) *domain.GeofenceZone {
	return s.byID[id]
}

// Zones returns all zones in the snapshot.
func (s *Snapshot) Zones() []domain.GeofenceZone {
	return s.zones
}

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// ZoneCatalog serves atomically swapped zone snapshots to the engine.
// A failed refresh keeps the last good snapshot in place.
type ZoneCatalog struct {
	zones ports.ZoneRepository
	snap  atomic.Pointer[Snapshot]
}

// NewZoneCatalog creates a catalog with an empty initial snapshot.
func NewZoneCatalog(zones ports.ZoneRepository) *ZoneCatalog {
	c := &ZoneCatalog{zones: zones}
	c.snap.Store(&Snapshot{byID: map[string]*domain.GeofenceZone{}, loadedAt: time.Now()})
	return c
}

// Refresh loads the active zone set and swaps in a new snapshot.
func (c *ZoneCatalog) Refresh(ctx context.Context) error {
	zones, err := c.zones.ListActive(ctx)
	if err != nil {
		metrics.CatalogRefreshErrors.Inc()
		return fmt.Errorf("list active zones: %w", err)
	}

	s := &Snapshot{
		zones:    zones,
		bounds:   make([]domain.Bounds, len(zones)),
		byID:     make(map[string]*domain.GeofenceZone, len(zones)),
		loadedAt: time.Now(),
	}
	for i := range zones {
		s.bounds[i] = zones[i].Geometry.Bounds()
		s.byID[zones[i].ID] = &s.zones[i]
	}

	c.snap.Store(s)
	metrics.CatalogZones.Set(float64(len(zones)))
	return nil
}

// Run refreshes on an interval until the context is cancelled. Refresh errors
// are logged; the engine keeps evaluating against the previous snapshot.
func (c *ZoneCatalog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("zone catalog refresh failed, serving stale snapshot",
					"error", err, "loaded_at", c.Snapshot().LoadedAt())
			}
		}
	}
}

// Snapshot returns the current zone snapshot.
func (c *ZoneCatalog) Snapshot() *Snapshot {
	return c.snap.Load()
}
