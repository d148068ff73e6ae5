package usecases_test

import (
	"context"
	"testing"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
	"github.com/fieldops/geotrack/internal/core/usecases"
)

type stubTrackingRepo struct {
	byUserFn func(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error)
	statsFn  func(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error)
}

func (m *stubTrackingRepo) Append(ctx context.Context, e *domain.TrackingEntry) error { return nil }
func (m *stubTrackingRepo) ByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error) {
	if m.byUserFn != nil {
		return m.byUserFn(ctx, userID, from, to, limit)
	}
	return nil, nil
}
func (m *stubTrackingRepo) StatsByUser(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, userID, from, to)
	}
	return &domain.TrackingStats{UserID: userID, From: from, To: to}, nil
}

type stubTripRepo struct {
	listFn func(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error)
}

func (m *stubTripRepo) Upsert(ctx context.Context, trip *domain.Trip) error         { return nil }
func (m *stubTripRepo) GetByID(ctx context.Context, id string) (*domain.Trip, error) { return nil, nil }
func (m *stubTripRepo) OpenByUser(ctx context.Context, userID string) (*domain.Trip, error) {
	return nil, nil
}
func (m *stubTripRepo) List(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}
func (m *stubTripRepo) ListUnaudited(ctx context.Context, before time.Time, limit int) ([]domain.Trip, error) {
	return nil, nil
}
func (m *stubTripRepo) MarkAudited(ctx context.Context, id string) error { return nil }

func fptr(v float64) *float64 { return &v }

func TestBuildTrackingEntryMovement(t *testing.T) {
	base := func() *domain.LocationPing {
		return pingAt("eng-1", t0, 43.0, -2.9)
	}

	fast := base()
	fast.SpeedKmh = fptr(40)
	if e := usecases.BuildTrackingEntry(fast, false); e.Movement != domain.MovementTraveling {
		t.Errorf("40km/h = %s, want traveling", e.Movement)
	}

	inside := base()
	if e := usecases.BuildTrackingEntry(inside, true); e.Movement != domain.MovementAtLocation {
		t.Errorf("inside a site zone = %s, want at_location", e.Movement)
	}

	nearCustomer := base()
	ref := nearCustomer.Location
	nearCustomer.CustomerRef = &ref
	if e := usecases.BuildTrackingEntry(nearCustomer, false); e.Movement != domain.MovementAtLocation {
		t.Errorf("at the customer reference = %s, want at_location", e.Movement)
	}

	idle := base()
	idle.SpeedKmh = fptr(2)
	if e := usecases.BuildTrackingEntry(idle, false); e.Movement != domain.MovementStationary {
		t.Errorf("2km/h nowhere = %s, want stationary", e.Movement)
	}

	// Speed wins over location: driving past the customer is traveling.
	drive := base()
	drive.SpeedKmh = fptr(40)
	drive.CustomerRef = &ref
	if e := usecases.BuildTrackingEntry(drive, true); e.Movement != domain.MovementTraveling {
		t.Errorf("40km/h near customer = %s, want traveling", e.Movement)
	}
}

func TestBuildTrackingEntryDistances(t *testing.T) {
	p := pingAt("eng-1", t0, 43.0, -2.9)
	office := domain.GeoPoint{Lat: latAtKm(43.0, 5), Lon: -2.9}
	p.OfficeRef = &office

	e := usecases.BuildTrackingEntry(p, false)
	if e.DistanceOfficeKm == nil {
		t.Fatal("office distance missing")
	}
	if d := *e.DistanceOfficeKm; d < 4.9 || d > 5.1 {
		t.Errorf("office distance = %fkm, want ~5", d)
	}
	if e.DistanceCustomerKm != nil {
		t.Error("customer distance set without a customer reference")
	}
	if e.ID == "" || e.UserID != "eng-1" {
		t.Errorf("entry misattributed: %+v", e)
	}
}

func TestTrackingStatsMergesTripCounters(t *testing.T) {
	tracking := &stubTrackingRepo{
		statsFn: func(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
			return &domain.TrackingStats{UserID: userID, TotalDistanceKm: 42.5, EntryCount: 120}, nil
		},
	}
	trips := &stubTripRepo{
		listFn: func(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error) {
			if filter.Status != domain.TripCompleted {
				t.Errorf("stats must count completed trips, filtered %s", filter.Status)
			}
			return []domain.Trip{
				{ID: "t1", Status: domain.TripCompleted},
				{ID: "t2", Status: domain.TripCompleted, InferredEnd: true},
				{ID: "t3", Status: domain.TripCompleted},
			}, 3, nil
		},
	}

	svc := usecases.NewTrackingService(tracking, trips, newMemCache())
	stats, err := svc.Stats(context.Background(), "eng-1", t0, t0.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalDistanceKm != 42.5 || stats.EntryCount != 120 {
		t.Errorf("repository aggregates lost: %+v", stats)
	}
	if stats.TripsCompleted != 3 {
		t.Errorf("trips completed = %d, want 3", stats.TripsCompleted)
	}
	if stats.TripsInferredEnd != 1 {
		t.Errorf("inferred ends = %d, want 1", stats.TripsInferredEnd)
	}
}

func TestTrackingStatsCached(t *testing.T) {
	calls := 0
	tracking := &stubTrackingRepo{
		statsFn: func(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
			calls++
			return &domain.TrackingStats{UserID: userID}, nil
		},
	}
	svc := usecases.NewTrackingService(tracking, &stubTripRepo{}, newMemCache())
	ctx := context.Background()

	if _, err := svc.Stats(ctx, "eng-1", t0, t0.Add(time.Hour)); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if _, err := svc.Stats(ctx, "eng-1", t0, t0.Add(time.Hour)); err != nil {
		t.Fatalf("second stats: %v", err)
	}
	if calls != 1 {
		t.Errorf("repo hit %d times, second read should come from cache", calls)
	}

	// A different period is a different cache entry.
	if _, err := svc.Stats(ctx, "eng-1", t0, t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("third stats: %v", err)
	}
	if calls != 2 {
		t.Errorf("distinct period served from the wrong cache entry, calls = %d", calls)
	}
}

func TestTrackingHistoryLimitClamped(t *testing.T) {
	var gotLimit int
	tracking := &stubTrackingRepo{
		byUserFn: func(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	svc := usecases.NewTrackingService(tracking, &stubTripRepo{}, newMemCache())
	ctx := context.Background()

	_, _ = svc.History(ctx, "eng-1", t0, t0.Add(time.Hour), 0)
	if gotLimit != 200 {
		t.Errorf("zero limit clamped to %d, want 200", gotLimit)
	}
	_, _ = svc.History(ctx, "eng-1", t0, t0.Add(time.Hour), 9999)
	if gotLimit != 200 {
		t.Errorf("oversized limit clamped to %d, want 200", gotLimit)
	}
	_, _ = svc.History(ctx, "eng-1", t0, t0.Add(time.Hour), 300)
	if gotLimit != 300 {
		t.Errorf("in-range limit changed to %d", gotLimit)
	}
}
