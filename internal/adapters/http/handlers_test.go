package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/fieldops/geotrack/internal/adapters/http"
	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
	"github.com/fieldops/geotrack/internal/core/usecases"
)

// ---- Mock repositories ----

type mockZoneRepo struct {
	mu           sync.Mutex
	inserted     []domain.GeofenceZone
	deactivated  []string
	getByIDFn    func(ctx context.Context, id string) (*domain.GeofenceZone, error)
	listFn       func(ctx context.Context, includeInactive bool) ([]domain.GeofenceZone, error)
	listActiveFn func(ctx context.Context) ([]domain.GeofenceZone, error)
}

func (m *mockZoneRepo) Insert(ctx context.Context, zone *domain.GeofenceZone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, *zone)
	return nil
}
func (m *mockZoneRepo) GetByID(ctx context.Context, id string) (*domain.GeofenceZone, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrZoneNotFound
}
func (m *mockZoneRepo) List(ctx context.Context, includeInactive bool) ([]domain.GeofenceZone, error) {
	if m.listFn != nil {
		return m.listFn(ctx, includeInactive)
	}
	return nil, nil
}
func (m *mockZoneRepo) ListActive(ctx context.Context) ([]domain.GeofenceZone, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}
func (m *mockZoneRepo) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, id)
	return nil
}

type mockPingRepo struct {
	mu       sync.Mutex
	inserted []domain.LocationPing
	latestFn func(ctx context.Context, userID string) (*domain.LocationPing, error)
}

func (m *mockPingRepo) Insert(ctx context.Context, p *domain.LocationPing, stale bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, *p)
	return nil
}
func (m *mockPingRepo) LatestByUser(ctx context.Context, userID string) (*domain.LocationPing, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockPingRepo) HistoryByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.LocationPing, error) {
	return nil, nil
}

type mockEventRepo struct {
	recentFn func(ctx context.Context, limit int) ([]domain.GeofenceEvent, error)
}

func (m *mockEventRepo) Insert(ctx context.Context, ev *domain.GeofenceEvent) error { return nil }
func (m *mockEventRepo) Recent(ctx context.Context, limit int) ([]domain.GeofenceEvent, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, limit)
	}
	return nil, nil
}
func (m *mockEventRepo) ByUser(ctx context.Context, userID string, limit int) ([]domain.GeofenceEvent, error) {
	return nil, nil
}
func (m *mockEventRepo) ByZone(ctx context.Context, zoneID string, limit int) ([]domain.GeofenceEvent, error) {
	return nil, nil
}

type mockTripRepo struct {
	getByIDFn    func(ctx context.Context, id string) (*domain.Trip, error)
	openByUserFn func(ctx context.Context, userID string) (*domain.Trip, error)
	listFn       func(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error)
}

func (m *mockTripRepo) Upsert(ctx context.Context, trip *domain.Trip) error { return nil }
func (m *mockTripRepo) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrTripNotFound
}
func (m *mockTripRepo) OpenByUser(ctx context.Context, userID string) (*domain.Trip, error) {
	if m.openByUserFn != nil {
		return m.openByUserFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockTripRepo) List(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}
func (m *mockTripRepo) ListUnaudited(ctx context.Context, before time.Time, limit int) ([]domain.Trip, error) {
	return nil, nil
}
func (m *mockTripRepo) MarkAudited(ctx context.Context, id string) error { return nil }

type mockTrackingRepo struct {
	statsFn func(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error)
}

func (m *mockTrackingRepo) Append(ctx context.Context, e *domain.TrackingEntry) error { return nil }
func (m *mockTrackingRepo) ByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error) {
	return nil, nil
}
func (m *mockTrackingRepo) StatsByUser(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, userID, from, to)
	}
	return &domain.TrackingStats{UserID: userID}, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishPing(ctx context.Context, p *domain.LocationPing) error     { return nil }
func (noopPublisher) PublishZoneEvent(ctx context.Context, e *domain.GeofenceEvent) error {
	return nil
}
func (noopPublisher) PublishTripUpdate(ctx context.Context, t *domain.Trip) error { return nil }

// ---- Test helpers ----

type testMocks struct {
	zones    *mockZoneRepo
	pings    *mockPingRepo
	events   *mockEventRepo
	trips    *mockTripRepo
	tracking *mockTrackingRepo
}

func makeDeps(t *testing.T, opts ...func(*testMocks)) *handler.Dependencies {
	t.Helper()
	m := &testMocks{
		zones:    &mockZoneRepo{},
		pings:    &mockPingRepo{},
		events:   &mockEventRepo{},
		trips:    &mockTripRepo{},
		tracking: &mockTrackingRepo{},
	}
	for _, o := range opts {
		o(m)
	}

	catalog := usecases.NewZoneCatalog(m.zones)
	_ = catalog.Refresh(context.Background())

	cfg := usecases.EngineConfig{
		Lanes:              2,
		AccuracyThresholdM: 50,
		Hysteresis:         1,
		DwellThreshold:     time.Hour,
		FutureSkew:         30 * time.Second,
		Trip: usecases.TripConfig{
			MinMovementM:     10,
			Inactivity:       30 * time.Minute,
			DestinationDwell: 3 * time.Minute,
			MaxRoutePoints:   500,
		},
	}
	pipeline := usecases.NewPipeline(cfg, catalog, m.pings, m.events, m.trips, m.tracking, noopPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pipeline.Run(ctx)

	return &handler.Dependencies{
		Pipeline:  pipeline,
		Zones:     usecases.NewZoneService(m.zones, m.events, nil),
		Locations: usecases.NewLocationService(m.pings, m.events, nil),
		Trips:     usecases.NewTripService(m.trips),
		Tracking:  usecases.NewTrackingService(m.tracking, m.trips, nil),
	}
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

// ---- Ingestion handler tests ----

func TestIngestPing_Accepted(t *testing.T) {
	var m *testMocks
	deps := makeDeps(t, func(tm *testMocks) { m = tm })
	app := setupApp(deps)

	ping := domain.LocationPing{
		UserID:   "eng-1",
		Time:     time.Now().Add(-time.Minute),
		Location: domain.GeoPoint{Lat: 43.263, Lon: -2.935},
	}
	body, _ := json.Marshal(ping)

	req := httptest.NewRequest("POST", "/v1/pings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.pings.mu.Lock()
		n := len(m.pings.inserted)
		m.pings.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("accepted ping never reached the repository")
}

func TestIngestPing_InvalidCoordinates(t *testing.T) {
	app := setupApp(makeDeps(t))

	ping := domain.LocationPing{
		UserID:   "eng-1",
		Time:     time.Now(),
		Location: domain.GeoPoint{Lat: 95, Lon: -2.935},
	}
	body, _ := json.Marshal(ping)

	req := httptest.NewRequest("POST", "/v1/pings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var apiErr struct {
		Code string `json:"code"`
	}
	json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Code != "bad_request" {
		t.Errorf("expected bad_request error, got %s", apiErr.Code)
	}
}

func TestIngestPingBatch_PartialRejection(t *testing.T) {
	app := setupApp(makeDeps(t))

	pings := []domain.LocationPing{
		{UserID: "eng-1", Time: time.Now().Add(-time.Minute), Location: domain.GeoPoint{Lat: 43.2, Lon: -2.9}},
		{UserID: "eng-1", Time: time.Now(), Location: domain.GeoPoint{Lat: 95, Lon: -2.9}},
	}
	body, _ := json.Marshal(pings)

	req := httptest.NewRequest("POST", "/v1/pings/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var result struct {
		Accepted int `json:"accepted"`
		Rejected []struct {
			Index int `json:"index"`
		} `json:"rejected"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Accepted != 1 {
		t.Errorf("expected 1 accepted, got %d", result.Accepted)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Index != 1 {
		t.Errorf("expected index 1 rejected, got %+v", result.Rejected)
	}
}

func TestIngestPing_LegacyPathDeprecated(t *testing.T) {
	app := setupApp(makeDeps(t))

	ping := domain.LocationPing{
		UserID:   "eng-1",
		Time:     time.Now().Add(-time.Minute),
		Location: domain.GeoPoint{Lat: 43.2, Lon: -2.9},
	}
	body, _ := json.Marshal(ping)

	req := httptest.NewRequest("POST", "/api/location/ping", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Deprecation") != "true" {
		t.Error("legacy path must carry the Deprecation header")
	}
	if resp.Header.Get("Sunset") == "" {
		t.Error("legacy path must carry the Sunset header")
	}
}

// ---- Zone handler tests ----

func TestCreateZone_Success(t *testing.T) {
	var m *testMocks
	deps := makeDeps(t, func(tm *testMocks) { m = tm })
	app := setupApp(deps)

	zone := domain.GeofenceZone{
		Name:     "warehouse",
		Category: domain.ZoneSite,
		Geometry: domain.Geometry{
			Kind:    domain.GeometryCircle,
			Center:  domain.GeoPoint{Lat: 43.26, Lon: -2.93},
			RadiusM: 150,
		},
	}
	body, _ := json.Marshal(zone)

	req := httptest.NewRequest("POST", "/v1/zones", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created domain.GeofenceZone
	json.NewDecoder(resp.Body).Decode(&created)
	if created.ID == "" {
		t.Error("created zone must carry an assigned ID")
	}
	if !created.Active {
		t.Error("created zone must be active")
	}

	m.zones.mu.Lock()
	defer m.zones.mu.Unlock()
	if len(m.zones.inserted) != 1 {
		t.Errorf("zone not persisted, inserts = %d", len(m.zones.inserted))
	}
}

func TestCreateZone_BadGeometry(t *testing.T) {
	app := setupApp(makeDeps(t))

	zone := domain.GeofenceZone{
		Name: "bowtie",
		Geometry: domain.Geometry{
			Kind: domain.GeometryPolygon,
			Vertices: []domain.GeoPoint{
				{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}, {Lat: 0, Lon: 1},
			},
		},
	}
	body, _ := json.Marshal(zone)

	req := httptest.NewRequest("POST", "/v1/zones", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestListZones_Success(t *testing.T) {
	deps := makeDeps(t, func(m *testMocks) {
		m.zones.listActiveFn = func(ctx context.Context) ([]domain.GeofenceZone, error) {
			return []domain.GeofenceZone{
				{ID: "z1", Name: "office", Active: true},
				{ID: "z2", Name: "site-a", Active: true},
			}, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/zones", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Zones []domain.GeofenceZone `json:"zones"`
		Count int                   `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 2 || len(result.Zones) != 2 {
		t.Errorf("expected 2 zones, got %+v", result)
	}
}

func TestGetZone_NotFound(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/zones/nope", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeactivateZone_Success(t *testing.T) {
	var m *testMocks
	deps := makeDeps(t, func(tm *testMocks) { m = tm })
	app := setupApp(deps)

	req := httptest.NewRequest("DELETE", "/v1/zones/z1", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	m.zones.mu.Lock()
	defer m.zones.mu.Unlock()
	if len(m.zones.deactivated) != 1 || m.zones.deactivated[0] != "z1" {
		t.Errorf("deactivate not forwarded: %v", m.zones.deactivated)
	}
}

// ---- Trip handler tests ----

func TestStartTrip_ThenDuplicateIgnored(t *testing.T) {
	app := setupApp(makeDeps(t))

	body, _ := json.Marshal(map[string]string{"user_id": "eng-1", "task_id": "task-7"})

	req := httptest.NewRequest("POST", "/v1/trips/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var trip domain.Trip
	json.NewDecoder(resp.Body).Decode(&trip)
	if trip.Status != domain.TripActive || trip.TaskID != "task-7" {
		t.Errorf("unexpected trip: %+v", trip)
	}

	// Retrying clients double-send start; the second one is a no-op.
	req = httptest.NewRequest("POST", "/v1/trips/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("duplicate start: expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Status != "ignored" {
		t.Errorf("duplicate start status = %q, want ignored", result.Status)
	}
}

func TestEndTrip_NoneOpen(t *testing.T) {
	app := setupApp(makeDeps(t))

	body, _ := json.Marshal(map[string]string{"user_id": "eng-1"})
	req := httptest.NewRequest("POST", "/v1/trips/end", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestStartTrip_MissingUser(t *testing.T) {
	app := setupApp(makeDeps(t))

	body, _ := json.Marshal(map[string]string{"task_id": "task-7"})
	req := httptest.NewRequest("POST", "/v1/trips/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListTrips_Pagination(t *testing.T) {
	deps := makeDeps(t, func(m *testMocks) {
		m.trips.listFn = func(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error) {
			return []domain.Trip{
				{ID: "t3", UserID: filter.UserID},
				{ID: "t4", UserID: filter.UserID},
			}, 5, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/trips?user_id=eng-1&offset=2&limit=2", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.Trip `json:"data"`
		Pagination struct {
			Offset int `json:"offset"`
			Total  int `json:"total"`
		} `json:"pagination"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", result.Pagination.Total)
	}
	if len(result.Data) != 2 || result.Pagination.Offset != 2 {
		t.Errorf("unexpected page: %+v", result)
	}
	if resp.Header.Get("Link") == "" {
		t.Error("paginated listing must carry Link headers")
	}
}

// ---- User query tests ----

func TestUserLocation_NotFound(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/users/eng-1/location", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUserLocation_Success(t *testing.T) {
	deps := makeDeps(t, func(m *testMocks) {
		m.pings.latestFn = func(ctx context.Context, userID string) (*domain.LocationPing, error) {
			return &domain.LocationPing{
				UserID:   userID,
				Time:     time.Now(),
				Location: domain.GeoPoint{Lat: 43.26, Lon: -2.93},
			}, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/users/eng-1/location", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var ping domain.LocationPing
	json.NewDecoder(resp.Body).Decode(&ping)
	if ping.UserID != "eng-1" {
		t.Errorf("wrong user in response: %s", ping.UserID)
	}
}

func TestUserTrackingStats_Success(t *testing.T) {
	deps := makeDeps(t, func(m *testMocks) {
		m.tracking.statsFn = func(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
			return &domain.TrackingStats{UserID: userID, TotalDistanceKm: 12.5, EntryCount: 40}, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/users/eng-1/tracking/stats", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stats domain.TrackingStats
	json.NewDecoder(resp.Body).Decode(&stats)
	if stats.TotalDistanceKm != 12.5 || stats.EntryCount != 40 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// ---- System tests ----

func TestHealth(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Status != "healthy" {
		t.Errorf("status = %q", result.Status)
	}
}

func TestRecentEvents_LimitForwarded(t *testing.T) {
	var gotLimit int
	deps := makeDeps(t, func(m *testMocks) {
		m.events.recentFn = func(ctx context.Context, limit int) ([]domain.GeofenceEvent, error) {
			gotLimit = limit
			return []domain.GeofenceEvent{{ID: "e1", Type: domain.EventEnter}}, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/events?limit=10", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gotLimit != 10 {
		t.Errorf("limit = %d, want 10", gotLimit)
	}
}

// ---- GraphQL tests ----

func TestGraphQL_Zones(t *testing.T) {
	deps := makeDeps(t, func(m *testMocks) {
		m.zones.listActiveFn = func(ctx context.Context) ([]domain.GeofenceZone, error) {
			return []domain.GeofenceZone{{ID: "z1", Name: "office", Active: true}}, nil
		}
	})
	app := setupApp(deps)

	body, _ := json.Marshal(map[string]string{"query": `{ zones { id name active } }`})
	req := httptest.NewRequest("POST", "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Zones []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"zones"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Errors) != 0 {
		t.Fatalf("graphql errors: %v", result.Errors)
	}
	if len(result.Data.Zones) != 1 || result.Data.Zones[0].Name != "office" {
		t.Errorf("unexpected zones: %+v", result.Data.Zones)
	}
}
