package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
)

func TestGeometryValidateCircle(t *testing.T) {
	g := domain.Geometry{
		Kind:    domain.GeometryCircle,
		Center:  domain.GeoPoint{Lat: 43.26, Lon: -2.93},
		RadiusM: 100,
	}
	if err := g.Validate(); err != nil {
		t.Errorf("valid circle rejected: %v", err)
	}

	g.RadiusM = 0
	if err := g.Validate(); !errors.Is(err, domain.ErrInvalidZoneGeometry) {
		t.Errorf("zero radius should fail with ErrInvalidZoneGeometry, got %v", err)
	}

	g.RadiusM = 100
	g.Center.Lat = 91
	if err := g.Validate(); !errors.Is(err, domain.ErrInvalidZoneGeometry) {
		t.Errorf("out-of-range center should fail, got %v", err)
	}
}

func TestGeometryValidatePolygon(t *testing.T) {
	valid := domain.Geometry{
		Kind: domain.GeometryPolygon,
		Vertices: []domain.GeoPoint{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid polygon rejected: %v", err)
	}

	tooFew := domain.Geometry{
		Kind:     domain.GeometryPolygon,
		Vertices: []domain.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}},
	}
	if err := tooFew.Validate(); !errors.Is(err, domain.ErrInvalidZoneGeometry) {
		t.Errorf("2-vertex polygon should fail, got %v", err)
	}

	bowtie := domain.Geometry{
		Kind: domain.GeometryPolygon,
		Vertices: []domain.GeoPoint{
			{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 0},
		},
	}
	if err := bowtie.Validate(); !errors.Is(err, domain.ErrInvalidZoneGeometry) {
		t.Errorf("self-intersecting polygon should fail, got %v", err)
	}
}

func TestGeometryValidateUnknownKind(t *testing.T) {
	g := domain.Geometry{Kind: "blob"}
	if err := g.Validate(); !errors.Is(err, domain.ErrInvalidZoneGeometry) {
		t.Errorf("unknown kind should fail, got %v", err)
	}
}

func TestGeometryContains(t *testing.T) {
	circle := domain.Geometry{
		Kind:    domain.GeometryCircle,
		Center:  domain.GeoPoint{Lat: 43.2630, Lon: -2.9350},
		RadiusM: 100,
	}
	if !circle.Contains(domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}) {
		t.Error("center must be inside the circle")
	}
	if circle.Contains(domain.GeoPoint{Lat: 43.2700, Lon: -2.9350}) {
		t.Error("point ~780m north must be outside a 100m circle")
	}

	poly := domain.Geometry{
		Kind: domain.GeometryPolygon,
		Vertices: []domain.GeoPoint{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 2}, {Lat: 2, Lon: 2}, {Lat: 2, Lon: 0},
		},
	}
	if !poly.Contains(domain.GeoPoint{Lat: 1, Lon: 1}) {
		t.Error("interior point must be inside the polygon")
	}
	if !poly.Contains(domain.GeoPoint{Lat: 0, Lon: 1}) {
		t.Error("edge point must count as inside")
	}
}

func TestGeometryBoundsEncloseShape(t *testing.T) {
	circle := domain.Geometry{
		Kind:    domain.GeometryCircle,
		Center:  domain.GeoPoint{Lat: 43.2630, Lon: -2.9350},
		RadiusM: 250,
	}
	b := circle.Bounds()
	if !b.Contains(circle.Center) {
		t.Error("circle bounds must contain the center")
	}

	poly := domain.Geometry{
		Kind: domain.GeometryPolygon,
		Vertices: []domain.GeoPoint{
			{Lat: 1, Lon: 1}, {Lat: 1, Lon: 3}, {Lat: 4, Lon: 2},
		},
	}
	pb := poly.Bounds()
	if pb.MinLat != 1 || pb.MaxLat != 4 || pb.MinLon != 1 || pb.MaxLon != 3 {
		t.Errorf("polygon bounds wrong: %+v", pb)
	}
}

func TestLocationPingValidate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	skew := 30 * time.Second

	valid := &domain.LocationPing{
		UserID:   "eng-1",
		Time:     now.Add(-time.Minute),
		Location: domain.GeoPoint{Lat: 43.26, Lon: -2.93},
	}
	if err := valid.Validate(now, skew); err != nil {
		t.Errorf("valid ping rejected: %v", err)
	}

	cases := []struct {
		name string
		ping domain.LocationPing
	}{
		{"missing user", domain.LocationPing{Time: now, Location: domain.GeoPoint{Lat: 1, Lon: 1}}},
		{"zero time", domain.LocationPing{UserID: "u", Location: domain.GeoPoint{Lat: 1, Lon: 1}}},
		{"lat out of range", domain.LocationPing{UserID: "u", Time: now, Location: domain.GeoPoint{Lat: 91, Lon: 0}}},
		{"lon out of range", domain.LocationPing{UserID: "u", Time: now, Location: domain.GeoPoint{Lat: 0, Lon: 181}}},
		{"far future", domain.LocationPing{UserID: "u", Time: now.Add(5 * time.Minute), Location: domain.GeoPoint{Lat: 1, Lon: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.ping.Validate(now, skew); !errors.Is(err, domain.ErrInvalidPing) {
				t.Errorf("expected ErrInvalidPing, got %v", err)
			}
		})
	}

	// Within the allowed skew is fine.
	nearFuture := &domain.LocationPing{
		UserID:   "u",
		Time:     now.Add(10 * time.Second),
		Location: domain.GeoPoint{Lat: 1, Lon: 1},
	}
	if err := nearFuture.Validate(now, skew); err != nil {
		t.Errorf("ping within skew rejected: %v", err)
	}
}

func TestLowConfidence(t *testing.T) {
	acc := 80.0
	p := &domain.LocationPing{AccuracyM: &acc}
	if !p.LowConfidence(50) {
		t.Error("80m accuracy should be low confidence at 50m threshold")
	}
	if p.LowConfidence(100) {
		t.Error("80m accuracy should be fine at 100m threshold")
	}

	noAcc := &domain.LocationPing{}
	if noAcc.LowConfidence(50) {
		t.Error("missing accuracy is not low confidence")
	}
}
