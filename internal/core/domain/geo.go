package domain

import (
	"fmt"

	"github.com/fieldops/geotrack/internal/pkg/geospatial"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is within WGS 84 range.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// DistanceM returns the great-circle distance to another point in meters.
func (p GeoPoint) DistanceM(other GeoPoint) float64 {
	return geospatial.Haversine(p.Lat, p.Lon, other.Lat, other.Lon)
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point falls inside the box.
func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// GeometryKind discriminates zone geometry variants.
type GeometryKind string

const (
	GeometryCircle  GeometryKind = "circle"
	GeometryPolygon GeometryKind = "polygon"
)

// Geometry is a tagged zone shape: a circle (center + radius) or a polygon
// (ordered vertex list, implicitly closed). Exactly one variant is populated,
// selected by Kind.
type Geometry struct {
	Kind     GeometryKind `json:"kind"`
	Center   GeoPoint     `json:"center,omitempty"`
	RadiusM  float64      `json:"radius_m,omitempty"`
	Vertices []GeoPoint   `json:"vertices,omitempty"`
}

// Validate rejects malformed geometry. Called at zone creation time so that
// evaluation never sees an invalid shape.
func (g Geometry) Validate() error {
	switch g.Kind {
	case GeometryCircle:
		if !g.Center.Valid() {
			return fmt.Errorf("%w: circle center out of range", ErrInvalidZoneGeometry)
		}
		if g.RadiusM <= 0 {
			return fmt.Errorf("%w: circle radius must be positive, got %f", ErrInvalidZoneGeometry, g.RadiusM)
		}
	case GeometryPolygon:
		if len(g.Vertices) < 3 {
			return fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrInvalidZoneGeometry, len(g.Vertices))
		}
		for i, v := range g.Vertices {
			if !v.Valid() {
				return fmt.Errorf("%w: polygon vertex %d out of range", ErrInvalidZoneGeometry, i)
			}
		}
		if geospatial.PolygonSelfIntersects(g.vertexPairs()) {
			return fmt.Errorf("%w: polygon self-intersects", ErrInvalidZoneGeometry)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidZoneGeometry, g.Kind)
	}
	return nil
}

// Contains reports whether the point lies inside the geometry.
// Boundary points count as inside for both variants.
func (g Geometry) Contains(p GeoPoint) bool {
	switch g.Kind {
	case GeometryCircle:
		return geospatial.PointInCircle(p.Lat, p.Lon, g.Center.Lat, g.Center.Lon, g.RadiusM)
	case GeometryPolygon:
		return geospatial.PointInPolygon(p.Lat, p.Lon, g.vertexPairs())
	}
	return false
}

// Bounds returns the bounding box enclosing the geometry, used as a cheap
// prefilter before the exact containment test.
func (g Geometry) Bounds() Bounds {
	switch g.Kind {
	case GeometryCircle:
		minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(g.Center.Lat, g.Center.Lon, g.RadiusM)
		return Bounds{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
	case GeometryPolygon:
		minLat, minLon, maxLat, maxLon := geospatial.PolygonBounds(g.vertexPairs())
		return Bounds{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
	}
	return Bounds{}
}

func (g Geometry) vertexPairs() [][2]float64 {
	pairs := make([][2]float64, len(g.Vertices))
	for i, v := range g.Vertices {
		pairs[i] = [2]float64{v.Lat, v.Lon}
	}
	return pairs
}
