package geospatial

import "math"

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// BoundingBox returns a bounding box around a point with the given radius in meters.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	lonDelta := radiusMeters / (111320.0 * math.Cos(toRad(lat)))

	return lat - latDelta, lon - lonDelta, lat + latDelta, lon + lonDelta
}

// PointInCircle reports whether the point is within radiusMeters of the center.
// A point exactly on the boundary counts as inside.
func PointInCircle(lat, lon, centerLat, centerLon, radiusMeters float64) bool {
	return Haversine(lat, lon, centerLat, centerLon) <= radiusMeters
}

// PointInPolygon reports whether the point lies inside the polygon using the
// ray casting algorithm. Points exactly on an edge or vertex count as inside.
// The vertex slice is treated as implicitly closed (last connects to first).
func PointInPolygon(lat, lon float64, latLons [][2]float64) bool {
	n := len(latLons)
	if n < 3 {
		return false
	}

	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if pointOnSegment(lat, lon, latLons[i][0], latLons[i][1], latLons[j][0], latLons[j][1]) {
			return true
		}
	}

	// Cast a ray along increasing longitude and count edge crossings.
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := latLons[i][0], latLons[i][1]
		yj, xj := latLons[j][0], latLons[j][1]

		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PolygonBounds returns the min/max lat/lon envelope of a vertex list.
func PolygonBounds(latLons [][2]float64) (minLat, minLon, maxLat, maxLon float64) {
	if len(latLons) == 0 {
		return 0, 0, 0, 0
	}
	minLat, maxLat = latLons[0][0], latLons[0][0]
	minLon, maxLon = latLons[0][1], latLons[0][1]
	for _, v := range latLons[1:] {
		minLat = math.Min(minLat, v[0])
		maxLat = math.Max(maxLat, v[0])
		minLon = math.Min(minLon, v[1])
		maxLon = math.Max(maxLon, v[1])
	}
	return minLat, minLon, maxLat, maxLon
}

// PolygonSelfIntersects reports whether any two non-adjacent edges of the
// polygon cross each other. The vertex slice is treated as implicitly closed.
func PolygonSelfIntersects(latLons [][2]float64) bool {
	n := len(latLons)
	if n < 4 {
		return false
	}

	for i := 0; i < n; i++ {
		i2 := (i + 1) % n
		for j := i + 1; j < n; j++ {
			j2 := (j + 1) % n
			// Skip adjacent edges (they share a vertex).
			if i2 == j || j2 == i {
				continue
			}
			if segmentsCross(
				latLons[i][0], latLons[i][1], latLons[i2][0], latLons[i2][1],
				latLons[j][0], latLons[j][1], latLons[j2][0], latLons[j2][1],
			) {
				return true
			}
		}
	}
	return false
}

const segmentEps = 1e-12

// pointOnSegment reports whether (lat,lon) lies on the segment (y1,x1)-(y2,x2)
// in coordinate space.
func pointOnSegment(lat, lon, y1, x1, y2, x2 float64) bool {
	cross := (y2-y1)*(lon-x1) - (x2-x1)*(lat-y1)
	if math.Abs(cross) > segmentEps {
		return false
	}
	return lat >= math.Min(y1, y2)-segmentEps && lat <= math.Max(y1, y2)+segmentEps &&
		lon >= math.Min(x1, x2)-segmentEps && lon <= math.Max(x1, x2)+segmentEps
}

// segmentsCross reports whether two segments properly intersect.
func segmentsCross(ay, ax, by, bx, cy, cx, dy, dx float64) bool {
	d1 := orientation(cy, cx, dy, dx, ay, ax)
	d2 := orientation(cy, cx, dy, dx, by, bx)
	d3 := orientation(ay, ax, by, bx, cy, cx)
	d4 := orientation(ay, ax, by, bx, dy, dx)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func orientation(py, px, qy, qx, ry, rx float64) float64 {
	return (qx-px)*(ry-py) - (qy-py)*(rx-px)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
