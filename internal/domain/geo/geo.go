package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// DefaultGeofenceRadius is the distance from an office within which a returning vehicle counts as back
const DefaultGeofenceRadius = 50.0

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid returns true if the coordinate is within WGS84 bounds
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Haversine distance in meters
func Haversine(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Within reports whether p lies inside the circle of radius meters around center
func Within(p, center Point, radius float64) bool {
	return Haversine(p, center) <= radius
}

// TimedPoint is a route sample
type TimedPoint struct {
	Point
	Timestamp time.Time `json:"timestamp"`
}

// PathLength sums consecutive great-circle segments, in meters
func PathLength(points []TimedPoint) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1].Point, points[i].Point)
	}
	return total
}

// TripStats summarises a route between a start and end time.
type TripStats struct {
	DistanceKm      float64
	DurationMinutes float64
	AverageSpeedKmh float64
}

// Summarize computes distance, elapsed time and average speed.
// Speed is zero when no time has elapsed.
func Summarize(points []TimedPoint, start, end time.Time) TripStats {
	stats := TripStats{DistanceKm: PathLength(points) / 1000}
	elapsed := end.Sub(start)
	if elapsed > 0 {
		stats.DurationMinutes = elapsed.Minutes()
		stats.AverageSpeedKmh = stats.DistanceKm / elapsed.Hours()
	}
	return stats
}
