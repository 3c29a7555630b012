// Package geo holds the pure distance and freshness checks used to gate scans.
package geo

import (
	"math"
	"time"
)

const (
	EarthRadiusMeters = 6371000.0

	// MaxPositionAge is how old a client GPS fix may be before it is refused.
	MaxPositionAge = 120 * time.Second
)

// DistanceMeters returns the great-circle distance between two points using
// the haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push a just past 1 near antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// ValidCoordinates reports whether lat/lng are finite and on the globe.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// IsWithinRadius reports whether the user is inside the site geofence.
// The boundary is inclusive. Invalid coordinates are never inside.
func IsWithinRadius(userLat, userLng, siteLat, siteLng, radiusM float64) bool {
	if !ValidCoordinates(userLat, userLng) {
		return false
	}
	return DistanceMeters(userLat, userLng, siteLat, siteLng) <= radiusM
}

// IsPositionFresh reports whether a fix captured at positionAt is usable at now.
// Fixes from the future are tolerated up to the same age to absorb client
// clock skew.
func IsPositionFresh(positionAt, now time.Time) bool {
	return IsPositionFreshWithin(positionAt, now, MaxPositionAge)
}

func IsPositionFreshWithin(positionAt, now time.Time, maxAge time.Duration) bool {
	// Compare instants; Sub saturates for far-off timestamps.
	return !positionAt.Before(now.Add(-maxAge)) && !positionAt.After(now.Add(maxAge))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
