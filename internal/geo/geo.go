// Package geo implements the distance math used for broadcast thresholds and
// proximity checks. Everything here is pure.
package geo

import (
	"math"

	"walkroom/native/internal/domain"
)

const (
	// EarthRadius is the mean Earth radius in meters.
	EarthRadius = 6371000.0

	// DefaultNearbyRadius is the radius used when none is configured.
	DefaultNearbyRadius = 50.0
)

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the great-circle distance between a and b in meters
// using the haversine formula.
func Distance(a, b domain.LatLng) float64 {
	if a == b {
		return 0
	}
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// FlatDistance is an equirectangular approximation of Distance. It is
// accurate to well under a meter over the tens of meters it is used for.
func FlatDistance(a, b domain.LatLng) float64 {
	x := rad(b.Lng-a.Lng) * math.Cos(rad((a.Lat+b.Lat)/2))
	y := rad(b.Lat - a.Lat)
	return EarthRadius * math.Hypot(x, y)
}

// IsNearby reports whether distance is within radius.
func IsNearby(distance, radius float64) bool {
	return distance <= radius
}
