package spatial

import (
	"github.com/golang/geo/s2"

	"go-citizenlink/types"
)

const EarthRadiusMeters = 6371000.0

// HaversineDistance returns the great-circle distance between two points in
// meters.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

func Distance(a, b types.LatLng) float64 {
	return HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// ValidCoordinate rejects NaN, infinities and out-of-range degrees.
func ValidCoordinate(lat, lng float64) bool {
	return s2.LatLngFromDegrees(lat, lng).IsValid()
}
