// Package geodesy provides the WGS84 helpers used to express geolocation
// errors in metres.
package geodesy

import (
	"math"

	"github.com/golang/geo/s2"
)

// WGS84 ellipsoid constants
const (
	SemiMajorAxis = 6378137.0
	Flattening    = 1 / 298.257223563
	// MeanRadius is the IUGG mean earth radius used for great-circle distances.
	MeanRadius = 6371008.8
)

var eccentricitySquared = Flattening * (2 - Flattening)

// MetresPerDegree returns the length in metres of one degree of longitude
// (east) and latitude (north) at the given geodetic latitude.
func MetresPerDegree(latDeg float64) (east, north float64) {
	phi := latDeg * math.Pi / 180
	s := math.Sin(phi)
	w := math.Sqrt(1 - eccentricitySquared*s*s)
	primeVertical := SemiMajorAxis / w
	meridional := SemiMajorAxis * (1 - eccentricitySquared) / (w * w * w)
	east = primeVertical * math.Cos(phi) * math.Pi / 180
	north = meridional * math.Pi / 180
	return east, north
}

// Offset returns the east and north displacement in metres of (lon, lat)
// relative to (refLon, refLat) in the local tangent plane of the reference.
func Offset(refLon, refLat, lon, lat float64) (dx, dy float64) {
	east, north := MetresPerDegree(refLat)
	return NormalizeLongitude(lon-refLon) * east, (lat - refLat) * north
}

// Distance returns the great-circle distance in metres between two points.
func Distance(lon1, lat1, lon2, lat2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * MeanRadius
}

// NormalizeLongitude wraps a longitude difference into [-180, 180).
func NormalizeLongitude(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}

// ValidLonLat reports whether lon and lat are finite and within range.
func ValidLonLat(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}
