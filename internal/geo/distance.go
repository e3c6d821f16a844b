// Package geo implements the great-circle math used for trip matching.
//
// Distances follow PostgreSQL's earthdistance extension so that the in-memory store and
// the Postgres store agree: points are placed on a sphere of radius EarthRadius in
// earth-centred coordinates (ll_to_earth), great-circle distance is recovered from the
// chord between them (earth_distance), and Miles mirrors the point <@> point operator.
package geo

import (
	"math"

	"rbus/internal/model"
)

const (
	// EarthRadius is the sphere radius in meters used by earthdistance's earth().
	EarthRadius = 6378168.0
	// EarthRadiusMiles is the radius used by the <@> operator.
	EarthRadiusMiles = 3958.747716
	// MetersPerMile converts <@> output to meters.
	MetersPerMile = 1609.0
)

// Vec3 is a point in earth-centred cartesian coordinates (meters).
type Vec3 struct{ X, Y, Z float64 }

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ToEarth places a lat/lng on the sphere.
func ToEarth(p model.Point) Vec3 {
	lat, lng := radians(p.Lat), radians(p.Lng)
	return Vec3{
		X: EarthRadius * math.Cos(lat) * math.Cos(lng),
		Y: EarthRadius * math.Cos(lat) * math.Sin(lng),
		Z: EarthRadius * math.Sin(lat),
	}
}

func chord(a, b Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// chordToArc converts a straight-line distance through the sphere into surface distance.
func chordToArc(d float64) float64 {
	if d == 0 {
		return 0
	}
	h := d / (2 * EarthRadius)
	if h >= 1 {
		return math.Pi * EarthRadius
	}
	return 2 * EarthRadius * math.Asin(h)
}

// arcToChord is the inverse of chordToArc.
func arcToChord(m float64) float64 {
	switch {
	case m <= 0:
		return 0
	case m/EarthRadius > math.Pi:
		return 2 * EarthRadius
	}
	return 2 * EarthRadius * math.Sin(m/(2*EarthRadius))
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b model.Point) float64 {
	return chordToArc(chord(ToEarth(a), ToEarth(b)))
}

// Miles returns the haversine distance in statute miles, as point <@> point does.
func Miles(a, b model.Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dlng := math.Abs(radians(a.Lng) - radians(b.Lng))
	if dlng > math.Pi {
		dlng = 2*math.Pi - dlng
	}
	sLat := math.Sin(math.Abs(lat1-lat2) / 2)
	sLng := math.Sin(dlng / 2)
	s := math.Sqrt(sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLng*sLng)
	if s > 1 {
		s = 1
	}
	return 2 * EarthRadiusMiles * math.Asin(s)
}
