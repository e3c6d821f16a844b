package geo

import (
	"math"

	"rbus/internal/model"
)

// EarthBox is the cube earth_box(ll_to_earth(center), radius) in earth-centred coordinates.
// Membership is the cube test, which is looser than a disk of the same radius.
type EarthBox struct {
	Center model.Point
	c      Vec3
	half   float64
}

// NewEarthBox builds the box around center for a great-circle radius in meters.
func NewEarthBox(center model.Point, meters float64) EarthBox {
	return EarthBox{Center: center, c: ToEarth(center), half: arcToChord(meters)}
}

// Contains reports whether p's earth point lies inside the cube, faces included.
func (b EarthBox) Contains(p model.Point) bool {
	v := ToEarth(p)
	return math.Abs(v.X-b.c.X) <= b.half &&
		math.Abs(v.Y-b.c.Y) <= b.half &&
		math.Abs(v.Z-b.c.Z) <= b.half
}

// Bounds returns a lat/lng rectangle containing every surface point inside the cube.
// It is meant as a coarse index window; Contains is the exact test.
func (b EarthBox) Bounds() model.Box {
	// The farthest surface point inside the cube is at most a corner away.
	h := b.half * math.Sqrt(3) / (2 * EarthRadius)
	if h > 1 {
		h = 1
	}
	ang := 2 * math.Asin(h) * 180 / math.Pi
	lat := b.Center.Lat
	box := model.Box{
		Lat1: math.Max(-90, lat-ang),
		Lat2: math.Min(90, lat+ang),
		Lng1: -180,
		Lng2: 180,
	}
	if math.Abs(lat)+ang >= 90 {
		return box
	}
	dlng := ang / math.Cos(radians(math.Abs(lat)+ang))
	if dlng < 180 {
		box.Lng1 = math.Max(-180, b.Center.Lng-dlng)
		box.Lng2 = math.Min(180, b.Center.Lng+dlng)
	}
	return box
}
