package model

import (
	"fmt"
	"time"
)

// Recurrence is the weekly pattern an intended trip repeats on.
type Recurrence string

const (
	Weekdays            Recurrence = "weekdays"
	WeekdaysAndSaturday Recurrence = "weekdays_and_saturday"
	AllDays             Recurrence = "all_days"
)

// Point is one end of a trip.
type Point struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Trip is an intended trip: a commuter's planned route.
type Trip struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"userId"`
	On          Recurrence `json:"on"`
	Type        string     `json:"type,omitempty"`
	Origin      Point      `json:"from"`
	Destination Point      `json:"to"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// Active reports whether the trip has not been soft-deleted.
func (t Trip) Active() bool { return t.DeletedAt == nil }

func (t Trip) String() string {
	return fmt.Sprintf("[%d: from %s(%v,%v) to %s(%v,%v) on %s]",
		t.ID, t.Origin.Name, t.Origin.Lat, t.Origin.Lng,
		t.Destination.Name, t.Destination.Lat, t.Destination.Lng, t.On)
}

// TripInput is the writable part of a trip as accepted from clients.
type TripInput struct {
	On          string `json:"on"`
	Type        string `json:"type,omitempty"`
	Origin      Point  `json:"from"`
	Destination Point  `json:"to"`
}

// User owns trips.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Box is an inclusive lat/lng rectangle: [Lat1,Lat2] x [Lng1,Lng2].
type Box struct {
	Lat1 float64 `json:"lat1"`
	Lng1 float64 `json:"lng1"`
	Lat2 float64 `json:"lat2"`
	Lng2 float64 `json:"lng2"`
}

// Contains reports whether p lies inside the box, bounds included.
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.Lat1 && p.Lat <= b.Lat2 && p.Lng >= b.Lng1 && p.Lng <= b.Lng2
}

// TripDistance is a trip with its computed distances (meters) to a reference origin/destination.
type TripDistance struct {
	Trip      Trip
	StartDist float64
	EndDist   float64
}

// Total is the combined start+end distance.
func (d TripDistance) Total() float64 { return d.StartDist + d.EndDist }

// NearbyTrip is one entry of a nearest-trips result.
type NearbyTrip struct {
	Trip          Trip    `json:"trip"`
	StartDistance float64 `json:"startDistance"`
	EndDistance   float64 `json:"endDistance"`
	TotalDistance float64 `json:"totalDistance"`
}

// SimilarityRow is a directed edge of the similar-trips index. Distances are meters.
type SimilarityRow struct {
	TripID        int64 `json:"tripId"`
	OtherTripID   int64 `json:"otherTripId"`
	StartDistance int64 `json:"startDistance"`
	EndDistance   int64 `json:"endDistance"`
}

// StatsRow caches the number of trips within 2 km of a trip.
type StatsRow struct {
	TripID         int64 `json:"tripId"`
	TripsWithin2Km int   `json:"tripsWithin2Km"`
}

// SortKey selects the distance nearest-trip results are ordered by.
type SortKey string

const (
	SortStart SortKey = "start"
	SortEnd   SortKey = "end"
	SortTotal SortKey = "total"
)

// TripEvent names the kind of trip change that triggered matching.
type TripEvent string

const (
	TripCreated TripEvent = "trip.created"
	TripUpdated TripEvent = "trip.updated"
	TripDeleted TripEvent = "trip.deleted"
)
