package model

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() TripInput {
	return TripInput{
		On:          "weekdays",
		Origin:      Point{Name: "Mumbai", Lat: 19.0760, Lng: 72.8777},
		Destination: Point{Name: "Pune", Lat: 18.5204, Lng: 73.8567},
	}
}

func TestTripInputValidate(t *testing.T) {
	rec, err := validInput().Validate()
	require.NoError(t, err)
	assert.Equal(t, Weekdays, rec)

	in := validInput()
	in.On = "weekdays and saturday"
	rec, err = in.Validate()
	require.NoError(t, err)
	assert.Equal(t, WeekdaysAndSaturday, rec)
}

func TestTripInputValidateRejects(t *testing.T) {
	cases := map[string]func(*TripInput){
		"on":        func(in *TripInput) { in.On = "fortnightly" },
		"from.name": func(in *TripInput) { in.Origin.Name = "" },
		"to.name":   func(in *TripInput) { in.Destination.Name = strings.Repeat("x", MaxNameLength+1) },
		"from.lat":  func(in *TripInput) { in.Origin.Lat = 90.5 },
		"to.lng":    func(in *TripInput) { in.Destination.Lng = 120 },
		"from.lng":  func(in *TripInput) { in.Origin.Lng = math.NaN() },
		"to.lat":    func(in *TripInput) { in.Destination.Lat = math.Inf(-1) },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := in.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Contains(t, verr.Fields, field)
		})
	}
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortTotal, k)
	k, err = ParseSortKey("from")
	require.NoError(t, err)
	assert.Equal(t, SortStart, k)
	_, err = ParseSortKey("sideways")
	assert.Error(t, err)
}

func TestParseBox(t *testing.T) {
	b, err := ParseBox("19, 72, 20, 73")
	require.NoError(t, err)
	assert.Equal(t, Box{Lat1: 19, Lng1: 72, Lat2: 20, Lng2: 73}, *b)
	assert.True(t, b.Contains(Point{Lat: 19, Lng: 73}))
	assert.False(t, b.Contains(Point{Lat: 20.1, Lng: 72.5}))

	_, err = ParseBox("19,72,20")
	assert.Error(t, err)
	_, err = ParseBox("NaN,72,20,73")
	assert.Error(t, err)
}
