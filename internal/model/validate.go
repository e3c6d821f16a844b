package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds origin and destination names.
const MaxNameLength = 150

// ValidationError carries per-field messages for a rejected trip write.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

// ParseRecurrence accepts the canonical names and the legacy spaced spellings.
func ParseRecurrence(s string) (Recurrence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekdays":
		return Weekdays, nil
	case "weekdays_and_saturday", "weekdays and saturday":
		return WeekdaysAndSaturday, nil
	case "all_days", "all days":
		return AllDays, nil
	}
	return "", fmt.Errorf("unrecognized recurrence %q", s)
}

// Validate checks a trip input and returns the normalized recurrence.
func (in TripInput) Validate() (Recurrence, error) {
	verr := &ValidationError{}
	rec, err := ParseRecurrence(in.On)
	if strings.TrimSpace(in.On) == "" {
		verr.add("on", "is required")
	} else if err != nil {
		verr.add("on", err.Error())
	}
	validatePoint(verr, "from", in.Origin)
	validatePoint(verr, "to", in.Destination)
	if len(verr.Fields) > 0 {
		return "", verr
	}
	return rec, nil
}

func validatePoint(verr *ValidationError, prefix string, p Point) {
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		verr.add(prefix+".name", "is required")
	case utf8.RuneCountInString(name) > MaxNameLength:
		verr.add(prefix+".name", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
	// Both coordinates share the [-90,90] range of the stored decimal columns.
	if !inRange(p.Lat) {
		verr.add(prefix+".lat", "must be within [-90, 90]")
	}
	if !inRange(p.Lng) {
		verr.add(prefix+".lng", "must be within [-90, 90]")
	}
}

// inRange is false for NaN as well as for out-of-range values.
func inRange(v float64) bool { return v >= -90 && v <= 90 }

// ParseSortKey maps a query value to a SortKey; empty means total.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortTotal:
		return SortTotal, nil
	case SortStart, "from":
		return SortStart, nil
	case SortEnd, "to":
		return SortEnd, nil
	}
	return "", fmt.Errorf("invalid sort key %q (allowed: start, end, total)", s)
}

// ParseBox parses "lat1,lng1,lat2,lng2".
func ParseBox(s string) (*Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("box must be lat1,lng1,lat2,lng2")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("box value %d: %w", i+1, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("box value %d must be finite", i+1)
		}
		v[i] = f
	}
	return &Box{Lat1: v[0], Lng1: v[1], Lat2: v[2], Lng2: v[3]}, nil
}
