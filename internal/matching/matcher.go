// Package matching finds trips with nearby endpoints and maintains the derived
// similarity index and per-trip stats.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"rbus/internal/model"
	"rbus/internal/store"
)

// DefaultNearestLimit caps FindNearest when no limit is given.
const DefaultNearestLimit = 100

// Matcher answers proximity queries against the active trip set.
type Matcher struct {
	repo store.TripRepository
}

func NewMatcher(repo store.TripRepository) *Matcher { return &Matcher{repo: repo} }

// FindWithinCombinedRadius returns the other active trips whose start distance plus
// end distance to trip is at most meters, in storage order.
func (m *Matcher) FindWithinCombinedRadius(ctx context.Context, trip model.Trip, meters float64) (out []model.Trip, err error) {
	defer observe("within", time.Now(), &err)
	rows, err := m.repo.WithComputedDistances(ctx, trip.Origin, trip.Destination)
	if err != nil {
		return nil, fmt.Errorf("within %v m of trip %d: %w", meters, trip.ID, err)
	}
	out = []model.Trip{}
	for _, r := range rows {
		if r.Trip.ID == trip.ID {
			continue
		}
		if r.Total() <= meters {
			out = append(out, r.Trip)
		}
	}
	return out, nil
}

type NearestOptions struct {
	Limit   int
	Offset  int
	SortKey model.SortKey
}

func (o NearestOptions) withDefaults() NearestOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultNearestLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.SortKey == "" {
		o.SortKey = model.SortTotal
	}
	return o
}

// sortValue panics on keys ParseSortKey would have rejected.
func sortValue(key model.SortKey) func(model.TripDistance) float64 {
	switch key {
	case model.SortStart:
		return func(d model.TripDistance) float64 { return d.StartDist }
	case model.SortEnd:
		return func(d model.TripDistance) float64 { return d.EndDist }
	case model.SortTotal:
		return model.TripDistance.Total
	}
	panic(fmt.Sprintf("matching: unknown sort key %q", key))
}

// FindNearest ranks every other active trip by distance to trip. Entries whose trip
// disappears between ranking and lookup are dropped.
func (m *Matcher) FindNearest(ctx context.Context, trip model.Trip, opts NearestOptions) (out []model.NearbyTrip, err error) {
	opts = opts.withDefaults()
	value := sortValue(opts.SortKey)
	defer observe("nearest", time.Now(), &err)

	rows, err := m.repo.WithComputedDistances(ctx, trip.Origin, trip.Destination)
	if err != nil {
		return nil, fmt.Errorf("nearest to trip %d: %w", trip.ID, err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return value(rows[i]) < value(rows[j]) })

	ranked := rows[:0]
	for _, r := range rows {
		if r.Trip.ID != trip.ID {
			ranked = append(ranked, r)
		}
	}
	if opts.Offset >= len(ranked) {
		return []model.NearbyTrip{}, nil
	}
	ranked = ranked[opts.Offset:]
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	out = make([]model.NearbyTrip, 0, len(ranked))
	for _, r := range ranked {
		t, err := m.repo.GetTrip(ctx, r.Trip.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("nearest to trip %d: load trip %d: %w", trip.ID, r.Trip.ID, err)
		}
		out = append(out, model.NearbyTrip{
			Trip:          t,
			StartDistance: r.StartDist,
			EndDistance:   r.EndDist,
			TotalDistance: r.Total(),
		})
	}
	return out, nil
}
