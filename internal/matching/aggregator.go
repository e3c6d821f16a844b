package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rbus/internal/model"
	"rbus/internal/store"
)

// StatsRadius is the combined start+end radius (meters) counted by the stats row.
const StatsRadius = 2000.0

// Aggregator keeps the trips-within-2-km stats rows.
type Aggregator struct {
	matcher *Matcher
	stats   store.StatsStore
}

func NewAggregator(m *Matcher, stats store.StatsStore) *Aggregator {
	return &Aggregator{matcher: m, stats: stats}
}

// UpdateFor recounts trip's neighbors and stores the result. Neighbors that have no
// stats row yet get one with their own count; existing neighbor rows are not refreshed.
func (a *Aggregator) UpdateFor(ctx context.Context, trip model.Trip) (row model.StatsRow, err error) {
	defer observe("stats", time.Now(), &err)
	neighbors, err := a.matcher.FindWithinCombinedRadius(ctx, trip, StatsRadius)
	if err != nil {
		return row, err
	}
	row = model.StatsRow{TripID: trip.ID, TripsWithin2Km: len(neighbors)}
	if err := a.stats.UpsertStats(ctx, row); err != nil {
		return row, fmt.Errorf("stats for trip %d: %w", trip.ID, err)
	}
	for _, n := range neighbors {
		if err := a.ensureRow(ctx, n); err != nil {
			return row, err
		}
	}
	return row, nil
}

func (a *Aggregator) ensureRow(ctx context.Context, trip model.Trip) error {
	_, err := a.stats.GetStats(ctx, trip.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("stats for neighbor %d: %w", trip.ID, err)
	}
	neighbors, err := a.matcher.FindWithinCombinedRadius(ctx, trip, StatsRadius)
	if err != nil {
		return err
	}
	if _, err := a.stats.CreateStatsIfAbsent(ctx, model.StatsRow{TripID: trip.ID, TripsWithin2Km: len(neighbors)}); err != nil {
		return fmt.Errorf("stats for neighbor %d: %w", trip.ID, err)
	}
	return nil
}
