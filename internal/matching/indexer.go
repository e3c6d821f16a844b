package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"rbus/internal/geo"
	"rbus/internal/metrics"
	"rbus/internal/model"
	"rbus/internal/store"
)

// SimilarityRadius is the earth-box radius (meters) around both endpoints.
const SimilarityRadius = 1000.0

type similarityRepo interface {
	store.TripRepository
	store.SimilarityStore
}

// Indexer maintains the directed similar-trips index.
type Indexer struct {
	repo similarityRepo
}

func NewIndexer(repo similarityRepo) *Indexer { return &Indexer{repo: repo} }

// RebuildFor replaces every similarity row owned by trip. Rows are swapped atomically;
// on failure the previous rows remain and the call can simply be retried.
func (ix *Indexer) RebuildFor(ctx context.Context, trip model.Trip) (rows []model.SimilarityRow, err error) {
	defer observe("similarity", time.Now(), &err)
	candidates, err := ix.repo.WithinEarthBoxes(ctx, trip.Origin, trip.Destination, SimilarityRadius)
	if err != nil {
		return nil, fmt.Errorf("similar trips for %d: %w", trip.ID, err)
	}
	rows = make([]model.SimilarityRow, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == trip.ID {
			continue
		}
		rows = append(rows, model.SimilarityRow{
			TripID:        trip.ID,
			OtherTripID:   c.ID,
			StartDistance: int64(math.Round(geo.Miles(trip.Origin, c.Origin) * geo.MetersPerMile)),
			EndDistance:   int64(math.Round(geo.Miles(trip.Destination, c.Destination) * geo.MetersPerMile)),
		})
	}
	if err := ix.repo.ReplaceSimilarities(ctx, trip.ID, rows); err != nil {
		return nil, fmt.Errorf("replace similar trips for %d: %w", trip.ID, err)
	}
	metrics.SimilarityRows.Add(float64(len(rows)))
	return rows, nil
}
