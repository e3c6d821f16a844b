package matching

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbus/internal/geo"
	"rbus/internal/model"
	"rbus/internal/store"
)

var (
	mumbai     = model.Point{Name: "Mumbai", Lat: 19.0760, Lng: 72.8777}
	mumbaiNear = model.Point{Name: "Mumbai (near)", Lat: 19.0800, Lng: 72.8800}
	pune       = model.Point{Name: "Pune", Lat: 18.5204, Lng: 73.8567}
	puneNear   = model.Point{Name: "Pune (near)", Lat: 18.5244, Lng: 73.8590}
	delhi      = model.Point{Name: "Delhi", Lat: 28.6139, Lng: 77.2090}
	jaipur     = model.Point{Name: "Jaipur", Lat: 26.9124, Lng: 75.7873}
)

type fixture struct {
	st      *store.Memory
	a, b, c model.Trip
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemory()
	create := func(from, to model.Point) model.Trip {
		tr, err := st.CreateTrip(context.Background(), model.Trip{UserID: 1, On: model.Weekdays, Origin: from, Destination: to})
		require.NoError(t, err)
		return tr
	}
	return fixture{
		st: st,
		a:  create(mumbai, pune),
		b:  create(mumbaiNear, puneNear),
		c:  create(delhi, jaipur),
	}
}

func ids(trips []model.Trip) []int64 {
	out := []int64{}
	for _, t := range trips {
		out = append(out, t.ID)
	}
	return out
}

func TestFindWithinCombinedRadius(t *testing.T) {
	f := newFixture(t)
	m := NewMatcher(f.st)
	ctx := context.Background()

	got, err := m.FindWithinCombinedRadius(ctx, f.a, StatsRadius)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.b.ID}, ids(got))

	for _, tr := range []model.Trip{f.a, f.b, f.c} {
		for _, meters := range []float64{0, 500, 2000, 2e6} {
			got, err := m.FindWithinCombinedRadius(ctx, tr, meters)
			require.NoError(t, err)
			for _, o := range got {
				assert.NotEqual(t, tr.ID, o.ID)
				assert.LessOrEqual(t, geo.Distance(tr.Origin, o.Origin)+geo.Distance(tr.Destination, o.Destination), meters)
			}
		}
	}

	got, err = m.FindWithinCombinedRadius(ctx, f.c, StatsRadius)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindWithinCombinedRadiusSkipsDeleted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.SoftDeleteTrip(context.Background(), f.b.ID))
	got, err := NewMatcher(f.st).FindWithinCombinedRadius(context.Background(), f.a, 2e7)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.c.ID}, ids(got))
}

func TestFindNearest(t *testing.T) {
	f := newFixture(t)
	m := NewMatcher(f.st)
	ctx := context.Background()

	got, err := m.FindNearest(ctx, f.a, NearestOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, f.b.ID, got[0].Trip.ID)
	assert.Equal(t, f.c.ID, got[1].Trip.ID)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].TotalDistance < got[j].TotalDistance }))
	assert.InDelta(t, got[0].StartDistance+got[0].EndDistance, got[0].TotalDistance, 1e-9)

	got, err = m.FindNearest(ctx, f.a, NearestOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.b.ID, got[0].Trip.ID)

	got, err = m.FindNearest(ctx, f.a, NearestOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.c.ID, got[0].Trip.ID)

	got, err = m.FindNearest(ctx, f.a, NearestOptions{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, key := range []model.SortKey{model.SortStart, model.SortEnd, model.SortTotal} {
		got, err := m.FindNearest(ctx, f.c, NearestOptions{SortKey: key})
		require.NoError(t, err)
		for _, n := range got {
			assert.NotEqual(t, f.c.ID, n.Trip.ID)
		}
		value := func(n model.NearbyTrip) float64 {
			switch key {
			case model.SortStart:
				return n.StartDistance
			case model.SortEnd:
				return n.EndDistance
			}
			return n.TotalDistance
		}
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, value(got[i-1]), value(got[i]))
		}
	}
}

func TestFindNearestUnknownSortKeyPanics(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() {
		_, _ = NewMatcher(f.st).FindNearest(context.Background(), f.a, NearestOptions{SortKey: "sideways"})
	})
}

// vanishingRepo reports a trip as gone at enrichment time.
type vanishingRepo struct {
	*store.Memory
	gone int64
	err  error
}

func (r vanishingRepo) GetTrip(ctx context.Context, id int64) (model.Trip, error) {
	if id == r.gone {
		return model.Trip{}, r.err
	}
	return r.Memory.GetTrip(ctx, id)
}

func TestFindNearestEnrichment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := NewMatcher(vanishingRepo{Memory: f.st, gone: f.b.ID, err: store.ErrNotFound}).FindNearest(ctx, f.a, NearestOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.c.ID, got[0].Trip.ID)

	boom := &store.StorageError{Op: "get trip", Err: errors.New("connection reset")}
	_, err = NewMatcher(vanishingRepo{Memory: f.st, gone: f.b.ID, err: boom}).FindNearest(ctx, f.a, NearestOptions{})
	var se *store.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestRebuildFor(t *testing.T) {
	f := newFixture(t)
	ix := NewIndexer(f.st)
	ctx := context.Background()

	rows, err := ix.RebuildFor(ctx, f.a)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, f.a.ID, r.TripID)
	assert.Equal(t, f.b.ID, r.OtherTripID)
	assert.InDelta(t, 510, r.StartDistance, 40)
	assert.InDelta(t, 510, r.EndDistance, 40)

	again, err := ix.RebuildFor(ctx, f.a)
	require.NoError(t, err)
	assert.Equal(t, rows, again)
	stored, err := f.st.ListSimilarities(ctx, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, rows, stored)

	rows, err = ix.RebuildFor(ctx, f.c)
	require.NoError(t, err)
	assert.Empty(t, rows)
	stored, err = f.st.ListSimilarities(ctx, f.b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "edges are directed; b was never rebuilt")
}

func TestRebuildForSkipsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.SoftDeleteTrip(ctx, f.b.ID))
	rows, err := NewIndexer(f.st).RebuildFor(ctx, f.a)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type failingReplace struct {
	*store.Memory
}

func (failingReplace) ReplaceSimilarities(context.Context, int64, []model.SimilarityRow) error {
	return &store.StorageError{Op: "replace similar trips", Err: errors.New("disk full")}
}

func TestRebuildForKeepsOldRowsOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := NewIndexer(f.st).RebuildFor(ctx, f.a)
	require.NoError(t, err)

	_, err = NewIndexer(failingReplace{f.st}).RebuildFor(ctx, f.a)
	var se *store.StorageError
	require.ErrorAs(t, err, &se)

	stored, err := f.st.ListSimilarities(ctx, f.a.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestUpdateFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := NewMatcher(f.st)
	agg := NewAggregator(m, f.st)

	row, err := agg.UpdateFor(ctx, f.a)
	require.NoError(t, err)
	within, err := m.FindWithinCombinedRadius(ctx, f.a, StatsRadius)
	require.NoError(t, err)
	assert.Equal(t, len(within), row.TripsWithin2Km)
	assert.Equal(t, 1, row.TripsWithin2Km)

	// b had no row: it is created with its own count
	nb, err := f.st.GetStats(ctx, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, nb.TripsWithin2Km)

	_, err = f.st.GetStats(ctx, f.c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "c is not a neighbor")

	row, err = agg.UpdateFor(ctx, f.c)
	require.NoError(t, err)
	assert.Equal(t, 0, row.TripsWithin2Km)
}

func TestUpdateForLeavesExistingNeighborRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.UpsertStats(ctx, model.StatsRow{TripID: f.b.ID, TripsWithin2Km: 42}))

	_, err := NewAggregator(NewMatcher(f.st), f.st).UpdateFor(ctx, f.a)
	require.NoError(t, err)
	nb, err := f.st.GetStats(ctx, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, nb.TripsWithin2Km)
}
