package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbus/internal/model"
)

var (
	mumbai     = model.Point{Name: "Mumbai", Lat: 19.0760, Lng: 72.8777}
	mumbaiNear = model.Point{Name: "Mumbai (near)", Lat: 19.0800, Lng: 72.8800}
	delhi      = model.Point{Name: "Delhi", Lat: 28.6139, Lng: 77.2090}
)

func mustCreate(t *testing.T, m *Memory, from, to model.Point) model.Trip {
	t.Helper()
	tr, err := m.CreateTrip(context.Background(), model.Trip{UserID: 1, On: model.Weekdays, Origin: from, Destination: to})
	require.NoError(t, err)
	return tr
}

func TestMemoryTripCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m, mumbai, delhi)
	b := mustCreate(t, m, delhi, mumbai)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	got, err := m.GetTrip(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, mumbai, got.Origin)

	a.Origin = mumbaiNear
	a.UserID = 99
	upd, err := m.UpdateTrip(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, mumbaiNear, upd.Origin)
	assert.Equal(t, int64(1), upd.UserID, "owner is immutable")

	require.NoError(t, m.SoftDeleteTrip(ctx, a.ID))
	_, err = m.GetTrip(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.SoftDeleteTrip(ctx, a.ID), ErrNotFound)
	_, err = m.UpdateTrip(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := m.AllActive(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, b.ID, all[0].ID)
}

func TestMemoryWithComputedDistances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mustCreate(t, m, mumbai, delhi)
	mustCreate(t, m, mumbaiNear, delhi)
	rows, err := m.WithComputedDistances(ctx, mumbai, delhi)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0.0, rows[0].Total())
	assert.InDelta(t, 510, rows[1].StartDist, 30)
	assert.Equal(t, 0.0, rows[1].EndDist)
}

func TestMemoryFilterByBoundingBox(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m, mumbai, delhi)
	b := mustCreate(t, m, delhi, mumbai)

	all, err := m.FilterByBoundingBox(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	box := &model.Box{Lat1: 19, Lng1: 72, Lat2: 20, Lng2: 73}
	got, err := m.FilterByBoundingBox(ctx, box, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = m.FilterByBoundingBox(ctx, nil, box)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = m.FilterByBoundingBox(ctx, box, box)
	require.NoError(t, err)
	assert.Empty(t, got)

	// bounds are inclusive
	edge := &model.Box{Lat1: mumbai.Lat, Lng1: mumbai.Lng, Lat2: mumbai.Lat, Lng2: mumbai.Lng}
	got, err = m.FilterByBoundingBox(ctx, edge, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryWithinEarthBoxes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m, mumbai, delhi)
	b := mustCreate(t, m, mumbaiNear, delhi)
	mustCreate(t, m, delhi, mumbai)

	got, err := m.WithinEarthBoxes(ctx, mumbai, delhi, 1000)
	require.NoError(t, err)
	ids := []int64{}
	for _, tr := range got {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []int64{a.ID, b.ID}, ids)

	require.NoError(t, m.SoftDeleteTrip(ctx, b.ID))
	got, err = m.WithinEarthBoxes(ctx, mumbai, delhi, 1000)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemorySimilaritiesAndStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m, mumbai, delhi)
	b := mustCreate(t, m, mumbaiNear, delhi)
	c := mustCreate(t, m, mumbaiNear, delhi)

	require.NoError(t, m.ReplaceSimilarities(ctx, a.ID, []model.SimilarityRow{
		{TripID: a.ID, OtherTripID: c.ID, StartDistance: 600, EndDistance: 0},
		{TripID: a.ID, OtherTripID: b.ID, StartDistance: 500, EndDistance: 0},
	}))
	require.NoError(t, m.ReplaceSimilarities(ctx, b.ID, []model.SimilarityRow{
		{TripID: b.ID, OtherTripID: a.ID, StartDistance: 500, EndDistance: 0},
	}))
	rows, err := m.ListSimilarities(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].OtherTripID)

	inserted, err := m.CreateStatsIfAbsent(ctx, model.StatsRow{TripID: a.ID, TripsWithin2Km: 2})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = m.CreateStatsIfAbsent(ctx, model.StatsRow{TripID: a.ID, TripsWithin2Km: 7})
	require.NoError(t, err)
	assert.False(t, inserted)
	st, err := m.GetStats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TripsWithin2Km)

	// deleting b removes its rows and edges pointing at it
	require.NoError(t, m.SoftDeleteTrip(ctx, b.ID))
	rows, err = m.ListSimilarities(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, c.ID, rows[0].OtherTripID)
	rows, err = m.ListSimilarities(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// deleting a removes its stats row
	require.NoError(t, m.SoftDeleteTrip(ctx, a.ID))
	_, err = m.GetStats(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.ReplaceSimilarities(ctx, c.ID, nil))
	rows, err = m.ListSimilarities(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.GetUser(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.UpsertUser(ctx, model.User{ID: 1, Email: "a@x.io"}))
	require.NoError(t, m.UpsertUser(ctx, model.User{ID: 1, Email: "b@x.io"}))
	u, err := m.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b@x.io", u.Email)

	require.NoError(t, m.UpsertUser(ctx, model.User{ID: 1}))
	u, err = m.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b@x.io", u.Email, "empty email keeps the stored one")
}

func TestMemoryOutbox(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	id, err := m.EnqueueWebhook(ctx, "trip.created", "http://x", "s", []byte(`{}`))
	require.NoError(t, err)
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	next := now.Add(time.Minute)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 3))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	now = now.Add(2 * time.Minute)
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "dead", 500, 3))
	items, _, err := m.ListWebhookDeliveries(ctx, "failed", "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "dead", items[0]["lastError"])

	require.NoError(t, m.RetryWebhookDelivery(ctx, id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	assert.ErrorIs(t, m.RetryWebhookDelivery(ctx, "nope"), ErrNotFound)
}

func TestStorageErrorUnwraps(t *testing.T) {
	assert.NoError(t, storageErr("x", nil))
	err := storageErr("get trip", context.DeadlineExceeded)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get trip", se.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
