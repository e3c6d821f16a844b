package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"rbus/internal/events"
	"rbus/internal/model"
	"rbus/internal/store"
)

// Notifier tells an administrator about a trip change.
type Notifier interface {
	Notify(ctx context.Context, kind model.TripEvent, trip model.Trip, owner model.User) error
}

// Store is the slice of persistence the engine needs.
type Store interface {
	store.TripRepository
	store.SimilarityStore
	store.StatsStore
	SoftDeleteTrip(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (model.User, error)
}

// Engine runs the derived-data hooks for trip changes.
type Engine struct {
	store      Store
	Matcher    *Matcher
	Indexer    *Indexer
	Aggregator *Aggregator
	events     events.Publisher
	notifier   Notifier
	log        *slog.Logger
}

// NewEngine wires the matcher, indexer and aggregator over st. pub and n may be nil.
func NewEngine(st Store, pub events.Publisher, n Notifier, log *slog.Logger) *Engine {
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	m := NewMatcher(st)
	return &Engine{
		store:      st,
		Matcher:    m,
		Indexer:    NewIndexer(st),
		Aggregator: NewAggregator(m, st),
		events:     pub,
		notifier:   n,
		log:        log,
	}
}

// Result is what a recompute produced for one trip.
type Result struct {
	Stats   model.StatsRow        `json:"stats"`
	Similar []model.SimilarityRow `json:"similar"`
}

// Recompute refreshes trip's stats row and similarity rows, then publishes events.
func (e *Engine) Recompute(ctx context.Context, trip model.Trip) (Result, error) {
	var res Result
	var err error
	if res.Stats, err = e.Aggregator.UpdateFor(ctx, trip); err != nil {
		return res, err
	}
	if res.Similar, err = e.Indexer.RebuildFor(ctx, trip); err != nil {
		return res, err
	}
	e.publish(trip, res)
	e.log.Debug("trip recomputed", "trip", trip.ID, "within2km", res.Stats.TripsWithin2Km, "similar", len(res.Similar))
	return res, nil
}

// OnTripSaved runs after a trip is created or updated.
func (e *Engine) OnTripSaved(ctx context.Context, trip model.Trip, kind model.TripEvent) (Result, error) {
	res, err := e.Recompute(ctx, trip)
	if err != nil {
		return res, err
	}
	e.events.Publish(events.TripTopic(trip.ID), events.Event{Type: string(kind), Data: map[string]any{"trip": trip}})
	e.notify(ctx, kind, trip)
	return res, nil
}

// OnTripDeleted soft-deletes the trip; the store drops its derived rows.
func (e *Engine) OnTripDeleted(ctx context.Context, id int64) error {
	if err := e.store.SoftDeleteTrip(ctx, id); err != nil {
		return fmt.Errorf("delete trip %d: %w", id, err)
	}
	e.events.Publish(events.TripTopic(id), events.Event{Type: string(model.TripDeleted), Data: map[string]any{"tripId": id}})
	e.log.Info("trip deleted", "trip", id)
	return nil
}

// RecomputeAll rebuilds the derived rows of every active trip using up to workers
// goroutines. The first failure cancels the remaining work.
func (e *Engine) RecomputeAll(ctx context.Context, workers int) (n int, err error) {
	defer observe("recompute_all", time.Now(), &err)
	trips, err := e.store.AllActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("recompute all: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range trips {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := e.Recompute(gctx, t)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	e.log.Info("recomputed derived rows", "trips", len(trips), "workers", workers)
	return len(trips), nil
}

func (e *Engine) publish(trip model.Trip, res Result) {
	topic := events.TripTopic(trip.ID)
	e.events.Publish(topic, events.Event{Type: "stats.updated", Data: map[string]any{
		"tripId": trip.ID, "tripsWithin2Km": res.Stats.TripsWithin2Km,
	}})
	e.events.Publish(topic, events.Event{Type: "similarity.rebuilt", Data: map[string]any{
		"tripId": trip.ID, "count": len(res.Similar),
	}})
	for _, r := range res.Similar {
		e.events.Publish(events.TripTopic(r.OtherTripID), events.Event{Type: "similar.found", Data: map[string]any{
			"tripId": r.OtherTripID, "similarTripId": trip.ID,
			"startDistance": r.StartDistance, "endDistance": r.EndDistance,
		}})
	}
}

func (e *Engine) notify(ctx context.Context, kind model.TripEvent, trip model.Trip) {
	if e.notifier == nil {
		return
	}
	owner, err := e.store.GetUser(ctx, trip.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("notify: load owner", "trip", trip.ID, "user", trip.UserID, "err", err)
		}
		owner = model.User{ID: trip.UserID}
	}
	if err := e.notifier.Notify(ctx, kind, trip, owner); err != nil {
		e.log.Warn("admin notification failed", "trip", trip.ID, "event", kind, "err", err)
	}
}
