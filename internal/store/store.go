package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rbus/internal/model"
)

// TripRepository is the read side of the trip table the matching engine works against.
type TripRepository interface {
	AllActive(ctx context.Context) ([]model.Trip, error)
	GetTrip(ctx context.Context, id int64) (model.Trip, error)
	// WithComputedDistances returns every active trip with the distance (meters) from its
	// origin to origin and from its destination to dest.
	WithComputedDistances(ctx context.Context, origin, dest model.Point) ([]model.TripDistance, error)
	// FilterByBoundingBox restricts active trips by origin and/or destination rectangle.
	// Nil boxes are ignored.
	FilterByBoundingBox(ctx context.Context, originBox, destBox *model.Box) ([]model.Trip, error)
	// WithinEarthBoxes returns active trips whose origin lies in earth_box(origin, meters)
	// and whose destination lies in earth_box(dest, meters).
	WithinEarthBoxes(ctx context.Context, origin, dest model.Point, meters float64) ([]model.Trip, error)
}

// TripWriter is used by the CRUD collaborator.
type TripWriter interface {
	CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error)
	UpdateTrip(ctx context.Context, t model.Trip) (model.Trip, error)
	// SoftDeleteTrip marks the trip deleted and purges its derived rows.
	SoftDeleteTrip(ctx context.Context, id int64) error
	// UpsertUser stores u; an empty email keeps the stored one.
	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id int64) (model.User, error)
}

// SimilarityStore persists the similar-trips index.
type SimilarityStore interface {
	// ReplaceSimilarities atomically swaps every row with trip_id = tripID for rows.
	ReplaceSimilarities(ctx context.Context, tripID int64, rows []model.SimilarityRow) error
	ListSimilarities(ctx context.Context, tripID int64) ([]model.SimilarityRow, error)
}

// StatsStore persists per-trip stats rows.
type StatsStore interface {
	UpsertStats(ctx context.Context, row model.StatsRow) error
	// CreateStatsIfAbsent inserts row unless the trip already has one; it reports whether it inserted.
	CreateStatsIfAbsent(ctx context.Context, row model.StatsRow) (bool, error)
	GetStats(ctx context.Context, tripID int64) (model.StatsRow, error)
}

// WebhookDelivery is one queued admin notification due for an HTTP POST.
type WebhookDelivery struct {
	ID        string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Status    string
	Attempts  int
}

// Outbox is the webhook delivery queue.
type Outbox interface {
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}

// Store is the persistence interface used by the API server.
type Store interface {
	TripRepository
	TripWriter
	SimilarityStore
	StatsStore
	Outbox
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// StorageError wraps a read or write failure against the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
