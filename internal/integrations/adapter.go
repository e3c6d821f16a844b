// Package integrations loads intended trips from external feeds.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"rbus/internal/model"
)

// TripSource is a bulk feed of intended trips, such as a partner's CSV export.
// Next returns io.EOF once the feed is exhausted.
type TripSource interface {
	Name() string
	Next(ctx context.Context) ([]Record, error)
}

// Record is one trip as read from a source, with the user that owns it.
type Record struct {
	Line  int
	Owner model.User
	Input model.TripInput
}

// RecordError reports a record the importer skipped.
type RecordError struct {
	Source string
	Line   int
	Err    error
}

func (e *RecordError) Error() string { return fmt.Sprintf("%s line %d: %v", e.Source, e.Line, e.Err) }

func (e *RecordError) Unwrap() error { return e.Err }

var ErrNoOwner = errors.New("user_id must be a positive integer")

// Sink is where imported trips are written.
type Sink interface {
	UpsertUser(ctx context.Context, u model.User) error
	CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error)
}

// Summary is the outcome of one import run.
type Summary struct {
	Imported int
	Rejected []*RecordError
}

type Importer struct {
	Sink Sink
	// AfterSave runs for every stored trip; matching uses it to refresh derived rows.
	AfterSave func(ctx context.Context, t model.Trip) error
	Log       *slog.Logger
}

// Run drains src. Invalid records are collected in the summary; store failures abort.
func (im *Importer) Run(ctx context.Context, src TripSource) (Summary, error) {
	var sum Summary
	log := im.Log
	if log == nil {
		log = slog.Default()
	}
	for {
		recs, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("%s: %w", src.Name(), err)
		}
		for _, rec := range recs {
			if rec.Owner.ID <= 0 {
				sum.Rejected = append(sum.Rejected, &RecordError{Source: src.Name(), Line: rec.Line, Err: ErrNoOwner})
				continue
			}
			on, err := rec.Input.Validate()
			if err != nil {
				sum.Rejected = append(sum.Rejected, &RecordError{Source: src.Name(), Line: rec.Line, Err: err})
				continue
			}
			if err := im.Sink.UpsertUser(ctx, rec.Owner); err != nil {
				return sum, err
			}
			t, err := im.Sink.CreateTrip(ctx, model.Trip{
				UserID:      rec.Owner.ID,
				On:          on,
				Type:        rec.Input.Type,
				Origin:      rec.Input.Origin,
				Destination: rec.Input.Destination,
			})
			if err != nil {
				return sum, err
			}
			sum.Imported++
			if im.AfterSave != nil {
				if err := im.AfterSave(ctx, t); err != nil {
					log.Warn("imported trip left stale", "trip", t.ID, "err", err)
				}
			}
		}
	}
	log.Info("import finished", "source", src.Name(), "imported", sum.Imported, "rejected", len(sum.Rejected))
	return sum, nil
}
