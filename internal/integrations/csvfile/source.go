// Package csvfile reads intended trips from CSV exports.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"rbus/internal/integrations"
	"rbus/internal/model"
)

// Columns every export must carry, in any order. "type" is optional.
var required = []string{
	"user_id", "email", "on",
	"from_name", "from_lat", "from_lng",
	"to_name", "to_lat", "to_lng",
}

// Source streams records from a CSV with a header row.
type Source struct {
	name      string
	r         *csv.Reader
	cols      map[string]int
	line      int
	BatchSize int
}

func New(name string, r io.Reader) *Source {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return &Source{name: name, r: cr, BatchSize: 500}
}

func (s *Source) Name() string { return "csv:" + s.name }

func (s *Source) header() error {
	row, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return err
	}
	s.line = 1
	s.cols = map[string]int{}
	for i, h := range row {
		s.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := s.cols[c]; !ok {
			return fmt.Errorf("missing column %q", c)
		}
	}
	return nil
}

// Next returns up to BatchSize records. Rows that cannot be parsed come back with
// a zero Owner so the importer rejects them with their line number.
func (s *Source) Next(ctx context.Context) ([]integrations.Record, error) {
	if s.cols == nil {
		if err := s.header(); err != nil {
			return nil, err
		}
	}
	var out []integrations.Record
	for len(out) < max(s.BatchSize, 1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		row, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		s.line++
		if err != nil {
			return out, fmt.Errorf("line %d: %w", s.line, err)
		}
		out = append(out, s.record(row))
	}
	return out, nil
}

func (s *Source) field(row []string, col string) string {
	i, ok := s.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *Source) record(row []string) integrations.Record {
	rec := integrations.Record{Line: s.line}
	id, _ := strconv.ParseInt(s.field(row, "user_id"), 10, 64)
	rec.Owner = model.User{ID: id, Email: s.field(row, "email")}
	rec.Input = model.TripInput{
		On:          s.field(row, "on"),
		Type:        s.field(row, "type"),
		Origin:      s.point(row, "from"),
		Destination: s.point(row, "to"),
	}
	return rec
}

// point leaves unparseable or non-finite coordinates out of range so validation names the field.
func (s *Source) point(row []string, prefix string) model.Point {
	coord := func(col string) float64 {
		v, err := strconv.ParseFloat(s.field(row, prefix+"_"+col), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 999
		}
		return v
	}
	return model.Point{Name: s.field(row, prefix+"_name"), Lat: coord("lat"), Lng: coord("lng")}
}
