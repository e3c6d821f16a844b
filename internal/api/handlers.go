package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/twpayne/go-polyline"

	"rbus/internal/auth"
	"rbus/internal/model"
	"rbus/internal/store"
)

// tripView is a trip as rendered to clients, with an encoded origin→destination line.
type tripView struct {
	model.Trip
	Polyline string `json:"polyline"`
}

func viewOf(t model.Trip) tripView {
	line := polyline.EncodeCoords([][]float64{
		{t.Origin.Lat, t.Origin.Lng},
		{t.Destination.Lat, t.Destination.Lng},
	})
	return tripView{Trip: t, Polyline: string(line)}
}

// savedTrip is the body of create and update responses. Stale is set when the trip
// was stored but its derived rows could not be refreshed.
type savedTrip struct {
	Trip    tripView              `json:"trip"`
	Stats   *model.StatsRow       `json:"stats,omitempty"`
	Similar []model.SimilarityRow `json:"similar,omitempty"`
	Stale   bool                  `json:"stale,omitempty"`
}

// CreateTripHandler handles POST /v1/trips
func (s *Server) CreateTripHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	var in model.TripInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := in.Validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.rememberUser(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Store.CreateTrip(r.Context(), tripFromInput(in, rec, p.UserID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Log.Info("trip created", "trip", t.ID, "user", p.UserID)
	writeJSON(w, http.StatusCreated, s.afterSave(r, t, model.TripCreated))
}

// UpdateTripHandler handles PUT /v1/trips/{id}
func (s *Server) UpdateTripHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	cur, ok := s.ownedTrip(w, r, p)
	if !ok {
		return
	}
	var in model.TripInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rec, err := in.Validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next := tripFromInput(in, rec, cur.UserID)
	next.ID = cur.ID
	t, err := s.Store.UpdateTrip(r.Context(), next)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.afterSave(r, t, model.TripUpdated))
}

// DeleteTripHandler handles DELETE /v1/trips/{id}
func (s *Server) DeleteTripHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	t, ok := s.ownedTrip(w, r, p)
	if !ok {
		return
	}
	if err := s.Engine.OnTripDeleted(r.Context(), t.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTripHandler handles GET /v1/trips/{id}
func (s *Server) GetTripHandler(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTrip(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

// ListTripsHandler handles GET /v1/trips?from=lat1,lng1,lat2,lng2&to=...
func (s *Server) ListTripsHandler(w http.ResponseWriter, r *http.Request) {
	from, err := boxParam(r, "from")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid box", err.Error(), r.URL.Path)
		return
	}
	to, err := boxParam(r, "to")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid box", err.Error(), r.URL.Path)
		return
	}
	trips, err := s.Store.FilterByBoundingBox(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]tripView, 0, len(trips))
	for _, t := range trips {
		items = append(items, viewOf(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// NearestHandler handles GET /v1/trips/{id}/nearest
func (s *Server) NearestHandler(w http.ResponseWriter, r *http.Request) {
	opts, err := nearestOptions(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
		return
	}
	t, ok := s.loadTrip(w, r)
	if !ok {
		return
	}
	items, err := s.Engine.Matcher.FindNearest(r.Context(), t, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items, "limit": opts.Limit, "offset": opts.Offset, "sort": opts.SortKey,
	})
}

// WithinHandler handles GET /v1/trips/{id}/within
func (s *Server) WithinHandler(w http.ResponseWriter, r *http.Request) {
	meters, err := withinMeters(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
		return
	}
	t, ok := s.loadTrip(w, r)
	if !ok {
		return
	}
	trips, err := s.Engine.Matcher.FindWithinCombinedRadius(r.Context(), t, meters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]tripView, 0, len(trips))
	for _, o := range trips {
		items = append(items, viewOf(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "meters": meters})
}

type similarItem struct {
	Trip          tripView `json:"trip"`
	StartDistance int64    `json:"startDistance"`
	EndDistance   int64    `json:"endDistance"`
}

// SimilarHandler handles GET /v1/trips/{id}/similar
func (s *Server) SimilarHandler(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTrip(w, r)
	if !ok {
		return
	}
	rows, err := s.Store.ListSimilarities(r.Context(), t.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]similarItem, 0, len(rows))
	for _, row := range rows {
		o, err := s.Store.GetTrip(r.Context(), row.OtherTripID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items = append(items, similarItem{Trip: viewOf(o), StartDistance: row.StartDistance, EndDistance: row.EndDistance})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// StatsHandler handles GET /v1/trips/{id}/stats
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTrip(w, r)
	if !ok {
		return
	}
	row, err := s.Store.GetStats(r.Context(), t.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Stats not computed", "no stats row for this trip yet", r.URL.Path)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func tripFromInput(in model.TripInput, rec model.Recurrence, userID int64) model.Trip {
	return model.Trip{
		UserID:      userID,
		On:          rec,
		Type:        in.Type,
		Origin:      in.Origin,
		Destination: in.Destination,
	}
}

// afterSave runs the matching hooks; a failure leaves the trip stored but marked stale.
func (s *Server) afterSave(r *http.Request, t model.Trip, kind model.TripEvent) savedTrip {
	out := savedTrip{Trip: viewOf(t)}
	res, err := s.Engine.OnTripSaved(r.Context(), t, kind)
	if err != nil {
		s.Log.Error("derived rows not refreshed", "trip", t.ID, "event", kind, "err", err)
		out.Stale = true
		return out
	}
	out.Stats = &res.Stats
	out.Similar = res.Similar
	return out
}

// rememberUser records the caller so trips have an owner row and notifications can
// name them. An empty email keeps whatever was stored before.
func (s *Server) rememberUser(ctx context.Context, p auth.Principal) error {
	return s.Store.UpsertUser(ctx, model.User{ID: p.UserID, Email: p.Email})
}

func (s *Server) loadTrip(w http.ResponseWriter, r *http.Request) (model.Trip, bool) {
	id, err := pathID(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid id", err.Error(), r.URL.Path)
		return model.Trip{}, false
	}
	t, err := s.Store.GetTrip(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return model.Trip{}, false
	}
	return t, true
}

func (s *Server) ownedTrip(w http.ResponseWriter, r *http.Request, p auth.Principal) (model.Trip, bool) {
	t, ok := s.loadTrip(w, r)
	if !ok {
		return t, false
	}
	if !p.CanModify(t.UserID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "only the owner or an admin may change this trip", r.URL.Path)
		return t, false
	}
	return t, true
}

