package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/rtree"

	"rbus/internal/geo"
	"rbus/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// Active trips are indexed by origin and destination in two R-trees.
type Memory struct {
	mu      sync.RWMutex
	trips   map[int64]model.Trip
	nextID  int64
	origins rtree.RTree
	dests   rtree.RTree
	users   map[int64]model.User
	sims    map[int64][]model.SimilarityRow // trip_id -> rows
	stats   map[int64]model.StatsRow

	deliveries    map[string]*memDelivery
	deliveryOrder []string

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		trips:      map[int64]model.Trip{},
		users:      map[int64]model.User{},
		sims:       map[int64][]model.SimilarityRow{},
		stats:      map[int64]model.StatsRow{},
		deliveries: map[string]*memDelivery{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func pointKey(p model.Point) [2]float64 { return [2]float64{p.Lat, p.Lng} }

func (m *Memory) index(t model.Trip) {
	m.origins.Insert(pointKey(t.Origin), pointKey(t.Origin), t.ID)
	m.dests.Insert(pointKey(t.Destination), pointKey(t.Destination), t.ID)
}

func (m *Memory) unindex(t model.Trip) {
	m.origins.Delete(pointKey(t.Origin), pointKey(t.Origin), t.ID)
	m.dests.Delete(pointKey(t.Destination), pointKey(t.Destination), t.ID)
}

// searchIDs collects trip ids whose indexed point falls in box.
func searchIDs(tr *rtree.RTree, box model.Box) map[int64]struct{} {
	ids := map[int64]struct{}{}
	tr.Search([2]float64{box.Lat1, box.Lng1}, [2]float64{box.Lat2, box.Lng2},
		func(_, _ [2]float64, data interface{}) bool {
			ids[data.(int64)] = struct{}{}
			return true
		})
	return ids
}

// activeSorted returns the active trips for ids (or all when ids is nil) in id order.
func (m *Memory) activeSorted(ids map[int64]struct{}) []model.Trip {
	out := []model.Trip{}
	if ids == nil {
		for _, t := range m.trips {
			if t.Active() {
				out = append(out, t)
			}
		}
	} else {
		for id := range ids {
			if t, ok := m.trips[id]; ok && t.Active() {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) AllActive(ctx context.Context) ([]model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSorted(nil), nil
}

func (m *Memory) GetTrip(ctx context.Context, id int64) (model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok || !t.Active() {
		return model.Trip{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) WithComputedDistances(ctx context.Context, origin, dest model.Point) ([]model.TripDistance, error) {
	m.mu.RLock()
	trips := m.activeSorted(nil)
	m.mu.RUnlock()
	out := make([]model.TripDistance, 0, len(trips))
	for _, t := range trips {
		out = append(out, model.TripDistance{
			Trip:      t,
			StartDist: geo.Distance(origin, t.Origin),
			EndDist:   geo.Distance(dest, t.Destination),
		})
	}
	return out, nil
}

func (m *Memory) FilterByBoundingBox(ctx context.Context, originBox, destBox *model.Box) ([]model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids map[int64]struct{}
	switch {
	case originBox != nil:
		ids = searchIDs(&m.origins, *originBox)
	case destBox != nil:
		ids = searchIDs(&m.dests, *destBox)
	}
	out := []model.Trip{}
	for _, t := range m.activeSorted(ids) {
		if originBox != nil && !originBox.Contains(t.Origin) {
			continue
		}
		if destBox != nil && !destBox.Contains(t.Destination) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) WithinEarthBoxes(ctx context.Context, origin, dest model.Point, meters float64) ([]model.Trip, error) {
	ob := geo.NewEarthBox(origin, meters)
	db := geo.NewEarthBox(dest, meters)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Trip{}
	for _, t := range m.activeSorted(searchIDs(&m.origins, ob.Bounds())) {
		if ob.Contains(t.Origin) && db.Contains(t.Destination) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	t.ID = m.nextID
	t.CreatedAt, t.UpdatedAt, t.DeletedAt = now, now, nil
	m.trips[t.ID] = t
	m.index(t)
	return t, nil
}

func (m *Memory) UpdateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trips[t.ID]
	if !ok || !cur.Active() {
		return model.Trip{}, ErrNotFound
	}
	m.unindex(cur)
	t.UserID = cur.UserID
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = m.now()
	t.DeletedAt = nil
	m.trips[t.ID] = t
	m.index(t)
	return t, nil
}

func (m *Memory) SoftDeleteTrip(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || !t.Active() {
		return ErrNotFound
	}
	m.unindex(t)
	now := m.now()
	t.DeletedAt = &now
	t.UpdatedAt = now
	m.trips[id] = t
	delete(m.sims, id)
	for tid, rows := range m.sims {
		kept := rows[:0:0]
		for _, r := range rows {
			if r.OtherTripID != id {
				kept = append(kept, r)
			}
		}
		m.sims[tid] = kept
	}
	delete(m.stats, id)
	return nil
}

func (m *Memory) UpsertUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[u.ID]; ok && u.Email == "" {
		u.Email = old.Email
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) ReplaceSimilarities(ctx context.Context, tripID int64, rows []model.SimilarityRow) error {
	cp := append([]model.SimilarityRow(nil), rows...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(cp) == 0 {
		delete(m.sims, tripID)
		return nil
	}
	m.sims[tripID] = cp
	return nil
}

func (m *Memory) ListSimilarities(ctx context.Context, tripID int64) ([]model.SimilarityRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.SimilarityRow{}
	for _, r := range m.sims[tripID] {
		if t, ok := m.trips[r.OtherTripID]; ok && t.Active() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].StartDistance+out[i].EndDistance, out[j].StartDistance+out[j].EndDistance
		if a != b {
			return a < b
		}
		return out[i].OtherTripID < out[j].OtherTripID
	})
	return out, nil
}

func (m *Memory) UpsertStats(ctx context.Context, row model.StatsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[row.TripID] = row
	return nil
}

func (m *Memory) CreateStatsIfAbsent(ctx context.Context, row model.StatsRow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stats[row.TripID]; ok {
		return false, nil
	}
	m.stats[row.TripID] = row
	return true, nil
}

func (m *Memory) GetStats(ctx context.Context, tripID int64) (model.StatsRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.stats[tripID]
	if !ok {
		return model.StatsRow{}, ErrNotFound
	}
	return row, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Webhook outbox

func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
		NextAttemptAt:   m.now(),
	}
	m.deliveryOrder = append(m.deliveryOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if cursor != "" {
		for i, id := range m.deliveryOrder {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []map[string]any{}
	var last string
	for _, id := range m.deliveryOrder[start:] {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		out = append(out, item)
		last = id
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = m.now()
	return nil
}
