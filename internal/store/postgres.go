package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rbus/internal/model"
)

// Postgres stores trips in PostgreSQL and pushes distance math into the
// cube/earthdistance extensions.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storageErr("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return storageErr("ping", p.pool.Ping(ctx)) }

const tripColumns = `id, user_id, recurrence, COALESCE(type, ''),
	from_name, from_lat::float8, from_lng::float8,
	to_name, to_lat::float8, to_lng::float8,
	created_at, updated_at, deleted_at`

func scanTrip(row pgx.Row, extra ...any) (model.Trip, error) {
	var t model.Trip
	var rec string
	dest := []any{
		&t.ID, &t.UserID, &rec, &t.Type,
		&t.Origin.Name, &t.Origin.Lat, &t.Origin.Lng,
		&t.Destination.Name, &t.Destination.Lat, &t.Destination.Lng,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return t, err
	}
	t.On = model.Recurrence(rec)
	return t, nil
}

func (p *Postgres) queryTrips(ctx context.Context, op, q string, args ...any) ([]model.Trip, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	out := []model.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, t)
	}
	return out, storageErr(op, rows.Err())
}

func (p *Postgres) AllActive(ctx context.Context) ([]model.Trip, error) {
	return p.queryTrips(ctx, "all active trips",
		`SELECT `+tripColumns+` FROM intended_trips WHERE deleted_at IS NULL ORDER BY id`)
}

func (p *Postgres) GetTrip(ctx context.Context, id int64) (model.Trip, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM intended_trips WHERE id=$1 AND deleted_at IS NULL`, id)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, storageErr("get trip", err)
	}
	return t, nil
}

func (p *Postgres) WithComputedDistances(ctx context.Context, origin, dest model.Point) ([]model.TripDistance, error) {
	const op = "trips with distance"
	rows, err := p.pool.Query(ctx, `SELECT `+tripColumns+`,
		earth_distance(ll_to_earth($1, $2), ll_to_earth(from_lat, from_lng)) AS fdist,
		earth_distance(ll_to_earth($3, $4), ll_to_earth(to_lat, to_lng)) AS tdist
		FROM intended_trips WHERE deleted_at IS NULL ORDER BY id`,
		origin.Lat, origin.Lng, dest.Lat, dest.Lng)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	out := []model.TripDistance{}
	for rows.Next() {
		var d model.TripDistance
		t, err := scanTrip(rows, &d.StartDist, &d.EndDist)
		if err != nil {
			return nil, storageErr(op, err)
		}
		d.Trip = t
		out = append(out, d)
	}
	return out, storageErr(op, rows.Err())
}

func (p *Postgres) FilterByBoundingBox(ctx context.Context, originBox, destBox *model.Box) ([]model.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM intended_trips WHERE deleted_at IS NULL`
	args := []any{}
	add := func(prefix string, b *model.Box) {
		n := len(args)
		q += fmt.Sprintf(` AND %[1]s_lat >= $%[2]d AND %[1]s_lng >= $%[3]d AND %[1]s_lat <= $%[4]d AND %[1]s_lng <= $%[5]d`,
			prefix, n+1, n+2, n+3, n+4)
		args = append(args, b.Lat1, b.Lng1, b.Lat2, b.Lng2)
	}
	if originBox != nil {
		add("from", originBox)
	}
	if destBox != nil {
		add("to", destBox)
	}
	return p.queryTrips(ctx, "filter trips", q+` ORDER BY id`, args...)
}

func (p *Postgres) WithinEarthBoxes(ctx context.Context, origin, dest model.Point, meters float64) ([]model.Trip, error) {
	return p.queryTrips(ctx, "trips within earth boxes", `SELECT `+tripColumns+` FROM intended_trips
		WHERE deleted_at IS NULL
		AND earth_box(ll_to_earth($1, $2), $5) @> ll_to_earth(from_lat, from_lng)
		AND earth_box(ll_to_earth($3, $4), $5) @> ll_to_earth(to_lat, to_lng)
		ORDER BY id`,
		origin.Lat, origin.Lng, dest.Lat, dest.Lng, meters)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (p *Postgres) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	row := p.pool.QueryRow(ctx, `INSERT INTO intended_trips
		(user_id, recurrence, type, from_name, from_lat, from_lng, to_name, to_lat, to_lng)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+tripColumns,
		t.UserID, string(t.On), nullIfEmpty(t.Type),
		t.Origin.Name, t.Origin.Lat, t.Origin.Lng,
		t.Destination.Name, t.Destination.Lat, t.Destination.Lng)
	out, err := scanTrip(row)
	if err != nil {
		return out, storageErr("create trip", err)
	}
	return out, nil
}

func (p *Postgres) UpdateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	row := p.pool.QueryRow(ctx, `UPDATE intended_trips SET
		recurrence=$2, type=$3, from_name=$4, from_lat=$5, from_lng=$6,
		to_name=$7, to_lat=$8, to_lng=$9, updated_at=now()
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING `+tripColumns,
		t.ID, string(t.On), nullIfEmpty(t.Type),
		t.Origin.Name, t.Origin.Lat, t.Origin.Lng,
		t.Destination.Name, t.Destination.Lat, t.Destination.Lng)
	out, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, ErrNotFound
		}
		return out, storageErr("update trip", err)
	}
	return out, nil
}

func (p *Postgres) SoftDeleteTrip(ctx context.Context, id int64) error {
	const op = "soft delete trip"
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tag, err := tx.Exec(ctx, `UPDATE intended_trips SET deleted_at=now(), updated_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return storageErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM similar_trips WHERE trip_id=$1 OR other_trip_id=$1`, id); err != nil {
		return storageErr(op, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM trip_stats WHERE trip_id=$1`, id); err != nil {
		return storageErr(op, err)
	}
	return storageErr(op, tx.Commit(ctx))
}

func (p *Postgres) UpsertUser(ctx context.Context, u model.User) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET email=COALESCE(NULLIF(EXCLUDED.email, ''), users.email)`, u.ID, u.Email)
	return storageErr("upsert user", err)
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (model.User, error) {
	var u model.User
	err := p.pool.QueryRow(ctx, `SELECT id, email FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, ErrNotFound
		}
		return u, storageErr("get user", err)
	}
	return u, nil
}

// ReplaceSimilarities deletes then bulk-copies inside one transaction so readers see
// either the old or the new row set.
func (p *Postgres) ReplaceSimilarities(ctx context.Context, tripID int64, rows []model.SimilarityRow) error {
	const op = "replace similar trips"
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM similar_trips WHERE trip_id=$1`, tripID); err != nil {
		return storageErr(op, err)
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"similar_trips"},
			[]string{"trip_id", "other_trip_id", "start_distance", "end_distance"},
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				r := rows[i]
				return []any{r.TripID, r.OtherTripID, r.StartDistance, r.EndDistance}, nil
			}))
		if err != nil {
			return storageErr(op, err)
		}
	}
	return storageErr(op, tx.Commit(ctx))
}

func (p *Postgres) ListSimilarities(ctx context.Context, tripID int64) ([]model.SimilarityRow, error) {
	const op = "list similar trips"
	rows, err := p.pool.Query(ctx, `SELECT s.trip_id, s.other_trip_id, s.start_distance, s.end_distance
		FROM similar_trips s JOIN intended_trips t ON t.id = s.other_trip_id AND t.deleted_at IS NULL
		WHERE s.trip_id=$1
		ORDER BY s.start_distance + s.end_distance, s.other_trip_id`, tripID)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	out := []model.SimilarityRow{}
	for rows.Next() {
		var r model.SimilarityRow
		if err := rows.Scan(&r.TripID, &r.OtherTripID, &r.StartDistance, &r.EndDistance); err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, r)
	}
	return out, storageErr(op, rows.Err())
}

func (p *Postgres) UpsertStats(ctx context.Context, row model.StatsRow) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO trip_stats (trip_id, trips_within_2_km) VALUES ($1,$2)
		ON CONFLICT (trip_id) DO UPDATE SET trips_within_2_km=EXCLUDED.trips_within_2_km, updated_at=now()`,
		row.TripID, row.TripsWithin2Km)
	return storageErr("upsert stats", err)
}

func (p *Postgres) CreateStatsIfAbsent(ctx context.Context, row model.StatsRow) (bool, error) {
	tag, err := p.pool.Exec(ctx, `INSERT INTO trip_stats (trip_id, trips_within_2_km) VALUES ($1,$2)
		ON CONFLICT (trip_id) DO NOTHING`, row.TripID, row.TripsWithin2Km)
	if err != nil {
		return false, storageErr("create stats", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetStats(ctx context.Context, tripID int64) (model.StatsRow, error) {
	row := model.StatsRow{TripID: tripID}
	err := p.pool.QueryRow(ctx, `SELECT trips_within_2_km FROM trip_stats WHERE trip_id=$1`, tripID).Scan(&row.TripsWithin2Km)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, ErrNotFound
		}
		return row, storageErr("get stats", err)
	}
	return row, nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.pool.Exec(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,'pending',0,now())`, id, eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", storageErr("enqueue webhook", err)
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	const op = "fetch due webhooks"
	rows, err := p.pool.Query(ctx, `SELECT id::text, event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, d)
	}
	return out, storageErr(op, rows.Err())
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2,
			next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return storageErr("mark webhook", err)
	}
	_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(),
		updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return storageErr("mark webhook", err)
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2,
		updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return storageErr("fail webhook", err)
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	const op = "list webhooks"
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url
		FROM webhook_deliveries
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR id::text > $2)
		ORDER BY id LIMIT $3`, status, cursor, limit)
	if err != nil {
		return nil, "", storageErr(op, err)
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt *time.Time
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil {
			return nil, "", storageErr(op, err)
		}
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt != nil {
			m["nextAttemptAt"] = *nextAt
		}
		if lastErr != "" {
			m["lastError"] = lastErr
		}
		out = append(out, m)
		last = id
	}
	if err := rows.Err(); err != nil {
		return nil, "", storageErr(op, err)
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
	if err != nil {
		return storageErr("retry webhook", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
