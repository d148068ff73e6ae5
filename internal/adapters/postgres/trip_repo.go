package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

// TripRepo implements ports.TripRepository. The route polyline is stored as
// jsonb since it is only ever read back whole.
type TripRepo struct {
	db *DB
}

func NewTripRepo(db *DB) *TripRepo {
	return &TripRepo{db: db}
}

// Upsert writes the trip's full state. The engine owns trip state in memory,
// so the row is always replaced rather than merged.
func (r *TripRepo) Upsert(ctx context.Context, t *domain.Trip) error {
	route, err := json.Marshal(t.Route)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}

	var endLon, endLat *float64
	if t.EndLocation != nil {
		endLon, endLat = &t.EndLocation.Lon, &t.EndLocation.Lat
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO trips (id, user_id, task_id, status, start_time, start_location, start_trigger,
		                   end_time, end_location, end_trigger, distance_km, duration_min,
		                   avg_speed_kmh, max_speed_kmh, inferred_end, audited, route, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326)::geography, $8,
		        $9,
		        CASE WHEN $10::float8 IS NOT NULL THEN ST_SetSRID(ST_MakePoint($10, $11), 4326)::geography END,
		        $12, $13, $14, $15, $16, $17, $18, $19, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			end_location = EXCLUDED.end_location,
			end_trigger = EXCLUDED.end_trigger,
			distance_km = EXCLUDED.distance_km,
			duration_min = EXCLUDED.duration_min,
			avg_speed_kmh = EXCLUDED.avg_speed_kmh,
			max_speed_kmh = EXCLUDED.max_speed_kmh,
			inferred_end = EXCLUDED.inferred_end,
			route = EXCLUDED.route,
			updated_at = now()
	`, t.ID, t.UserID, nilIfEmpty(t.TaskID), t.Status, t.StartTime,
		t.StartLocation.Lon, t.StartLocation.Lat, t.StartTrigger,
		t.EndTime, endLon, endLat, nilIfEmpty(string(t.EndTrigger)),
		t.DistanceKm, t.DurationMin, t.AvgSpeedKmh, t.MaxSpeedKmh,
		t.InferredEnd, t.Audited, route)
	return err
}

const tripColumns = `
	id, user_id, COALESCE(task_id, ''), status, start_time,
	ST_Y(start_location::geometry) as start_lat, ST_X(start_location::geometry) as start_lon,
	start_trigger, end_time,
	ST_Y(end_location::geometry), ST_X(end_location::geometry),
	COALESCE(end_trigger, ''), distance_km, duration_min, avg_speed_kmh, max_speed_kmh,
	inferred_end, audited, route, created_at, updated_at`

func (r *TripRepo) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TripRepo) OpenByUser(ctx context.Context, userID string) (*domain.Trip, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE user_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
	`, userID)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns matching trips newest first plus the total match count.
func (r *TripRepo) List(ctx context.Context, filter ports.TripFilter) ([]domain.Trip, int, error) {
	where := []string{"true"}
	var args []interface{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("start_time <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM trips WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM trips WHERE %s
		ORDER BY start_time DESC
		LIMIT $%d OFFSET $%d
	`, tripColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, err
		}
		trips = append(trips, *t)
	}
	return trips, total, rows.Err()
}

// ListUnaudited returns completed trips that ended before the cutoff and have
// not been through the audit workflow yet.
func (r *TripRepo) ListUnaudited(ctx context.Context, before time.Time, limit int) ([]domain.Trip, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = 'completed' AND NOT audited AND end_time <= $1
		ORDER BY end_time
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

func (r *TripRepo) MarkAudited(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE trips SET audited = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTripNotFound
	}
	return nil
}

func scanTrip(row pgx.Row) (*domain.Trip, error) {
	var t domain.Trip
	var endLat, endLon *float64
	var endTrigger string
	var route []byte

	if err := row.Scan(
		&t.ID, &t.UserID, &t.TaskID, &t.Status, &t.StartTime,
		&t.StartLocation.Lat, &t.StartLocation.Lon,
		&t.StartTrigger, &t.EndTime,
		&endLat, &endLon,
		&endTrigger, &t.DistanceKm, &t.DurationMin, &t.AvgSpeedKmh, &t.MaxSpeedKmh,
		&t.InferredEnd, &t.Audited, &route, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.EndTrigger = domain.TripTrigger(endTrigger)
	if endLat != nil && endLon != nil {
		t.EndLocation = &domain.GeoPoint{Lat: *endLat, Lon: *endLon}
	}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &t.Route); err != nil {
			return nil, fmt.Errorf("unmarshal route for trip %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
