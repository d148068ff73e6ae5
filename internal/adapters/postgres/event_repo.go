package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// EventRepo implements ports.EventRepository.
type EventRepo struct {
	db *DB
}

func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Insert(ctx context.Context, ev *domain.GeofenceEvent) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO geofence_events (id, user_id, zone_id, zone_name, zone_category, task_id, type, time, location, dwell_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ST_SetSRID(ST_MakePoint($9, $10), 4326)::geography, $11)
	`, ev.ID, ev.UserID, ev.ZoneID, ev.ZoneName, ev.ZoneCategory, nilIfEmpty(ev.TaskID),
		ev.Type, ev.Time, ev.Location.Lon, ev.Location.Lat, ev.DwellSeconds)
	return err
}

const eventColumns = `
	id, user_id, zone_id, zone_name, zone_category, COALESCE(task_id, ''), type, time,
	ST_Y(location::geometry) as lat, ST_X(location::geometry) as lon, dwell_seconds`

func (r *EventRepo) Recent(ctx context.Context, limit int) ([]domain.GeofenceEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+` FROM geofence_events
		ORDER BY time DESC LIMIT $1
	`, limit)
}

func (r *EventRepo) ByUser(ctx context.Context, userID string, limit int) ([]domain.GeofenceEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+` FROM geofence_events
		WHERE user_id = $1
		ORDER BY time DESC LIMIT $2
	`, userID, limit)
}

func (r *EventRepo) ByZone(ctx context.Context, zoneID string, limit int) ([]domain.GeofenceEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+` FROM geofence_events
		WHERE zone_id = $1
		ORDER BY time DESC LIMIT $2
	`, zoneID, limit)
}

func (r *EventRepo) query(ctx context.Context, sql string, args ...interface{}) ([]domain.GeofenceEvent, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.GeofenceEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.GeofenceEvent, error) {
	var ev domain.GeofenceEvent
	if err := row.Scan(
		&ev.ID, &ev.UserID, &ev.ZoneID, &ev.ZoneName, &ev.ZoneCategory, &ev.TaskID, &ev.Type, &ev.Time,
		&ev.Location.Lat, &ev.Location.Lon, &ev.DwellSeconds,
	); err != nil {
		return nil, err
	}
	return &ev, nil
}
