package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// PingRepo implements ports.PingRepository.
type PingRepo struct {
	db *DB
}

func NewPingRepo(db *DB) *PingRepo {
	return &PingRepo{db: db}
}

func (r *PingRepo) Insert(ctx context.Context, p *domain.LocationPing, stale bool) error {
	var officeLon, officeLat, customerLon, customerLat *float64
	if p.OfficeRef != nil {
		officeLon, officeLat = &p.OfficeRef.Lon, &p.OfficeRef.Lat
	}
	if p.CustomerRef != nil {
		customerLon, customerLat = &p.CustomerRef.Lon, &p.CustomerRef.Lat
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO location_pings (user_id, task_id, time, location, accuracy_m, speed_kmh, heading_deg, altitude_m,
		                            battery_level, network_status, office_ref, customer_ref, stale)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, $8, $9, $10, $11,
		        CASE WHEN $12::float8 IS NOT NULL THEN ST_SetSRID(ST_MakePoint($12, $13), 4326)::geography END,
		        CASE WHEN $14::float8 IS NOT NULL THEN ST_SetSRID(ST_MakePoint($14, $15), 4326)::geography END,
		        $16)
	`, p.UserID, nilIfEmpty(p.TaskID), p.Time, p.Location.Lon, p.Location.Lat,
		p.AccuracyM, p.SpeedKmh, p.HeadingDeg, p.AltitudeM,
		p.BatteryLevel, nilIfEmpty(p.NetworkStatus),
		officeLon, officeLat, customerLon, customerLat, stale)
	return err
}

const pingColumns = `
	user_id, COALESCE(task_id, ''), time,
	ST_Y(location::geometry) as lat, ST_X(location::geometry) as lon,
	accuracy_m, speed_kmh, heading_deg, altitude_m, battery_level, COALESCE(network_status, ''),
	ST_Y(office_ref::geometry), ST_X(office_ref::geometry),
	ST_Y(customer_ref::geometry), ST_X(customer_ref::geometry)`

func (r *PingRepo) LatestByUser(ctx context.Context, userID string) (*domain.LocationPing, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+pingColumns+`
		FROM location_pings
		WHERE user_id = $1 AND NOT stale
		ORDER BY time DESC
		LIMIT 1
	`, userID)

	p, err := scanPing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// HistoryByUser returns raw pings newest first, stale rows included.
func (r *PingRepo) HistoryByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.LocationPing, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+pingColumns+`
		FROM location_pings
		WHERE user_id = $1 AND time >= $2 AND time <= $3
		ORDER BY time DESC
		LIMIT $4
	`, userID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pings []domain.LocationPing
	for rows.Next() {
		p, err := scanPing(rows)
		if err != nil {
			return nil, err
		}
		pings = append(pings, *p)
	}
	return pings, rows.Err()
}

func scanPing(row pgx.Row) (*domain.LocationPing, error) {
	var p domain.LocationPing
	var officeLat, officeLon, customerLat, customerLon *float64

	if err := row.Scan(
		&p.UserID, &p.TaskID, &p.Time,
		&p.Location.Lat, &p.Location.Lon,
		&p.AccuracyM, &p.SpeedKmh, &p.HeadingDeg, &p.AltitudeM, &p.BatteryLevel, &p.NetworkStatus,
		&officeLat, &officeLon,
		&customerLat, &customerLon,
	); err != nil {
		return nil, err
	}

	if officeLat != nil && officeLon != nil {
		p.OfficeRef = &domain.GeoPoint{Lat: *officeLat, Lon: *officeLon}
	}
	if customerLat != nil && customerLon != nil {
		p.CustomerRef = &domain.GeoPoint{Lat: *customerLat, Lon: *customerLon}
	}
	return &p, nil
}
