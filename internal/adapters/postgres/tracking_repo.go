package postgres

import (
	"context"
	"time"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// TrackingRepo implements ports.TrackingRepository.
type TrackingRepo struct {
	db *DB
}

func NewTrackingRepo(db *DB) *TrackingRepo {
	return &TrackingRepo{db: db}
}

func (r *TrackingRepo) Append(ctx context.Context, e *domain.TrackingEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO tracking_entries (id, user_id, task_id, time, location, movement,
		                              distance_office_km, distance_customer_km,
		                              speed_kmh, accuracy_m, battery_level, network_status)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.UserID, nilIfEmpty(e.TaskID), e.Time, e.Location.Lon, e.Location.Lat,
		e.Movement, e.DistanceOfficeKm, e.DistanceCustomerKm,
		e.SpeedKmh, e.AccuracyM, e.BatteryLevel, nilIfEmpty(e.NetworkStatus))
	return err
}

func (r *TrackingRepo) ByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.TrackingEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, COALESCE(task_id, ''), time,
		       ST_Y(location::geometry) as lat, ST_X(location::geometry) as lon,
		       movement, distance_office_km, distance_customer_km,
		       speed_kmh, accuracy_m, battery_level, COALESCE(network_status, '')
		FROM tracking_entries
		WHERE user_id = $1 AND time >= $2 AND time <= $3
		ORDER BY time DESC
		LIMIT $4
	`, userID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TrackingEntry
	for rows.Next() {
		var e domain.TrackingEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.TaskID, &e.Time,
			&e.Location.Lat, &e.Location.Lon,
			&e.Movement, &e.DistanceOfficeKm, &e.DistanceCustomerKm,
			&e.SpeedKmh, &e.AccuracyM, &e.BatteryLevel, &e.NetworkStatus,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StatsByUser aggregates a user's history with window functions. Gaps between
// consecutive entries are capped at 10 minutes so reporting silence does not
// inflate the time buckets.
func (r *TrackingRepo) StatsByUser(ctx context.Context, userID string, from, to time.Time) (*domain.TrackingStats, error) {
	stats := &domain.TrackingStats{UserID: userID, From: from, To: to}

	err := r.db.Pool.QueryRow(ctx, `
		WITH seq AS (
			SELECT time, movement, speed_kmh, location,
			       LAG(time) OVER (ORDER BY time) AS prev_time,
			       LAG(location) OVER (ORDER BY time) AS prev_loc
			FROM tracking_entries
			WHERE user_id = $1 AND time >= $2 AND time <= $3
		)
		SELECT
			count(*),
			COALESCE(SUM(ST_Distance(location, prev_loc)) / 1000, 0),
			COALESCE(AVG(speed_kmh) FILTER (WHERE speed_kmh > 0), 0),
			COALESCE(SUM(LEAST(EXTRACT(EPOCH FROM time - prev_time), 600))
			         FILTER (WHERE movement = 'at_location'), 0)::bigint,
			COALESCE(SUM(LEAST(EXTRACT(EPOCH FROM time - prev_time), 600))
			         FILTER (WHERE movement = 'traveling'), 0)::bigint
		FROM seq
	`, userID, from, to).Scan(
		&stats.EntryCount, &stats.TotalDistanceKm, &stats.AvgSpeedKmh,
		&stats.TimeAtCustomer, &stats.TimeInTransit,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
