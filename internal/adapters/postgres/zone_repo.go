package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldops/geotrack/internal/core/domain"
)

// ZoneRepo implements ports.ZoneRepository with pgx.
//
// A circle is stored as a geography center plus radius_m; polygon vertices go
// into a jsonb column so the exact shape round-trips without PostGIS
// re-noding the ring.
type ZoneRepo struct {
	db *DB
}

// NewZoneRepo creates a new ZoneRepo.
func NewZoneRepo(db *DB) *ZoneRepo {
	return &ZoneRepo{db: db}
}

func (r *ZoneRepo) Insert(ctx context.Context, zone *domain.GeofenceZone) error {
	var verts interface{}
	if len(zone.Geometry.Vertices) > 0 {
		data, err := json.Marshal(zone.Geometry.Vertices)
		if err != nil {
			return fmt.Errorf("marshal vertices: %w", err)
		}
		verts = data
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO geofence_zones (id, name, category, geometry_kind, center, radius_m, vertices, customer_id, active, created_at)
		VALUES ($1, $2, $3, $4,
		        CASE WHEN $4 = 'circle' THEN ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography END,
		        $7, $8, $9, $10, $11)
	`, zone.ID, zone.Name, zone.Category, zone.Geometry.Kind,
		zone.Geometry.Center.Lon, zone.Geometry.Center.Lat,
		zone.Geometry.RadiusM, verts, nilIfEmpty(zone.CustomerID), zone.Active, zone.CreatedAt)
	return err
}

const zoneColumns = `
	id, name, category, geometry_kind,
	ST_Y(center::geometry) as lat, ST_X(center::geometry) as lon,
	radius_m, vertices, COALESCE(customer_id, ''), active, created_at`

func (r *ZoneRepo) GetByID(ctx context.Context, id string) (*domain.GeofenceZone, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+zoneColumns+` FROM geofence_zones WHERE id = $1`, id)
	zone, err := scanZone(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrZoneNotFound
	}
	if err != nil {
		return nil, err
	}
	return zone, nil
}

func (r *ZoneRepo) List(ctx context.Context, includeInactive bool) ([]domain.GeofenceZone, error) {
	query := `SELECT ` + zoneColumns + ` FROM geofence_zones`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []domain.GeofenceZone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *zone)
	}
	return zones, rows.Err()
}

func (r *ZoneRepo) ListActive(ctx context.Context) ([]domain.GeofenceZone, error) {
	return r.List(ctx, false)
}

func (r *ZoneRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE geofence_zones SET active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrZoneNotFound
	}
	return nil
}

func scanZone(row pgx.Row) (*domain.GeofenceZone, error) {
	var zone domain.GeofenceZone
	var lat, lon, radius sql.NullFloat64
	var verts []byte

	if err := row.Scan(
		&zone.ID, &zone.Name, &zone.Category, &zone.Geometry.Kind,
		&lat, &lon, &radius, &verts,
		&zone.CustomerID, &zone.Active, &zone.CreatedAt,
	); err != nil {
		return nil, err
	}

	zone.Geometry.Center = domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	zone.Geometry.RadiusM = radius.Float64
	if len(verts) > 0 {
		if err := json.Unmarshal(verts, &zone.Geometry.Vertices); err != nil {
			return nil, fmt.Errorf("unmarshal vertices for zone %s: %w", zone.ID, err)
		}
	}
	return &zone, nil
}
