package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

// IngestPingHandler accepts a single location ping. The ping is validated
// synchronously and processed asynchronously, so success is a 202.
func IngestPingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ping domain.LocationPing
		if err := c.BodyParser(&ping); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		if err := deps.Pipeline.Submit(c.Context(), &ping); err != nil {
			return domainError(c, err)
		}

		return c.Status(202).JSON(fiber.Map{"status": "accepted"})
	}
}

// IngestPingBatchHandler accepts a batch of pings, e.g. a device flushing its
// offline buffer. Each ping is validated independently; the response reports
// how many were accepted and which indexes failed.
func IngestPingBatchHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var pings []domain.LocationPing
		if err := c.BodyParser(&pings); err != nil {
			return errBadRequest(c, "invalid request body, expected an array of pings")
		}
		if len(pings) == 0 {
			return errBadRequest(c, "at least one ping is required")
		}
		if len(pings) > 500 {
			return errBadRequest(c, "maximum 500 pings per batch")
		}

		type rejection struct {
			Index int    `json:"index"`
			Error string `json:"error"`
		}
		var rejected []rejection
		accepted := 0

		for i := range pings {
			if err := deps.Pipeline.Submit(c.Context(), &pings[i]); err != nil {
				rejected = append(rejected, rejection{Index: i, Error: err.Error()})
				continue
			}
			accepted++
		}

		if len(rejected) > 0 {
			LoggerFromCtx(c.UserContext()).Warn("batch pings rejected",
				"rejected", len(rejected), "accepted", accepted)
		}

		return c.Status(202).JSON(fiber.Map{
			"accepted": accepted,
			"rejected": rejected,
		})
	}
}

// CreateZoneHandler registers a new geofence zone.
func CreateZoneHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var zone domain.GeofenceZone
		if err := c.BodyParser(&zone); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if zone.Name == "" {
			return errBadRequest(c, "name is required")
		}

		if err := deps.Zones.Create(c.Context(), &zone); err != nil {
			return domainError(c, err)
		}
		return c.Status(201).JSON(zone)
	}
}

// ListZonesHandler lists zones. ?include_inactive=true includes retired ones.
func ListZonesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		includeInactive := c.QueryBool("include_inactive", false)
		zones, err := deps.Zones.List(c.Context(), includeInactive)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"zones": zones, "count": len(zones)})
	}
}

// GetZoneHandler returns a single zone by ID.
func GetZoneHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		zone, err := deps.Zones.Get(c.Context(), c.Params("id"))
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(zone)
	}
}

// DeactivateZoneHandler retires a zone from evaluation.
func DeactivateZoneHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Zones.Deactivate(c.Context(), c.Params("id")); err != nil {
			return domainError(c, err)
		}
		return c.SendStatus(204)
	}
}

// ZoneEventsHandler returns the newest events for one zone.
func ZoneEventsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		events, err := deps.Zones.EventsByZone(c.Context(), c.Params("id"), limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"events": events, "count": len(events)})
	}
}

// RecentEventsHandler returns the newest membership events across all zones.
func RecentEventsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		events, err := deps.Zones.RecentEvents(c.Context(), limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"events": events, "count": len(events)})
	}
}

type tripControlRequest struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id,omitempty"`
}

// StartTripHandler explicitly opens a trip. A start signal while a trip is
// already open is ignored rather than treated as an error, since retrying
// mobile clients routinely double-send it.
func StartTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tripControlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.UserID == "" {
			return errBadRequest(c, "user_id is required")
		}

		trip, err := deps.Pipeline.StartTrip(c.Context(), req.UserID, req.TaskID)
		if errors.Is(err, domain.ErrAmbiguousTripSignal) {
			return c.JSON(fiber.Map{"status": "ignored", "reason": "trip already open"})
		}
		if err != nil {
			return domainError(c, err)
		}
		return c.Status(201).JSON(trip)
	}
}

// EndTripHandler explicitly closes the user's open trip.
func EndTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tripControlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.UserID == "" {
			return errBadRequest(c, "user_id is required")
		}

		trip, err := deps.Pipeline.EndTrip(c.Context(), req.UserID)
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(trip)
	}
}

// CancelTripHandler discards the user's open trip, keeping its stats.
func CancelTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tripControlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.UserID == "" {
			return errBadRequest(c, "user_id is required")
		}

		trip, err := deps.Pipeline.CancelTrip(c.Context(), req.UserID)
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(trip)
	}
}

// ListTripsHandler lists trips with optional filters and pagination.
func ListTripsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset := c.QueryInt("offset", 0)
		if offset < 0 {
			offset = 0
		}
		limit := c.QueryInt("limit", 50)

		filter := ports.TripFilter{
			UserID: c.Query("user_id"),
			Status: domain.TripStatus(c.Query("status")),
			From:   parseTimeQuery(c, "from"),
			To:     parseTimeQuery(c, "to"),
			Offset: offset,
			Limit:  limit,
		}

		trips, total, err := deps.Trips.List(c.Context(), filter)
		if err != nil {
			return errInternal(c, err.Error())
		}

		pg := Pagination{Offset: offset, Limit: filter.Limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: trips, Pagination: pg})
	}
}

// GetTripHandler returns a single trip by ID.
func GetTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trip, err := deps.Trips.Get(c.Context(), c.Params("id"))
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(trip)
	}
}

// UserLocationHandler returns a user's most recent position.
func UserLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ping, err := deps.Locations.Latest(c.Context(), c.Params("id"))
		if err != nil {
			return errInternal(c, err.Error())
		}
		if ping == nil {
			return errNotFound(c, "no location reported for user")
		}
		return c.JSON(ping)
	}
}

// UserLocationHistoryHandler returns a user's raw ping history.
func UserLocationHistoryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		from := parseTimeQuery(c, "from")
		to := parseTimeQuery(c, "to")
		limit := c.QueryInt("limit", 0)

		pings, err := deps.Locations.History(c.Context(), c.Params("id"), from, to, limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"pings": pings, "count": len(pings)})
	}
}

// UserEventsHandler returns a user's newest membership events.
func UserEventsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		events, err := deps.Locations.EventsByUser(c.Context(), c.Params("id"), limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"events": events, "count": len(events)})
	}
}

// UserOpenTripHandler returns a user's currently open trip, if any.
func UserOpenTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trip, err := deps.Trips.Open(c.Context(), c.Params("id"))
		if err != nil {
			return errInternal(c, err.Error())
		}
		if trip == nil {
			return errNotFound(c, "no open trip for user")
		}
		return c.JSON(trip)
	}
}

// UserTrackingHandler returns a user's tracking history in a period.
func UserTrackingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, to := trackingWindow(c)
		limit := c.QueryInt("limit", 0)

		entries, err := deps.Tracking.History(c.Context(), c.Params("id"), from, to, limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
	}
}

// UserTrackingStatsHandler returns aggregated tracking stats for a period.
func UserTrackingStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, to := trackingWindow(c)

		stats, err := deps.Tracking.Stats(c.Context(), c.Params("id"), from, to)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(stats)
	}
}

// SystemStats holds row counts from the tracking tables.
type SystemStats struct {
	Zones      int `json:"zones"`
	Pings      int `json:"pings"`
	StalePings int `json:"stale_pings"`
	Events     int `json:"events"`
	Trips      int `json:"trips"`
	OpenTrips  int `json:"open_trips"`
}

// SystemStatsHandler returns row counts across the engine's tables.
func SystemStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.DB == nil {
			return errInternal(c, "database not available")
		}

		var stats SystemStats
		row := deps.DB.Pool.QueryRow(c.Context(), `
			SELECT
				(SELECT count(*) FROM geofence_zones WHERE active),
				(SELECT count(*) FROM location_pings),
				(SELECT count(*) FROM location_pings WHERE stale),
				(SELECT count(*) FROM geofence_events),
				(SELECT count(*) FROM trips),
				(SELECT count(*) FROM trips WHERE status = 'active')
		`)
		if err := row.Scan(&stats.Zones, &stats.Pings, &stats.StalePings,
			&stats.Events, &stats.Trips, &stats.OpenTrips); err != nil {
			return errInternal(c, err.Error())
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(stats)
	}
}

// parseTimeQuery reads a query parameter as RFC 3339 or unix seconds.
// Missing or unparseable values come back zero.
func parseTimeQuery(c *fiber.Ctx, name string) time.Time {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

// trackingWindow resolves the from/to query window, defaulting to the last
// 24 hours.
func trackingWindow(c *fiber.Ctx) (time.Time, time.Time) {
	from := parseTimeQuery(c, "from")
	to := parseTimeQuery(c, "to")
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return from, to
}
