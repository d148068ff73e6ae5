package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/fieldops/geotrack/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 600 requests per minute per IP. Devices ping every few
	// seconds, so this is far looser than a read-only API would use.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Legacy mobile-app paths, kept alive until clients are migrated.
	sunset := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	app.Use(DeprecationMiddleware([]DeprecatedRoute{
		{Path: "/api/location/ping", SunsetDate: sunset, Alternative: "/v1/pings"},
		{Path: "/api/geofence/zones", SunsetDate: sunset, Alternative: "/v1/zones"},
	}))

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// Ingestion. No per-request timeout here: Submit blocks only on a full
	// lane, and cutting it off early would drop the ping.
	app.Post("/v1/pings", IngestPingHandler(deps))
	app.Post("/v1/pings/batch", IngestPingBatchHandler(deps))

	// Legacy aliases
	app.Post("/api/location/ping", IngestPingHandler(deps))
	app.Get("/api/geofence/zones", ListZonesHandler(deps))

	// REST API v1, 15s per-request timeout on reads
	v1 := app.Group("/v1")
	v1.Post("/zones", CreateZoneHandler(deps))
	v1.Get("/zones", timeout.NewWithContext(ListZonesHandler(deps), 15*time.Second))
	v1.Get("/zones/:id", timeout.NewWithContext(GetZoneHandler(deps), 15*time.Second))
	v1.Delete("/zones/:id", DeactivateZoneHandler(deps))
	v1.Get("/zones/:id/events", timeout.NewWithContext(ZoneEventsHandler(deps), 15*time.Second))
	v1.Get("/events", timeout.NewWithContext(RecentEventsHandler(deps), 15*time.Second))

	v1.Post("/trips/start", StartTripHandler(deps))
	v1.Post("/trips/end", EndTripHandler(deps))
	v1.Post("/trips/cancel", CancelTripHandler(deps))
	v1.Get("/trips", timeout.NewWithContext(ListTripsHandler(deps), 15*time.Second))
	v1.Get("/trips/:id", timeout.NewWithContext(GetTripHandler(deps), 15*time.Second))

	v1.Get("/users/:id/location", timeout.NewWithContext(UserLocationHandler(deps), 15*time.Second))
	v1.Get("/users/:id/location/history", timeout.NewWithContext(UserLocationHistoryHandler(deps), 15*time.Second))
	v1.Get("/users/:id/events", timeout.NewWithContext(UserEventsHandler(deps), 15*time.Second))
	v1.Get("/users/:id/trip", timeout.NewWithContext(UserOpenTripHandler(deps), 15*time.Second))
	v1.Get("/users/:id/tracking", timeout.NewWithContext(UserTrackingHandler(deps), 15*time.Second))
	v1.Get("/users/:id/tracking/stats", timeout.NewWithContext(UserTrackingStatsHandler(deps), 15*time.Second))

	v1.Get("/stats", timeout.NewWithContext(SystemStatsHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
