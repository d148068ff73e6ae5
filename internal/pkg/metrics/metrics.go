package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geotrack",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geotrack",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Ingestion metrics
	PingsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "ingest",
		Name:      "pings_accepted_total",
		Help:      "Total location pings accepted into the engine",
	})

	PingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "ingest",
		Name:      "pings_rejected_total",
		Help:      "Total location pings rejected at validation",
	}, []string{"reason"})

	PingsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "ingest",
		Name:      "pings_duplicate_total",
		Help:      "Total duplicate pings dropped",
	})

	PingsStale = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "ingest",
		Name:      "pings_stale_total",
		Help:      "Total pings older than the reorder window, kept raw only",
	})

	PingsLowConfidence = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "ingest",
		Name:      "pings_low_confidence_total",
		Help:      "Total pings with accuracy above the confidence threshold",
	})

	LaneDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "geotrack",
		Subsystem: "engine",
		Name:      "lane_depth",
		Help:      "Pending messages per processing lane",
	}, []string{"lane"})

	LaneErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "engine",
		Name:      "lane_errors_total",
		Help:      "Total errors while applying a ping inside a lane",
	})

	// Geofence metrics
	ZoneEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "geofence",
		Name:      "zone_events_total",
		Help:      "Total zone membership events emitted",
	}, []string{"type"})

	CatalogZones = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geotrack",
		Subsystem: "geofence",
		Name:      "catalog_zones",
		Help:      "Active zones in the current catalog snapshot",
	})

	CatalogRefreshErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "geofence",
		Name:      "catalog_refresh_errors_total",
		Help:      "Total failed zone catalog refreshes",
	})

	// Trip metrics
	TripsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "trips",
		Name:      "opened_total",
		Help:      "Total trips opened",
	}, []string{"trigger"})

	TripsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "trips",
		Name:      "closed_total",
		Help:      "Total trips closed",
	}, []string{"trigger"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geotrack",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrack",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geotrack",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geotrack",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geotrack",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from pgx pool stats.
// Takes an interface so the metrics package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
