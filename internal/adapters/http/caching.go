package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Adds sensible defaults if not already set by the handler.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != "GET" {
			return err
		}

		// Don't override if already set
		if existing := c.Get("Cache-Control"); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10" // Very short for system checks

		case path == "/metrics":
			ttl = "no-cache" // Metrics are real-time

		case path == "/graphql":
			ttl = "private, max-age=0" // GraphQL varies wildly

		case strings.Contains(path, "/location"):
			ttl = "no-cache" // Live positions must not be stale

		case strings.HasPrefix(path, "/v1/zones"):
			ttl = "public, max-age=60" // Zones change rarely

		case strings.HasPrefix(path, "/v1/events"):
			ttl = "public, max-age=30"

		case strings.Contains(path, "/tracking/stats"):
			ttl = "public, max-age=60" // Aggregates are cached server-side too

		case strings.HasPrefix(path, "/v1/trips"):
			ttl = "public, max-age=30"

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=30" // Short default: most data here is live
		}

		if ttl != "" {
			c.Set("Cache-Control", ttl)
		}

		return err
	}
}
