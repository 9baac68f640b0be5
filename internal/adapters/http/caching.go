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

		// Don't override if the handler already set one
		if existing := c.GetRespHeader("Cache-Control"); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10" // Very short for system checks

		case strings.HasPrefix(path, "/v1/tiles/"):
			ttl = "public, max-age=86400" // Tile imagery barely changes

		case strings.HasPrefix(path, "/v1/providers"):
			ttl = "public, max-age=3600" // Provider catalog is static config

		case path == "/v1/regions":
			ttl = "public, max-age=3600" // Region catalog is static config

		case path == "/metrics":
			ttl = "no-cache" // Metrics are real-time

		case path == "/graphql":
			ttl = "private, max-age=0" // GraphQL varies wildly

		case strings.HasPrefix(path, "/v1/regions/") && strings.HasSuffix(path, "/estimate"):
			ttl = "public, max-age=3600" // Estimates derive from static config

		case strings.HasPrefix(path, "/v1/sync"):
			ttl = "no-store" // Queue state changes between polls

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=30" // Download status moves fast
		}

		if ttl != "" {
			c.Set("Cache-Control", ttl)
		}

		return err
	}
}
