package http

import (
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
)

// openapiPath is resolved relative to the working directory; the container
// image ships the spec next to the binary.
const openapiPath = "api/openapi.yaml"

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>TileVault API Docs</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>html{box-sizing:border-box}*,*::before,*::after{box-sizing:inherit}body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/docs/openapi.yaml',
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: 'BaseLayout',
    });
  </script>
</body>
</html>`

// SetupDocs serves Swagger UI at /docs and the OpenAPI spec at
// /docs/openapi.yaml. The spec is read once at startup.
func SetupDocs(app *fiber.App) {
	spec, err := os.ReadFile(openapiPath)
	if err != nil {
		slog.Warn("openapi spec not found, /docs will be degraded", "path", openapiPath, "error", err)
	}

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/html; charset=utf-8")
		return c.SendString(swaggerUIHTML)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		if spec == nil {
			return c.Status(404).JSON(fiber.Map{"error": "openapi spec not available"})
		}
		c.Set("Content-Type", "application/yaml")
		return c.Send(spec)
	})
}
