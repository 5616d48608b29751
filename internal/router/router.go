package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-portal/internal/config"
	"github.com/noah-isme/gema-portal/internal/handler"
	"github.com/noah-isme/gema-portal/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	StoreHandler  *handler.StoreHandler
	StreamHandler *handler.StreamHandler
	SaveGuards    []fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	v1 := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	v1.Get("/health", handler.HealthCheck(cfg))

	// Store endpoints keep the unversioned paths consoles already use.
	api := app.Group("/api")
	if deps.StreamHandler != nil {
		deps.StreamHandler.Register(api)
	}
	if deps.StoreHandler != nil {
		deps.StoreHandler.Register(api, deps.SaveGuards...)
	}
}
