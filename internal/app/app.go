package app

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"awmp-pdf/internal/cache"
	"awmp-pdf/internal/chrome"
	"awmp-pdf/internal/handlers"
	u "awmp-pdf/internal/utils"
)

// Deps are the collaborators the HTTP app is built from.
type Deps struct {
	Config   u.Config
	Launcher chrome.Launcher
	// Cache is optional; nil disables PDF caching.
	Cache *cache.PDFCache
	// LimiterStore backs the per-client limiter; nil falls back to memory.
	LimiterStore fiber.Storage
}

// SetupApp creates and configures a new Fiber app instance
func SetupApp(deps Deps) *fiber.App {
	cfg := deps.Config
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit(),
		ErrorHandler:          errorHandler,
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	}

	u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg, "error", err)

	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, deps Deps) {
	cfg := deps.Config

	app.Get("/", handlers.HandleRoot)
	app.Get("/health", handlers.HandleHealth)

	svc := handlers.NewRenderService(cfg, deps.Launcher, deps.Cache)
	chain := []fiber.Handler{}
	if cfg.RateLimiter.UserLimit > 0 {
		chain = append(chain, userRateLimitMiddleware(cfg, deps.LimiterStore))
	}
	chain = append(chain, svc.HandleRender)
	app.Post("/render-pdf", chain...)

	if cfg.Server.EnableMonitor {
		app.Get("/monitor", monitor.New())
	}
}
