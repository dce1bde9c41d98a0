package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/http/handlers"
	"svg2pdf/internal/http/middleware"
	"svg2pdf/internal/infra/logging"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Config   config.Config
	Renderer handlers.Renderer
	Browser  domain.Browser
	Stats    handlers.StatsSource
}

// New creates the fiber app with middleware and routes.
func New(d Deps) *fiber.App {
	cfg := d.Config
	bodyLimit := cfg.Limits.MaxUploadBytes
	if cfg.Limits.MaxJSONBytes > bodyLimit {
		bodyLimit = cfg.Limits.MaxJSONBytes
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ErrorHandler:          errorHandler,
	})

	var ready func() bool
	if d.Browser != nil {
		ready = func() bool { return d.Browser.Err() == nil }
	}
	middleware.Register(app, ready)
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, d Deps) {
	upload := handlers.UploadPage(d.Config.Limits.MaxUploadBytes)
	app.Get("/", upload)
	app.Get("/test", upload)

	if d.Renderer != nil {
		app.Post("/render", handlers.NewRenderHandler(d.Renderer, d.Config).Handle)
	}

	v0 := app.Group("/v0")
	v0.Get("/chrome/stats", handlers.ChromeStats(d.Browser, d.Stats))
	v0.Get("/monitor", monitor.New())
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
