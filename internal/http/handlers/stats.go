package handlers

import (
	"github.com/gofiber/fiber/v2"

	"svg2pdf/internal/domain"
	"svg2pdf/internal/render"
)

// StatsSource reports the service counters.
type StatsSource interface {
	Stats() render.Stats
}

// ChromeStats exposes session and render counters.
func ChromeStats(browser domain.Browser, svc StatsSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		out := fiber.Map{}
		if browser != nil {
			out["session"] = browser.Stats()
		}
		if svc != nil {
			out["render"] = svc.Stats()
		}
		return c.JSON(out)
	}
}
