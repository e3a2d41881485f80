package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nmbp/pledge_api/internal/stats"
)

// RegisterStatsRoutes exposes aggregate pledge counts.
func RegisterStatsRoutes(r fiber.Router, svc *stats.Service, logger *slog.Logger) {
	r.Get("/pledges/count", func(c *fiber.Ctx) error {
		counts, err := svc.Counts(c.UserContext())
		if err != nil {
			if logger != nil {
				logger.Error("pledge count failed", slog.Any("error", err))
			}
			return fiber.NewError(http.StatusServiceUnavailable, "pledge counts unavailable")
		}
		return c.Status(http.StatusOK).JSON(counts)
	})
}
