package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"

	"printgate/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app. auth guards
// the print route; pass nil to leave it open.
func RegisterRoutes(app *fiber.App, db *sql.DB, printSvc service.PrintService, auth fiber.Handler) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	handlers := []fiber.Handler{PrintDocument(printSvc)}
	if auth != nil {
		handlers = append([]fiber.Handler{auth}, handlers...)
	}
	app.Post("/print", handlers...)
	app.Options("/print", PrintPreflight())
}

// HealthCheck pings the database.
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "Service unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}
