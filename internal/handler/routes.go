package handler

import (
	"license-gate/internal/logging"
	"license-gate/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// NewApp builds the fiber app shared by the license service and the bot webhook.
func NewApp(log zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "internal error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			} else {
				log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
			}
			return c.Status(code).JSON(fiber.Map{
				"error": msg,
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${status} - ${method} ${path} ${latency}\n",
		Output: logging.RequestWriter{Logger: log},
	}))

	app.Get("/health", HandleHealth)
	return app
}

// Register mounts the admin routes behind the API key guard.
func (h *Handler) Register(app *fiber.App, adminKey string) {
	admin := app.Group("/admin", cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.APIKeyHeader,
	}), middleware.AdminKey(adminKey))
	admin.Post("/create-license", h.HandleCreateLicense)
	admin.Get("/list-licenses", h.HandleListLicenses)
	admin.Post("/lookup-license", h.HandleLookupLicense)
	admin.Get("/statistics", h.HandleLicenseStatistics)
	admin.Get("/logs", h.HandleGetLogs)
}
