package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type AppOptions struct {
	CORSOrigins          []string
	CORSAllowCredentials bool
	MaxRequestSize       int
	RequestLogging       bool
}

// NewApp mounts the execution, settings and tool routes.
func NewApp(handlers *APIHandlers, opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "agentflow",
		BodyLimit: opts.MaxRequestSize,
	})

	corsConfig := cors.Config{AllowCredentials: opts.CORSAllowCredentials}
	if len(opts.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = opts.CORSOrigins
	}

	app.Use(cors.New(corsConfig))

	if opts.RequestLogging {
		app.Use(logger.New(logger.Config{
			DisableColors: true,
		}))
	}

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("agentflow API")
	})

	app.Get("/health", handlers.HealthCheck)

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/", handlers.ListExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Get("/:id/logs", handlers.GetExecutionLogs)
	e.Get("/:id/logs/download", handlers.DownloadExecutionLogs)
	e.Get("/:id/events", handlers.StreamExecutionEvents)
	e.Post("/:id/ping", handlers.PingExecution)

	s := app.Group("/settings")
	s.Get("/:user_id", handlers.GetSettings)
	s.Put("/:user_id", handlers.PutSettings)

	app.Get("/tools", handlers.ListTools)

	return app
}
