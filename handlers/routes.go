package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes groups the handlers mounted on the app.
type Routes struct {
	Enrollment *EnrollmentHandler
	Decode     *DecodeHandler
	Admin      *AdminHandler
	Health     *HealthHandler
	Throttle   *ClientThrottle
}

// NewApp builds the fiber app with the shared error handler and middleware.
func NewApp(requestLogging bool) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "vin-backend",
		ErrorHandler: ErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	if requestLogging {
		app.Use(logger.New())
	}
	app.Use(cors.New())
	return app
}

func (r *Routes) Register(app *fiber.App) {
	app.Get("/health", r.Health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	if r.Throttle != nil {
		api.Use(r.Throttle.Middleware())
	}

	api.Post("/enroll", r.Enrollment.Enroll)
	api.Get("/status/:enrollmentId", r.Enrollment.GetStatus)
	api.Get("/vehicle/:vin", r.Enrollment.GetVehicle)

	api.Post("/decode", r.Decode.Decode)
	api.Post("/upload", r.Decode.Upload)

	// TODO: Add auth middleware
	admin := api.Group("/admin")
	admin.Post("/promotions/run", r.Admin.RunPromotions)
	admin.Post("/enrollments/:enrollmentId/fail", r.Admin.FailEnrollment)
}
