// Package app assembles the Fiber application and the runtime it depends on.
package app

import (
	"context"
	"time"

	"storefront/internal/handlers"
	"storefront/internal/metrics"
	"storefront/internal/middleware"
	"storefront/internal/payments"
	"storefront/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Orders   *services.OrderService
	Checkout *services.CheckoutService
	Webhooks *services.WebhookService
	Products *services.ProductService
	Auth     *services.AuthService
	Gateway  payments.Gateway

	AllowedOrigins string
	// AccessLog enables the request logger middleware.
	AccessLog bool
	// HealthChecks are run by GET /health, keyed by component name.
	HealthChecks map[string]HealthCheck
	// DeadLetters reports how many failed webhook events are waiting in
	// memory. Nil when a broker holds them.
	DeadLetters func() int
}

// NewApp creates the Fiber application with every route mounted.
func NewApp(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "storefront",
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})

	// --- Middleware ---
	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: deps.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(metrics.Middleware())

	// --- API Routes ---
	api := app.Group("/api")

	authGuard := middleware.AuthRequired(deps.Auth)
	adminGuards := []fiber.Handler{authGuard, middleware.AdminOnly()}

	handlers.NewWebhookHandler(deps.Webhooks, deps.Gateway).RegisterRoutes(api)
	handlers.NewOrderHandler(deps.Orders, deps.Checkout).RegisterRoutes(api, adminGuards...)
	handlers.NewProductHandler(deps.Products).RegisterRoutes(api)
	handlers.NewUserHandler(deps.Auth).RegisterRoutes(api, authGuard, adminGuards...)

	// --- Health and metrics ---
	app.Get("/health", healthHandler(deps))
	app.Get("/metrics", metrics.Handler())

	return app
}

func healthHandler(deps Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := "healthy"
		code := fiber.StatusOK
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, check := range deps.HealthChecks {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		provider := ""
		if deps.Gateway != nil {
			provider = deps.Gateway.Provider()
		}
		body := fiber.Map{
			"status":  status,
			"time":    time.Now().Format(time.RFC3339),
			"gateway": provider,
			"checks":  checks,
		}
		if deps.DeadLetters != nil {
			body["deadLetters"] = deps.DeadLetters()
		}
		return c.Status(code).JSON(body)
	}
}
