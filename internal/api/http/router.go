package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-desk/internal/api/http/handlers"
	"github.com/spec-kit/ticket-desk/internal/auth"
	"github.com/spec-kit/ticket-desk/internal/config"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimiter    *RateLimiter
	RateLimits     config.RateLimitConfig
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.RateLimiter.PerIP("login", cfg.RateLimits.LoginPerMinute), cfg.Auth.Login)

	protected := app.Group("",
		cfg.AuthMiddleware.Handle,
		auth.RequireAuthenticated(),
		cfg.RateLimiter.PerSubject("api", cfg.RateLimits.APIPerMinute),
	)
	protected.Get("/auth/me", cfg.Auth.Me)
	protected.Post("/auth/password/change", cfg.Auth.ChangePassword)

	protected.Get("/tickets", cfg.Tickets.ListTickets)
	protected.Post("/tickets", cfg.Tickets.CreateTicket)
	protected.Get("/tickets/:id", cfg.Tickets.GetTicket)
	protected.Patch("/tickets/:id", cfg.Tickets.UpdateTicket)
	protected.Delete("/tickets/:id", cfg.Tickets.DeleteTicket)

	// Workflow and recovery are admin-only surfaces.
	protected.Patch("/tickets/:id/status", auth.RequireAdmin(), cfg.Tickets.ChangeStatus)
	protected.Post("/tickets/:id/restore", auth.RequireAdmin(), cfg.Tickets.RestoreTicket)
}
