package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-service/internal/api/http/handlers"
	"github.com/spec-kit/queue-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	Departments    *handlers.DepartmentsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	departments := api.Group("/departments")
	departments.Get("/", cfg.Departments.ListDepartments)
	departments.Get("/counts", cfg.Departments.Counts)
	departments.Get("/:code/next-number", cfg.Departments.NextNumber)
	departments.Post("/:code/call-next", auth.RequireStaff(), cfg.StaffTickets.CallNext)

	api.Get("/me/tickets", cfg.Tickets.MyTickets)

	tickets := api.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/confirm", cfg.Tickets.ConfirmTicket)
	tickets.Post("/:id/complete", auth.RequireStaff(), cfg.StaffTickets.EndService)
	tickets.Post("/:id/cancel", cfg.Tickets.CancelTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
}
