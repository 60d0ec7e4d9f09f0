package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-service/internal/service"
	apperrors "github.com/spec-kit/queue-service/pkg/util/errorutil"
)

// StaffTicketsHandler handles the service desk actions.
type StaffTicketsHandler struct {
	dispatch *service.DispatchService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(dispatch *service.DispatchService) *StaffTicketsHandler {
	return &StaffTicketsHandler{dispatch: dispatch}
}

// CallNext POST /api/departments/:code/call-next.
func (h *StaffTicketsHandler) CallNext(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	code := strings.TrimSpace(c.Params("code"))
	if code == "" {
		return apperrors.NewValidationError("department code required", nil)
	}
	ticket, err := h.dispatch.CallNext(c.UserContext(), principal.Actor(), code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// EndService POST /api/tickets/:id/complete.
func (h *StaffTicketsHandler) EndService(c *fiber.Ctx) error {
	return mutate(c, h.dispatch.EndService)
}
