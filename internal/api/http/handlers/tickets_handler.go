package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-service/internal/api/dto"
	"github.com/spec-kit/queue-service/internal/auth"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/service"
	apperrors "github.com/spec-kit/queue-service/pkg/util/errorutil"
)

const maxPageSize = 200

// TicketsHandler manages ticket endpoints shared by students and staff.
type TicketsHandler struct {
	dispatch     *service.DispatchService
	query        *service.QueryService
	pollInterval time.Duration
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(dispatch *service.DispatchService, query *service.QueryService, pollInterval time.Duration) *TicketsHandler {
	return &TicketsHandler{dispatch: dispatch, query: query, pollInterval: pollInterval}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.DepartmentCode) == "" && strings.TrimSpace(req.DepartmentName) == "" {
		return apperrors.NewValidationError("department_code or department_name required", nil)
	}

	ticket, err := h.dispatch.CreateTicket(c.UserContext(), principal.Actor(), service.CreateTicketInput{
		DepartmentCode: req.DepartmentCode,
		DepartmentName: req.DepartmentName,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter, err := parseTicketListQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.query.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(pollResponse(ticketResponses(tickets), h.pollInterval))
}

// MyTickets GET /api/me/tickets.
func (h *TicketsHandler) MyTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	tickets, err := h.query.MyTickets(c.UserContext(), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(pollResponse(ticketResponses(tickets), h.pollInterval))
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	view, err := h.query.TicketByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(pollResponse(dto.TicketDetailResponse{
		TicketResponse: ticketResponse(&view.Ticket),
		Ahead:          view.Ahead,
	}, h.pollInterval))
}

// History GET /api/tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.query.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

// ConfirmTicket POST /api/tickets/:id/confirm.
func (h *TicketsHandler) ConfirmTicket(c *fiber.Ctx) error {
	return mutate(c, h.dispatch.ConfirmTicket)
}

// CancelTicket POST /api/tickets/:id/cancel.
func (h *TicketsHandler) CancelTicket(c *fiber.Ctx) error {
	return mutate(c, h.dispatch.CancelTicket)
}

// DeleteTicket DELETE /api/tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.dispatch.DeleteTicket(c.UserContext(), principal.Actor(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

type ticketMutation func(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error)

func mutate(c *fiber.Ctx, op ticketMutation) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := op(c.UserContext(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func parseTicketListQuery(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{}
	if name := strings.TrimSpace(c.Query("department_name")); name != "" {
		filter.DepartmentName = &name
	}
	if code := strings.TrimSpace(c.Query("department_code")); code != "" {
		filter.DepartmentCode = &code
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := domain.ParseTicketStatus(raw)
		if !ok {
			return filter, apperrors.NewValidationError("unknown status", map[string]any{"status": raw})
		}
		filter.Status = &status
	}
	pageSize := parseInt(c.Query("page_size"), 0)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageSize > 0 {
		page := parseInt(c.Query("page"), 1)
		filter.Offset = (page - 1) * pageSize
		filter.Limit = pageSize
	}
	return filter, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func pollResponse(data any, interval time.Duration) fiber.Map {
	return fiber.Map{
		"data":                  data,
		"poll_interval_seconds": int(interval / time.Second),
	}
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:             ticket.ID,
		DepartmentCode: ticket.DepartmentCode,
		DepartmentName: ticket.DepartmentName,
		SequenceNumber: ticket.SequenceNumber,
		DisplayNumber:  ticket.DisplayNumber(),
		OwnerID:        ticket.OwnerID,
		Status:         ticket.Status,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
	}
}

func ticketResponses(tickets []domain.Ticket) []dto.TicketResponse {
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return items
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:            entry.ID,
			ChangeType:    entry.ChangeType,
			ChangedByType: entry.ChangedByType,
			ChangedByID:   entry.ChangedByID,
			OldStatus:     entry.OldStatus,
			NewStatus:     entry.NewStatus,
			CreatedAt:     entry.CreatedAt,
		})
	}
	return resp
}
