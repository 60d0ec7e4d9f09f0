package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-service/internal/api/dto"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/service"
)

// DepartmentsHandler serves the dashboard and counter reads.
type DepartmentsHandler struct {
	query        *service.QueryService
	pollInterval time.Duration
}

// NewDepartmentsHandler constructs handler.
func NewDepartmentsHandler(query *service.QueryService, pollInterval time.Duration) *DepartmentsHandler {
	return &DepartmentsHandler{query: query, pollInterval: pollInterval}
}

// ListDepartments GET /api/departments.
func (h *DepartmentsHandler) ListDepartments(c *fiber.Ctx) error {
	summaries, err := h.query.Departments(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.DepartmentSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, departmentSummary(summary))
	}
	return c.JSON(pollResponse(items, h.pollInterval))
}

// Counts GET /api/departments/counts.
func (h *DepartmentsHandler) Counts(c *fiber.Ctx) error {
	counts, err := h.query.CountsByDepartment(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(pollResponse(counts, h.pollInterval))
}

// NextNumber GET /api/departments/:code/next-number.
func (h *DepartmentsHandler) NextNumber(c *fiber.Ctx) error {
	next, err := h.query.NextNumber(c.UserContext(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(pollResponse(dto.NextNumberResponse{
		DepartmentCode: next.DepartmentCode,
		SequenceNumber: next.SequenceNumber,
		DisplayNumber:  next.DisplayNumber(),
	}, h.pollInterval))
}

func departmentSummary(summary service.DepartmentSummary) dto.DepartmentSummaryResponse {
	resp := dto.DepartmentSummaryResponse{
		Code:              summary.Department.Code,
		Name:              summary.Department.Name,
		Capacity:          summary.Department.Capacity,
		Live:              summary.Live,
		Pending:           summary.Pending,
		Waiting:           summary.Waiting,
		NextNumber:        summary.NextNumber,
		NextDisplayNumber: domain.FormatDisplayNumber(summary.Department.Code, summary.NextNumber),
	}
	if summary.NowServing != nil {
		display := summary.NowServing.DisplayNumber()
		resp.NowServing = &display
		resp.NowServingTicketID = &summary.NowServing.ID
	}
	return resp
}
