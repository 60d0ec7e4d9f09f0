package dto

import (
	"time"

	"github.com/spec-kit/queue-service/internal/domain"
)

// CreateTicketRequest payload. At least one field is required.
type CreateTicketRequest struct {
	DepartmentCode string `json:"department_code"`
	DepartmentName string `json:"department_name"`
}

// TicketResponse is the public shape of a ticket.
type TicketResponse struct {
	ID             string              `json:"id"`
	DepartmentCode string              `json:"department_code"`
	DepartmentName string              `json:"department_name"`
	SequenceNumber int64               `json:"sequence_number"`
	DisplayNumber  string              `json:"display_number"`
	OwnerID        string              `json:"owner_id,omitempty"`
	Status         domain.TicketStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TicketDetailResponse adds the caller's place in line.
type TicketDetailResponse struct {
	TicketResponse
	Ahead int `json:"ahead"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID            string                  `json:"id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	ChangedByType domain.SubjectType      `json:"changed_by_type"`
	ChangedByID   string                  `json:"changed_by_id,omitempty"`
	OldStatus     domain.TicketStatus     `json:"old_status,omitempty"`
	NewStatus     domain.TicketStatus     `json:"new_status"`
	CreatedAt     time.Time               `json:"created_at"`
}
