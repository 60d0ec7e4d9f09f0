package events

import (
	"time"

	"github.com/spec-kit/queue-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketDeleted       EventType = "ticket_deleted"
)

// AllEventTypes lists every event the dispatch engine emits.
var AllEventTypes = []EventType{EventTicketCreated, EventTicketStatusChanged, EventTicketDeleted}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.SubjectType `json:"type"`
	ID   string             `json:"id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	TicketID       string      `json:"ticket_id"`
	DepartmentCode string      `json:"department_code"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	DisplayNumber  string              `json:"display_number"`
	SequenceNumber int64               `json:"sequence_number"`
	Status         domain.TicketStatus `json:"status"`
	Live           int                 `json:"live"`
	Capacity       int                 `json:"capacity"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	DisplayNumber string              `json:"display_number"`
	OldStatus     domain.TicketStatus `json:"old_status"`
	NewStatus     domain.TicketStatus `json:"new_status"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	DisplayNumber string              `json:"display_number"`
	LastStatus    domain.TicketStatus `json:"last_status"`
}
