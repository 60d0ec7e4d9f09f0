package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for queue tickets.
type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "PENDING"
	TicketStatusWaiting   TicketStatus = "WAITING"
	TicketStatusInService TicketStatus = "IN_SERVICE"
	TicketStatusCompleted TicketStatus = "COMPLETED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
)

// LiveStatuses are the statuses counted against department capacity.
var LiveStatuses = []TicketStatus{TicketStatusPending, TicketStatusWaiting, TicketStatusInService}

// IsLive reports whether the status is non-terminal.
func (s TicketStatus) IsLive() bool {
	switch s {
	case TicketStatusPending, TicketStatusWaiting, TicketStatusInService:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	return s.IsLive() || s.IsTerminal()
}

// ParseTicketStatus accepts wire values in any case, e.g. "in_service".
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	status := TicketStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Ticket is a single numbered request for service in a department queue.
type Ticket struct {
	ID             string
	DepartmentCode string
	DepartmentName string
	SequenceNumber int64
	OwnerID        string
	Status         TicketStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayNumber is the human-facing "{code}-{sequence}" label.
func (t Ticket) DisplayNumber() string {
	return FormatDisplayNumber(t.DepartmentCode, t.SequenceNumber)
}

// FormatDisplayNumber renders a department code and sequence number.
func FormatDisplayNumber(code string, sequence int64) string {
	return fmt.Sprintf("%s-%d", code, sequence)
}

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:   {TicketStatusWaiting, TicketStatusCancelled},
	TicketStatusWaiting:   {TicketStatusInService, TicketStatusCancelled},
	TicketStatusInService: {TicketStatusCompleted, TicketStatusCancelled},
	TicketStatusCompleted: {},
	TicketStatusCancelled: {},
}

// CanTransition reports whether the lifecycle allows current -> next.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
