package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated TicketChangeType = "CREATED"
	ChangeTypeStatus  TicketChangeType = "STATUS_CHANGE"
)

// TicketHistory is an immutable audit trail entry written with each transition.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType SubjectType
	ChangedByID   string
	ChangeType    TicketChangeType
	OldStatus     TicketStatus
	NewStatus     TicketStatus
	CreatedAt     time.Time
}
