package repository

import (
	"context"
	"errors"

	"github.com/spec-kit/queue-service/internal/domain"
)

// ErrTicketNotFound is returned by every backend when a ticket id does not
// resolve, or resolves to a ticket of another department inside a unit of work.
var ErrTicketNotFound = errors.New("ticket not found")

// TicketFilter captures listing parameters. Nil fields do not filter.
type TicketFilter struct {
	DepartmentCode *string
	DepartmentName *string
	OwnerID        *string
	Statuses       []domain.TicketStatus
	Limit          int
	Offset         int
}

// StatusCounts maps department code to ticket counts per status.
type StatusCounts map[string]map[domain.TicketStatus]int

// Live returns the non-terminal ticket count for a department.
func (c StatusCounts) Live(code string) int {
	total := 0
	for _, status := range domain.LiveStatuses {
		total += c[code][status]
	}
	return total
}

// DepartmentTx is a unit of work scoped to one department. All methods
// observe the department as of the lock acquisition plus the tx's own writes.
type DepartmentTx interface {
	// NextSequence increments and returns the department counter.
	NextSequence(ctx context.Context) (int64, error)
	CountLive(ctx context.Context) (int, error)
	CountLiveByOwner(ctx context.Context, ownerID string) (int, error)
	Insert(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// InService returns the department's serving ticket or ErrTicketNotFound.
	InService(ctx context.Context) (*domain.Ticket, error)
	// OldestWaiting returns the Waiting ticket with the lowest sequence number or ErrTicketNotFound.
	OldestWaiting(ctx context.Context) (*domain.Ticket, error)
	// Update persists the status and updated_at of an existing ticket.
	Update(ctx context.Context, ticket *domain.Ticket) error
	Delete(ctx context.Context, id string) error
	AppendHistory(ctx context.Context, entry *domain.TicketHistory) error
}

// TicketStore is the single source of truth for tickets. WithDepartment units
// of work for the same department execute as if serialized; units of work for
// different departments do not wait on each other unless the backend says so.
// Reads never block on writers.
type TicketStore interface {
	// WithDepartment runs fn in one unit of work. Nothing fn wrote is kept
	// unless fn returns nil and the commit succeeds.
	WithDepartment(ctx context.Context, departmentCode string, fn func(tx DepartmentTx) error) error

	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// List orders by created_at ascending, then sequence number.
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	StatusCounts(ctx context.Context) (StatusCounts, error)
	// PeekSequence returns the last allocated number for a department, 0 if none.
	PeekSequence(ctx context.Context, departmentCode string) (int64, error)
	// CountAhead counts Waiting tickets of the same department with a lower sequence number.
	CountAhead(ctx context.Context, ticket *domain.Ticket) (int, error)
	History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
	Ping(ctx context.Context) error
}
