package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/directory"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/repository"
	apperrors "github.com/spec-kit/queue-service/pkg/util/errorutil"
)

// QueryService answers polling clients. Every call reads the ticket store;
// nothing is cached between requests.
type QueryService struct {
	store     repository.TicketStore
	directory *directory.Directory
	allocator *SequenceAllocator
	logger    *zap.Logger
}

// TicketListFilter narrows ListTickets. Nil fields do not filter.
type TicketListFilter struct {
	DepartmentName *string
	DepartmentCode *string
	Status         *domain.TicketStatus
	OwnerID        *string
	Limit          int
	Offset         int
}

// TicketView is a ticket plus its position in the Waiting line.
type TicketView struct {
	domain.Ticket
	Ahead int
}

// DepartmentSummary is the staff dashboard row for one department.
type DepartmentSummary struct {
	Department domain.Department
	Live       int
	Pending    int
	Waiting    int
	NowServing *domain.Ticket
	NextNumber int64
}

// NextNumber previews the number the department would issue next.
type NextNumber struct {
	DepartmentCode string
	SequenceNumber int64
}

// DisplayNumber renders the preview like a ticket label.
func (n NextNumber) DisplayNumber() string {
	return domain.FormatDisplayNumber(n.DepartmentCode, n.SequenceNumber)
}

// NewQueryService constructs the service.
func NewQueryService(store repository.TicketStore, dir *directory.Directory, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		store:     store,
		directory: dir,
		allocator: NewSequenceAllocator(store),
		logger:    logger,
	}
}

// CountsByDepartment returns the live ticket count of every known department.
func (q *QueryService) CountsByDepartment(ctx context.Context) (map[string]int, error) {
	counts, err := q.store.StatusCounts(ctx)
	if err != nil {
		return nil, mapStoreError(q.logger, "status counts", err)
	}
	result := make(map[string]int, len(q.directory.Codes()))
	for _, code := range q.directory.Codes() {
		result[code] = counts.Live(code)
	}
	return result, nil
}

// ListTickets returns matching tickets oldest first. Department names match
// the directory case-insensitively; an unknown name matches nothing.
func (q *QueryService) ListTickets(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		OwnerID: filter.OwnerID,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	if name := trimmed(filter.DepartmentName); name != nil {
		dept, ok := q.directory.ByName(*name)
		if !ok {
			return []domain.Ticket{}, nil
		}
		repoFilter.DepartmentName = &dept.Name
	}
	if code := trimmed(filter.DepartmentCode); code != nil {
		upper := strings.ToUpper(*code)
		repoFilter.DepartmentCode = &upper
	}
	if filter.Status != nil {
		repoFilter.Statuses = []domain.TicketStatus{*filter.Status}
	}
	tickets, err := q.store.List(ctx, repoFilter)
	if err != nil {
		return nil, mapStoreError(q.logger, "list tickets", err)
	}
	return tickets, nil
}

// TicketByID returns one ticket with the number of Waiting tickets ahead of it.
func (q *QueryService) TicketByID(ctx context.Context, ticketID string) (*TicketView, error) {
	ticket, err := q.store.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapStoreError(q.logger, "get ticket", err, ticketID)
	}
	view := &TicketView{Ticket: *ticket}
	if ticket.Status == domain.TicketStatusPending || ticket.Status == domain.TicketStatusWaiting {
		ahead, err := q.store.CountAhead(ctx, ticket)
		if err != nil {
			return nil, mapStoreError(q.logger, "count ahead", err, ticketID)
		}
		view.Ahead = ahead
	}
	return view, nil
}

// MyTickets lists the caller's tickets across departments.
func (q *QueryService) MyTickets(ctx context.Context, ownerID string) ([]domain.Ticket, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperrors.NewValidationError("caller identity is required", nil)
	}
	return q.ListTickets(ctx, TicketListFilter{OwnerID: &ownerID})
}

// Departments summarises every department in directory order.
func (q *QueryService) Departments(ctx context.Context) ([]DepartmentSummary, error) {
	counts, err := q.store.StatusCounts(ctx)
	if err != nil {
		return nil, mapStoreError(q.logger, "status counts", err)
	}
	serving, err := q.store.List(ctx, repository.TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusInService}})
	if err != nil {
		return nil, mapStoreError(q.logger, "list serving", err)
	}
	servingByCode := make(map[string]domain.Ticket, len(serving))
	for _, ticket := range serving {
		servingByCode[ticket.DepartmentCode] = ticket
	}

	departments := q.directory.All()
	summaries := make([]DepartmentSummary, 0, len(departments))
	for _, dept := range departments {
		next, err := q.allocator.Peek(ctx, dept.Code)
		if err != nil {
			return nil, mapStoreError(q.logger, "peek sequence", err)
		}
		summary := DepartmentSummary{
			Department: dept,
			Live:       counts.Live(dept.Code),
			Pending:    counts[dept.Code][domain.TicketStatusPending],
			Waiting:    counts[dept.Code][domain.TicketStatusWaiting],
			NextNumber: next,
		}
		if ticket, ok := servingByCode[dept.Code]; ok {
			summary.NowServing = &ticket
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// NextNumber previews the next number of a department.
func (q *QueryService) NextNumber(ctx context.Context, departmentCode string) (NextNumber, error) {
	dept, err := resolveDepartment(q.directory, departmentCode, "")
	if err != nil {
		return NextNumber{}, err
	}
	next, err := q.allocator.Peek(ctx, dept.Code)
	if err != nil {
		return NextNumber{}, mapStoreError(q.logger, "peek sequence", err)
	}
	return NextNumber{DepartmentCode: dept.Code, SequenceNumber: next}, nil
}

// History returns the audit trail of a ticket, oldest entry first.
func (q *QueryService) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := q.store.GetByID(ctx, ticketID); err != nil {
		return nil, mapStoreError(q.logger, "get ticket", err, ticketID)
	}
	entries, err := q.store.History(ctx, ticketID)
	if err != nil {
		return nil, mapStoreError(q.logger, "ticket history", err, ticketID)
	}
	return entries, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
