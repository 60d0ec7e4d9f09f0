package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/directory"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/events"
	"github.com/spec-kit/queue-service/internal/observability"
	"github.com/spec-kit/queue-service/internal/repository"
	apperrors "github.com/spec-kit/queue-service/pkg/util/errorutil"
)

// DispatchService owns every ticket mutation. Each operation is a single unit
// of work on the ticket's department; events go out only after commit.
type DispatchService struct {
	store           repository.TicketStore
	directory       *directory.Directory
	allocator       *SequenceAllocator
	guard           *CapacityGuard
	dispatcher      events.Dispatcher
	metrics         *observability.Metrics
	logger          *zap.Logger
	oneLivePerOwner bool
	now             func() time.Time
}

// DispatchDependencies bundles collaborators for the dispatch service.
type DispatchDependencies struct {
	Store                 repository.TicketStore
	Directory             *directory.Directory
	Dispatcher            events.Dispatcher
	Metrics               *observability.Metrics
	Logger                *zap.Logger
	DefaultCapacity       int
	OneLiveTicketPerOwner bool
	Clock                 func() time.Time
}

// CreateTicketInput identifies the department to queue for. Either field may
// be empty but not both; when both are set they must name the same department.
type CreateTicketInput struct {
	DepartmentCode string
	DepartmentName string
}

// NewDispatchService constructs the service.
func NewDispatchService(deps DispatchDependencies) *DispatchService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DispatchService{
		store:           deps.Store,
		directory:       deps.Directory,
		allocator:       NewSequenceAllocator(deps.Store),
		guard:           NewCapacityGuard(deps.DefaultCapacity),
		dispatcher:      deps.Dispatcher,
		metrics:         deps.Metrics,
		logger:          logger,
		oneLivePerOwner: deps.OneLiveTicketPerOwner,
		now:             clock,
	}
}

// CreateTicket issues a Pending ticket with the department's next number.
func (s *DispatchService) CreateTicket(ctx context.Context, actor domain.Actor, input CreateTicketInput) (*domain.Ticket, error) {
	dept, err := resolveDepartment(s.directory, input.DepartmentCode, input.DepartmentName)
	if err != nil {
		return nil, err
	}

	var (
		ticket    *domain.Ticket
		admission Admission
	)
	err = s.store.WithDepartment(ctx, dept.Code, func(tx repository.DepartmentTx) error {
		if s.oneLivePerOwner && actor.ID != "" && !actor.IsStaff() {
			owned, err := tx.CountLiveByOwner(ctx, actor.ID)
			if err != nil {
				return err
			}
			if owned > 0 {
				return apperrors.NewAlreadyQueued(map[string]any{"department_code": dept.Code})
			}
		}

		var err error
		admission, err = s.guard.CheckAdmit(ctx, tx, dept)
		if err != nil {
			return err
		}
		if !admission.Admitted {
			return apperrors.NewQueueFull(map[string]any{
				"department_code": dept.Code,
				"live":            admission.Live,
				"capacity":        admission.Capacity,
			})
		}

		seq, err := s.allocator.Allocate(ctx, tx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		ticket = &domain.Ticket{
			ID:             uuid.NewString(),
			DepartmentCode: dept.Code,
			DepartmentName: dept.Name,
			SequenceNumber: seq,
			OwnerID:        actor.ID,
			Status:         domain.TicketStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Insert(ctx, ticket); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, actor, ticket.ID, domain.ChangeTypeCreated, "", ticket.Status, now)
	})
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeQueueFull) {
			s.metrics.RecordQueueOp(dept.Code, observability.QueueOpRejected)
			s.logger.Info("ticket rejected",
				zap.String("department", dept.Code),
				zap.Int("live", admission.Live),
				zap.Int("capacity", admission.Capacity))
		}
		return nil, s.failure("create ticket", err)
	}

	admission.Live++
	s.metrics.RecordQueueOp(dept.Code, observability.QueueOpIssued)
	s.logger.Info("ticket issued",
		zap.String("ticket_id", ticket.ID),
		zap.String("number", ticket.DisplayNumber()),
		zap.Int("live", admission.Live),
		zap.Int("capacity", admission.Capacity))
	s.publishEvent(ctx, events.Event{
		Type:           events.EventTicketCreated,
		TicketID:       ticket.ID,
		DepartmentCode: ticket.DepartmentCode,
		Actor:          eventActor(actor),
		Timestamp:      ticket.CreatedAt,
		Payload: events.TicketCreatedPayload{
			DisplayNumber:  ticket.DisplayNumber(),
			SequenceNumber: ticket.SequenceNumber,
			Status:         ticket.Status,
			Live:           admission.Live,
			Capacity:       admission.Capacity,
		},
	})
	return ticket, nil
}

// ConfirmTicket moves a Pending ticket into the Waiting line.
func (s *DispatchService) ConfirmTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, actor, ticketID, domain.TicketStatusWaiting, authorizeOwnerOrStaff, observability.QueueOpConfirmed)
}

// EndService completes the department's serving ticket.
func (s *DispatchService) EndService(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, actor, ticketID, domain.TicketStatusCompleted, authorizeStaff, observability.QueueOpCompleted)
}

// CancelTicket ends a live ticket without service.
func (s *DispatchService) CancelTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, actor, ticketID, domain.TicketStatusCancelled, authorizeOwnerOrStaff, observability.QueueOpCancelled)
}

// CallNext puts the oldest Waiting ticket of the department in service.
func (s *DispatchService) CallNext(ctx context.Context, actor domain.Actor, departmentCode string) (*domain.Ticket, error) {
	dept, err := resolveDepartment(s.directory, departmentCode, "")
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(actor, dept.Code, ""); err != nil {
		return nil, err
	}

	var called *domain.Ticket
	err = s.store.WithDepartment(ctx, dept.Code, func(tx repository.DepartmentTx) error {
		serving, err := tx.InService(ctx)
		switch {
		case err == nil:
			return apperrors.NewAlreadyServing(map[string]any{
				"department_code": dept.Code,
				"now_serving":     serving.DisplayNumber(),
				"ticket_id":       serving.ID,
			})
		case !errors.Is(err, repository.ErrTicketNotFound):
			return err
		}

		next, err := tx.OldestWaiting(ctx)
		if errors.Is(err, repository.ErrTicketNotFound) {
			return apperrors.NewNoneWaiting(map[string]any{"department_code": dept.Code})
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		next.Status = domain.TicketStatusInService
		next.UpdatedAt = now
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		called = next
		return s.appendHistory(ctx, tx, actor, next.ID, domain.ChangeTypeStatus, domain.TicketStatusWaiting, next.Status, now)
	})
	if err != nil {
		return nil, s.failure("call next", err)
	}

	s.afterTransition(ctx, actor, called, domain.TicketStatusWaiting, observability.QueueOpCalled)
	return called, nil
}

// DeleteTicket removes a ticket record outright. Other tickets keep their
// numbers and the department counter is not rewound.
func (s *DispatchService) DeleteTicket(ctx context.Context, actor domain.Actor, ticketID string) error {
	current, err := s.load(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := authorizeOwnerOrStaff(actor, current.DepartmentCode, current.OwnerID); err != nil {
		return err
	}

	var deleted *domain.Ticket
	err = s.store.WithDepartment(ctx, current.DepartmentCode, func(tx repository.DepartmentTx) error {
		ticket, err := tx.GetByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, ticket.ID); err != nil {
			return err
		}
		deleted = ticket
		return nil
	})
	if err != nil {
		return s.failure("delete ticket", err, ticketID)
	}

	s.metrics.RecordQueueOp(deleted.DepartmentCode, observability.QueueOpDeleted)
	s.logger.Info("ticket deleted",
		zap.String("ticket_id", deleted.ID),
		zap.String("number", deleted.DisplayNumber()),
		zap.String("last_status", string(deleted.Status)))
	s.publishEvent(ctx, events.Event{
		Type:           events.EventTicketDeleted,
		TicketID:       deleted.ID,
		DepartmentCode: deleted.DepartmentCode,
		Actor:          eventActor(actor),
		Payload: events.TicketDeletedPayload{
			DisplayNumber: deleted.DisplayNumber(),
			LastStatus:    deleted.Status,
		},
	})
	return nil
}

type authorizer func(actor domain.Actor, departmentCode, ownerID string) error

func (s *DispatchService) transition(ctx context.Context, actor domain.Actor, ticketID string, next domain.TicketStatus, authorize authorizer, op string) (*domain.Ticket, error) {
	current, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current.DepartmentCode, current.OwnerID); err != nil {
		return nil, err
	}

	var (
		updated   *domain.Ticket
		oldStatus domain.TicketStatus
	)
	err = s.store.WithDepartment(ctx, current.DepartmentCode, func(tx repository.DepartmentTx) error {
		ticket, err := tx.GetByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(ticket.Status, next) {
			return apperrors.NewInvalidTransition(map[string]any{
				"ticket_id": ticket.ID,
				"from":      ticket.Status,
				"to":        next,
			})
		}
		now := s.now().UTC()
		oldStatus = ticket.Status
		ticket.Status = next
		ticket.UpdatedAt = now
		if err := tx.Update(ctx, ticket); err != nil {
			return err
		}
		updated = ticket
		return s.appendHistory(ctx, tx, actor, ticket.ID, domain.ChangeTypeStatus, oldStatus, next, now)
	})
	if err != nil {
		return nil, s.failure("transition to "+string(next), err, ticketID)
	}

	s.afterTransition(ctx, actor, updated, oldStatus, op)
	return updated, nil
}

func (s *DispatchService) afterTransition(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, oldStatus domain.TicketStatus, op string) {
	s.metrics.RecordQueueOp(ticket.DepartmentCode, op)
	s.logger.Info("ticket status changed",
		zap.String("ticket_id", ticket.ID),
		zap.String("number", ticket.DisplayNumber()),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(ticket.Status)))
	s.publishEvent(ctx, events.Event{
		Type:           events.EventTicketStatusChanged,
		TicketID:       ticket.ID,
		DepartmentCode: ticket.DepartmentCode,
		Actor:          eventActor(actor),
		Timestamp:      ticket.UpdatedAt,
		Payload: events.TicketStatusChangedPayload{
			DisplayNumber: ticket.DisplayNumber(),
			OldStatus:     oldStatus,
			NewStatus:     ticket.Status,
		},
	})
}

func (s *DispatchService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, apperrors.NewValidationError("ticket id is required", nil)
	}
	ticket, err := s.store.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.failure("load ticket", err, ticketID)
	}
	return ticket, nil
}

func (s *DispatchService) appendHistory(ctx context.Context, tx repository.DepartmentTx, actor domain.Actor, ticketID string, change domain.TicketChangeType, oldStatus, newStatus domain.TicketStatus, at time.Time) error {
	return tx.AppendHistory(ctx, &domain.TicketHistory{
		ID:            uuid.NewString(),
		TicketID:      ticketID,
		ChangedByType: actor.Type,
		ChangedByID:   actor.ID,
		ChangeType:    change,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		CreatedAt:     at,
	})
}

// failure turns store errors into domain errors. Typed rejections pass
// through untouched; anything unexpected is logged and becomes INTERNAL_ERROR.
func (s *DispatchService) failure(op string, err error, ticketID ...string) error {
	return mapStoreError(s.logger, op, err, ticketID...)
}

func (s *DispatchService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func mapStoreError(logger *zap.Logger, op string, err error, ticketID ...string) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, repository.ErrTicketNotFound) {
		details := map[string]any{}
		if len(ticketID) > 0 {
			details["id"] = ticketID[0]
		}
		return apperrors.NewNotFound("ticket", details)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("store operation aborted", zap.String("op", op), zap.Error(err))
		return apperrors.NewInternalError(err)
	}
	logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return apperrors.NewInternalError(err)
}

func resolveDepartment(dir *directory.Directory, code, name string) (domain.Department, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" && name == "" {
		return domain.Department{}, apperrors.NewValidationError("department_code or department_name is required", nil)
	}

	var (
		dept domain.Department
		ok   bool
	)
	if code != "" {
		dept, ok = dir.ByCode(code)
	} else {
		dept, ok = dir.ByName(name)
	}
	if !ok {
		return domain.Department{}, apperrors.NewNotFound("department", map[string]any{"code": code, "name": name})
	}
	if code != "" && name != "" && !strings.EqualFold(dept.Name, name) {
		return domain.Department{}, apperrors.NewValidationError("department_name does not match department_code", map[string]any{
			"department_code": dept.Code,
			"department_name": name,
		})
	}
	return dept, nil
}

func authorizeOwnerOrStaff(actor domain.Actor, departmentCode, ownerID string) error {
	switch actor.Type {
	case domain.SubjectTypeSystem:
		return nil
	case domain.SubjectTypeStaff:
		return authorizeStaff(actor, departmentCode, ownerID)
	}
	if ownerID == "" || actor.ID != ownerID {
		return apperrors.NewForbidden("ticket belongs to another caller")
	}
	return nil
}

func authorizeStaff(actor domain.Actor, departmentCode, _ string) error {
	switch actor.Type {
	case domain.SubjectTypeSystem:
		return nil
	case domain.SubjectTypeStaff:
		if actor.DepartmentCode != "" && !strings.EqualFold(actor.DepartmentCode, departmentCode) {
			return apperrors.NewForbidden("staff member belongs to another department")
		}
		return nil
	}
	return apperrors.NewForbidden("staff role required")
}

func eventActor(actor domain.Actor) events.Actor {
	return events.Actor{Type: actor.Type, ID: actor.ID}
}
