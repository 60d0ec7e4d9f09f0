package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/directory"
	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/events"
	"github.com/spec-kit/queue-service/internal/observability"
	"github.com/spec-kit/queue-service/internal/repository"
	"github.com/spec-kit/queue-service/internal/repository/storetest"
	apperrors "github.com/spec-kit/queue-service/pkg/util/errorutil"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	dispatch *DispatchService
	query    *QueryService
	store    repository.TicketStore
	metrics  *observability.Metrics
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func newFixture(t *testing.T, ioCapacity int, oneLivePerOwner bool) *fixture {
	t.Helper()
	return newFixtureOn(t, repository.NewMemoryTicketStore(), ioCapacity, oneLivePerOwner)
}

func newFixtureOn(t *testing.T, store repository.TicketStore, ioCapacity int, oneLivePerOwner bool) *fixture {
	t.Helper()
	dir, err := directory.New([]domain.Department{
		{Code: "IO", Name: "International Office", Capacity: ioCapacity},
		{Code: "FO", Name: "Financial Office"},
	}, 30)
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher()
	log := &eventLog{}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, log.record)
	}
	metrics := observability.NewMetrics()
	clock := &stepClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	return &fixture{
		dispatch: NewDispatchService(DispatchDependencies{
			Store:                 store,
			Directory:             dir,
			Dispatcher:            dispatcher,
			Metrics:               metrics,
			Logger:                zap.NewNop(),
			DefaultCapacity:       30,
			OneLiveTicketPerOwner: oneLivePerOwner,
			Clock:                 clock.Now,
		}),
		query:   NewQueryService(store, dir, zap.NewNop()),
		store:   store,
		metrics: metrics,
		events:  log,
	}
}

// eachBackend runs fn against a fresh fixture on every available store.
func eachBackend(t *testing.T, ioCapacity int, fn func(t *testing.T, f *fixture)) {
	for name, open := range storetest.Backends(t, filepath.Join("..", "..", "migrations")) {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixtureOn(t, open(t), ioCapacity, true))
		})
	}
}

func student(id string) domain.Actor {
	return domain.Actor{Type: domain.SubjectTypeStudent, ID: id}
}

var ioStaff = domain.Actor{Type: domain.SubjectTypeStaff, ID: "staff-io", DepartmentCode: "IO"}

func (f *fixture) queue(t *testing.T, owner, code string) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	ticket, err := f.dispatch.CreateTicket(ctx, student(owner), CreateTicketInput{DepartmentCode: code})
	require.NoError(t, err)
	ticket, err = f.dispatch.ConfirmTicket(ctx, student(owner), ticket.ID)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) status(t *testing.T, id string) domain.TicketStatus {
	t.Helper()
	ticket, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket.Status
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, 2, true)
	ctx := context.Background()

	ticket1, err := f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO", DepartmentName: "International Office"})
	require.NoError(t, err)
	assert.Equal(t, "IO-1", ticket1.DisplayNumber())
	assert.Equal(t, domain.TicketStatusPending, ticket1.Status)

	ticket1, err = f.dispatch.ConfirmTicket(ctx, student("s1"), ticket1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusWaiting, ticket1.Status)

	ticket2 := f.queue(t, "s2", "IO")
	assert.Equal(t, "IO-2", ticket2.DisplayNumber())
	assert.Equal(t, domain.TicketStatusWaiting, ticket2.Status)

	_, err = f.dispatch.CreateTicket(ctx, student("s3"), CreateTicketInput{DepartmentCode: "IO"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueFull))

	called, err := f.dispatch.CallNext(ctx, ioStaff, "IO")
	require.NoError(t, err)
	assert.Equal(t, ticket1.ID, called.ID)
	assert.Equal(t, domain.TicketStatusInService, called.Status)

	_, err = f.dispatch.CallNext(ctx, ioStaff, "IO")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyServing))

	done, err := f.dispatch.EndService(ctx, ioStaff, ticket1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCompleted, done.Status)

	called, err = f.dispatch.CallNext(ctx, ioStaff, "io")
	require.NoError(t, err)
	assert.Equal(t, ticket2.ID, called.ID)
	assert.Equal(t, domain.TicketStatusInService, called.Status)

	assert.Equal(t, int64(1), f.metrics.QueueOps("IO", observability.QueueOpRejected))
	assert.Equal(t, int64(2), f.metrics.QueueOps("IO", observability.QueueOpCalled))
}

func TestConcurrentCreatesGetUniqueNumbers(t *testing.T) {
	eachBackend(t, 100, func(t *testing.T, f *fixture) {
		const n = 50

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			numbers []int64
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ticket, err := f.dispatch.CreateTicket(context.Background(), student(fmt.Sprintf("s%d", i)), CreateTicketInput{DepartmentCode: "IO"})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				numbers = append(numbers, ticket.SequenceNumber)
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		require.Len(t, numbers, n)
		seen := map[int64]bool{}
		for _, num := range numbers {
			assert.False(t, seen[num], "duplicate number %d", num)
			seen[num] = true
		}
		for want := int64(1); want <= n; want++ {
			assert.True(t, seen[want], "missing number %d", want)
		}
	})
}

func TestCapacityUnderConcurrency(t *testing.T) {
	const capacity = 5
	const extra = 4
	eachBackend(t, capacity, func(t *testing.T, f *fixture) {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted []*domain.Ticket
			rejected int
		)
		for i := 0; i < capacity+extra; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ticket, err := f.dispatch.CreateTicket(context.Background(), student(fmt.Sprintf("s%d", i)), CreateTicketInput{DepartmentCode: "IO"})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueFull), err)
					rejected++
					return
				}
				admitted = append(admitted, ticket)
			}(i)
		}
		wg.Wait()

		require.Len(t, admitted, capacity)
		assert.Equal(t, extra, rejected)

		counts, err := f.query.CountsByDepartment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, capacity, counts["IO"])

		next, err := f.query.NextNumber(context.Background(), "IO")
		require.NoError(t, err)
		assert.Equal(t, int64(capacity+1), next.SequenceNumber)

		ctx := context.Background()
		first := admitted[0]
		_, err = f.dispatch.ConfirmTicket(ctx, student(first.OwnerID), first.ID)
		require.NoError(t, err)
		_, err = f.dispatch.CallNext(ctx, ioStaff, "IO")
		require.NoError(t, err)
		_, err = f.dispatch.EndService(ctx, ioStaff, first.ID)
		require.NoError(t, err)

		again, err := f.dispatch.CreateTicket(ctx, student("late"), CreateTicketInput{DepartmentCode: "IO"})
		require.NoError(t, err)
		assert.Equal(t, int64(capacity+1), again.SequenceNumber)
	})
}

func TestConcurrentCallNextServesOneTicket(t *testing.T) {
	eachBackend(t, 30, func(t *testing.T, f *fixture) {
		for i := 0; i < 4; i++ {
			f.queue(t, fmt.Sprintf("s%d", i), "IO")
		}

		const terminals = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []string
			alreadyIn int
		)
		for i := 0; i < terminals; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticket, err := f.dispatch.CallNext(context.Background(), ioStaff, "IO")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyServing), err)
					alreadyIn++
					return
				}
				winners = append(winners, ticket.ID)
			}()
		}
		wg.Wait()

		assert.Len(t, winners, 1)
		assert.Equal(t, terminals-1, alreadyIn)

		code := "IO"
		serving := domain.TicketStatusInService
		inService, err := f.query.ListTickets(context.Background(), TicketListFilter{DepartmentCode: &code, Status: &serving})
		require.NoError(t, err)
		require.Len(t, inService, 1)
		assert.Equal(t, winners[0], inService[0].ID)
	})
}

func TestCallNextIsFIFO(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	a := f.queue(t, "a", "IO")
	b := f.queue(t, "b", "IO")
	c := f.queue(t, "c", "IO")

	for _, want := range []*domain.Ticket{a, b, c} {
		called, err := f.dispatch.CallNext(ctx, ioStaff, "IO")
		require.NoError(t, err)
		assert.Equal(t, want.ID, called.ID)
		_, err = f.dispatch.EndService(ctx, ioStaff, called.ID)
		require.NoError(t, err)
	}

	_, err := f.dispatch.CallNext(ctx, ioStaff, "IO")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNoneWaiting))
}

func TestCallNextSkipsPendingTickets(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	pending, err := f.dispatch.CreateTicket(ctx, student("early"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)
	waiting := f.queue(t, "later", "IO")

	called, err := f.dispatch.CallNext(ctx, ioStaff, "IO")
	require.NoError(t, err)
	assert.Equal(t, waiting.ID, called.ID)
	assert.Equal(t, domain.TicketStatusPending, f.status(t, pending.ID))
}

func TestInvalidTransitionsLeaveTicketUntouched(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	pending, err := f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)

	_, err = f.dispatch.EndService(ctx, ioStaff, pending.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, domain.TicketStatusPending, domainErr.Details["from"])
	assert.Equal(t, domain.TicketStatusCompleted, domainErr.Details["to"])
	assert.Equal(t, domain.TicketStatusPending, f.status(t, pending.ID))

	_, err = f.dispatch.ConfirmTicket(ctx, student("s1"), pending.ID)
	require.NoError(t, err)
	_, err = f.dispatch.ConfirmTicket(ctx, student("s1"), pending.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))

	_, err = f.dispatch.CancelTicket(ctx, student("s1"), pending.ID)
	require.NoError(t, err)
	for _, op := range []func(context.Context, domain.Actor, string) (*domain.Ticket, error){
		f.dispatch.ConfirmTicket,
		f.dispatch.CancelTicket,
		f.dispatch.EndService,
	} {
		_, err = op(ctx, ioStaff, pending.ID)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
	}
	assert.Equal(t, domain.TicketStatusCancelled, f.status(t, pending.ID))

	history, err := f.query.History(ctx, pending.ID)
	require.NoError(t, err)
	statuses := make([]domain.TicketStatus, len(history))
	for i, entry := range history {
		statuses[i] = entry.NewStatus
	}
	assert.Equal(t, []domain.TicketStatus{domain.TicketStatusPending, domain.TicketStatusWaiting, domain.TicketStatusCancelled}, statuses)
	assert.Equal(t, domain.ChangeTypeCreated, history[0].ChangeType)
	assert.Equal(t, domain.TicketStatusWaiting, history[2].OldStatus)
}

func TestCancelInServiceFreesSlot(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	first := f.queue(t, "s1", "IO")
	second := f.queue(t, "s2", "IO")

	_, err := f.dispatch.CallNext(ctx, ioStaff, "IO")
	require.NoError(t, err)
	cancelled, err := f.dispatch.CancelTicket(ctx, ioStaff, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCancelled, cancelled.Status)

	called, err := f.dispatch.CallNext(ctx, ioStaff, "IO")
	require.NoError(t, err)
	assert.Equal(t, second.ID, called.ID)
}

func TestOneLiveTicketPerOwner(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	first, err := f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)

	_, err = f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyQueued))

	_, err = f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentName: "Financial Office"})
	require.NoError(t, err)

	_, err = f.dispatch.CancelTicket(ctx, student("s1"), first.ID)
	require.NoError(t, err)
	again, err := f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.SequenceNumber)

	relaxed := newFixture(t, 30, false)
	_, err = relaxed.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)
	_, err = relaxed.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)
}

func TestDispatchAuthorization(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	ticket, err := f.dispatch.CreateTicket(ctx, student("owner"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)

	_, err = f.dispatch.ConfirmTicket(ctx, student("intruder"), ticket.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = f.dispatch.CallNext(ctx, student("owner"), "IO")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	foStaff := domain.Actor{Type: domain.SubjectTypeStaff, ID: "staff-fo", DepartmentCode: "FO"}
	_, err = f.dispatch.CallNext(ctx, foStaff, "IO")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))
	_, err = f.dispatch.CancelTicket(ctx, foStaff, ticket.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	anyStaff := domain.Actor{Type: domain.SubjectTypeStaff, ID: "supervisor"}
	_, err = f.dispatch.ConfirmTicket(ctx, anyStaff, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusWaiting, f.status(t, ticket.ID))
}

func TestSystemActorBypassesOwnershipAndDepartment(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()
	system := domain.SystemActor()

	io := f.queue(t, "s1", "IO")
	fo := f.queue(t, "s2", "FO")
	pending, err := f.dispatch.CreateTicket(ctx, student("s3"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)

	called, err := f.dispatch.CallNext(ctx, system, "IO")
	require.NoError(t, err)
	assert.Equal(t, io.ID, called.ID)
	_, err = f.dispatch.EndService(ctx, system, io.ID)
	require.NoError(t, err)

	_, err = f.dispatch.ConfirmTicket(ctx, system, pending.ID)
	require.NoError(t, err)
	_, err = f.dispatch.CancelTicket(ctx, system, fo.ID)
	require.NoError(t, err)
	require.NoError(t, f.dispatch.DeleteTicket(ctx, system, pending.ID))

	assert.Equal(t, domain.TicketStatusCompleted, f.status(t, io.ID))
	assert.Equal(t, domain.TicketStatusCancelled, f.status(t, fo.ID))

	history, err := f.query.History(ctx, fo.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.SubjectTypeSystem, last.ChangedByType)
}

func TestLookupFailures(t *testing.T) {
	f := newFixture(t, 30, true)
	ctx := context.Background()

	_, err := f.dispatch.ConfirmTicket(ctx, student("s1"), "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, err = f.dispatch.CallNext(ctx, ioStaff, "XX")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, err = f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO", DepartmentName: "Financial Office"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentName: "Library"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestDeleteTicketKeepsNumbering(t *testing.T) {
	f := newFixture(t, 30, false)
	ctx := context.Background()
	var tickets []*domain.Ticket
	for i := 0; i < 3; i++ {
		ticket, err := f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}

	err := f.dispatch.DeleteTicket(ctx, student("someone-else"), tickets[1].ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	require.NoError(t, f.dispatch.DeleteTicket(ctx, student("s1"), tickets[1].ID))
	_, err = f.query.TicketByID(ctx, tickets[1].ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	err = f.dispatch.DeleteTicket(ctx, student("s1"), tickets[1].ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	next, err := f.dispatch.CreateTicket(ctx, student("s1"), CreateTicketInput{DepartmentCode: "IO"})
	require.NoError(t, err)
	assert.Equal(t, "IO-4", next.DisplayNumber())

	third, err := f.store.GetByID(ctx, tickets[2].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.SequenceNumber)
}

func TestEventsFollowCommits(t *testing.T) {
	f := newFixture(t, 1, true)
	ctx := context.Background()
	ticket := f.queue(t, "s1", "IO")

	_, err := f.dispatch.CreateTicket(ctx, student("s2"), CreateTicketInput{DepartmentCode: "IO"})
	require.Error(t, err)

	_, err = f.dispatch.CallNext(ctx, ioStaff, "IO")
	require.NoError(t, err)
	require.NoError(t, f.dispatch.DeleteTicket(ctx, ioStaff, ticket.ID))

	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketStatusChanged,
		events.EventTicketDeleted,
	}, f.events.types())

	created := f.events.events[0]
	assert.Equal(t, "IO", created.DepartmentCode)
	payload, ok := created.Payload.(events.TicketCreatedPayload)
	require.True(t, ok)
	assert.Equal(t, "IO-1", payload.DisplayNumber)
	assert.Equal(t, 1, payload.Live)
	assert.Equal(t, 1, payload.Capacity)
}
