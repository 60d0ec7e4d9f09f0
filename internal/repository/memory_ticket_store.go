package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spec-kit/queue-service/internal/domain"
)

// memoryTicketStore keeps tickets in process memory. Each department has its
// own one-slot semaphore, so units of work on different departments run in
// parallel while the shared maps are only held for the copy in and out.
type memoryTicketStore struct {
	mu        sync.RWMutex
	tickets   map[string]domain.Ticket
	sequences map[string]int64
	history   map[string][]domain.TicketHistory

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewMemoryTicketStore builds a single-process store.
func NewMemoryTicketStore() TicketStore {
	return &memoryTicketStore{
		tickets:   make(map[string]domain.Ticket),
		sequences: make(map[string]int64),
		history:   make(map[string][]domain.TicketHistory),
		locks:     make(map[string]chan struct{}),
	}
}

func (s *memoryTicketStore) departmentLock(code string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[code]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[code] = lock
	}
	return lock
}

func (s *memoryTicketStore) WithDepartment(ctx context.Context, departmentCode string, fn func(tx DepartmentTx) error) error {
	lock := s.departmentLock(departmentCode)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	tx := &memoryTx{store: s, code: departmentCode, writes: make(map[string]*domain.Ticket)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *memoryTicketStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.seqTouched {
		s.sequences[tx.code] = tx.seq
	}
	for id, ticket := range tx.writes {
		if ticket == nil {
			delete(s.tickets, id)
			delete(s.history, id)
			continue
		}
		s.tickets[id] = *ticket
	}
	for _, entry := range tx.history {
		if _, ok := s.tickets[entry.TicketID]; !ok {
			continue
		}
		s.history[entry.TicketID] = append(s.history[entry.TicketID], entry)
	}
}

func (s *memoryTicketStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return &ticket, nil
}

func (s *memoryTicketStore) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	s.mu.RLock()
	result := make([]domain.Ticket, 0)
	for _, ticket := range s.tickets {
		if matchesFilter(ticket, filter) {
			result = append(result, ticket)
		}
	}
	s.mu.RUnlock()

	sortTickets(result)
	return paginate(result, filter.Limit, filter.Offset), nil
}

func (s *memoryTicketStore) StatusCounts(_ context.Context) (StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := StatusCounts{}
	for _, ticket := range s.tickets {
		if counts[ticket.DepartmentCode] == nil {
			counts[ticket.DepartmentCode] = map[domain.TicketStatus]int{}
		}
		counts[ticket.DepartmentCode][ticket.Status]++
	}
	return counts, nil
}

func (s *memoryTicketStore) PeekSequence(_ context.Context, departmentCode string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequences[departmentCode], nil
}

func (s *memoryTicketStore) CountAhead(_ context.Context, ticket *domain.Ticket) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ahead := 0
	for _, other := range s.tickets {
		if other.DepartmentCode == ticket.DepartmentCode &&
			other.Status == domain.TicketStatusWaiting &&
			other.SequenceNumber < ticket.SequenceNumber {
			ahead++
		}
	}
	return ahead, nil
}

func (s *memoryTicketStore) History(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[ticketID]
	out := make([]domain.TicketHistory, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *memoryTicketStore) Ping(context.Context) error {
	return nil
}

// memoryTx buffers writes until commit. A nil entry in writes marks a delete.
type memoryTx struct {
	store      *memoryTicketStore
	code       string
	seq        int64
	seqTouched bool
	writes     map[string]*domain.Ticket
	history    []domain.TicketHistory
}

// department returns the department's tickets as this tx sees them.
func (tx *memoryTx) department() []domain.Ticket {
	tx.store.mu.RLock()
	view := make([]domain.Ticket, 0)
	for id, ticket := range tx.store.tickets {
		if ticket.DepartmentCode != tx.code {
			continue
		}
		if _, overwritten := tx.writes[id]; overwritten {
			continue
		}
		view = append(view, ticket)
	}
	tx.store.mu.RUnlock()

	for _, ticket := range tx.writes {
		if ticket != nil {
			view = append(view, *ticket)
		}
	}
	return view
}

func (tx *memoryTx) NextSequence(_ context.Context) (int64, error) {
	if !tx.seqTouched {
		tx.store.mu.RLock()
		tx.seq = tx.store.sequences[tx.code]
		tx.store.mu.RUnlock()
		tx.seqTouched = true
	}
	tx.seq++
	return tx.seq, nil
}

func (tx *memoryTx) CountLive(_ context.Context) (int, error) {
	live := 0
	for _, ticket := range tx.department() {
		if ticket.Status.IsLive() {
			live++
		}
	}
	return live, nil
}

func (tx *memoryTx) CountLiveByOwner(_ context.Context, ownerID string) (int, error) {
	live := 0
	for _, ticket := range tx.department() {
		if ticket.OwnerID == ownerID && ticket.Status.IsLive() {
			live++
		}
	}
	return live, nil
}

func (tx *memoryTx) Insert(_ context.Context, ticket *domain.Ticket) error {
	if ticket.DepartmentCode != tx.code {
		return fmt.Errorf("insert ticket for %s inside %s unit of work", ticket.DepartmentCode, tx.code)
	}
	for _, existing := range tx.department() {
		if existing.ID == ticket.ID {
			return fmt.Errorf("duplicate ticket id %s", ticket.ID)
		}
		if existing.SequenceNumber == ticket.SequenceNumber {
			return fmt.Errorf("duplicate sequence %s", ticket.DisplayNumber())
		}
	}
	tx.store.mu.RLock()
	_, taken := tx.store.tickets[ticket.ID]
	tx.store.mu.RUnlock()
	if taken {
		return fmt.Errorf("duplicate ticket id %s", ticket.ID)
	}
	copied := *ticket
	tx.writes[ticket.ID] = &copied
	return nil
}

func (tx *memoryTx) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	if written, ok := tx.writes[id]; ok {
		if written == nil {
			return nil, ErrTicketNotFound
		}
		copied := *written
		return &copied, nil
	}
	tx.store.mu.RLock()
	ticket, ok := tx.store.tickets[id]
	tx.store.mu.RUnlock()
	if !ok || ticket.DepartmentCode != tx.code {
		return nil, ErrTicketNotFound
	}
	return &ticket, nil
}

func (tx *memoryTx) InService(_ context.Context) (*domain.Ticket, error) {
	for _, ticket := range tx.department() {
		if ticket.Status == domain.TicketStatusInService {
			found := ticket
			return &found, nil
		}
	}
	return nil, ErrTicketNotFound
}

func (tx *memoryTx) OldestWaiting(_ context.Context) (*domain.Ticket, error) {
	var oldest *domain.Ticket
	for _, ticket := range tx.department() {
		if ticket.Status != domain.TicketStatusWaiting {
			continue
		}
		if oldest == nil || ticket.SequenceNumber < oldest.SequenceNumber {
			candidate := ticket
			oldest = &candidate
		}
	}
	if oldest == nil {
		return nil, ErrTicketNotFound
	}
	return oldest, nil
}

func (tx *memoryTx) Update(ctx context.Context, ticket *domain.Ticket) error {
	current, err := tx.GetByID(ctx, ticket.ID)
	if err != nil {
		return err
	}
	current.Status = ticket.Status
	current.UpdatedAt = ticket.UpdatedAt
	tx.writes[ticket.ID] = current
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id string) error {
	if _, err := tx.GetByID(ctx, id); err != nil {
		return err
	}
	tx.writes[id] = nil
	return nil
}

func (tx *memoryTx) AppendHistory(_ context.Context, entry *domain.TicketHistory) error {
	tx.history = append(tx.history, *entry)
	return nil
}

func matchesFilter(ticket domain.Ticket, filter TicketFilter) bool {
	if filter.DepartmentCode != nil && ticket.DepartmentCode != *filter.DepartmentCode {
		return false
	}
	if filter.DepartmentName != nil && ticket.DepartmentName != *filter.DepartmentName {
		return false
	}
	if filter.OwnerID != nil && ticket.OwnerID != *filter.OwnerID {
		return false
	}
	if len(filter.Statuses) > 0 {
		matched := false
		for _, status := range filter.Statuses {
			if ticket.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func sortTickets(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber < b.SequenceNumber
		}
		return a.ID < b.ID
	})
}

func paginate(tickets []domain.Ticket, limit, offset int) []domain.Ticket {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(tickets) {
		return []domain.Ticket{}
	}
	tickets = tickets[offset:]
	if limit > 0 && limit < len(tickets) {
		tickets = tickets[:limit]
	}
	return tickets
}
