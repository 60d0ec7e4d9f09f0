package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/queue-service/internal/repository"
)

// SequenceAllocator hands out per-department ticket numbers. Numbers come from
// the department counter row incremented inside the caller's unit of work, so
// they commit or roll back together with the ticket that uses them.
type SequenceAllocator struct {
	store repository.TicketStore
}

// NewSequenceAllocator constructs the allocator.
func NewSequenceAllocator(store repository.TicketStore) *SequenceAllocator {
	return &SequenceAllocator{store: store}
}

// Allocate returns the next number for the department tx is scoped to.
func (a *SequenceAllocator) Allocate(ctx context.Context, tx repository.DepartmentTx) (int64, error) {
	next, err := tx.NextSequence(ctx)
	if err != nil {
		return 0, err
	}
	if next < 1 {
		return 0, fmt.Errorf("department counter returned %d", next)
	}
	return next, nil
}

// Peek returns the number the next committed ticket would receive. Nothing is
// reserved; a concurrent create may take it first.
func (a *SequenceAllocator) Peek(ctx context.Context, departmentCode string) (int64, error) {
	last, err := a.store.PeekSequence(ctx, departmentCode)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}
