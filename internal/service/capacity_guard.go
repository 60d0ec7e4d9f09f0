package service

import (
	"context"

	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/repository"
)

// DefaultCapacity applies to departments configured without a limit.
const DefaultCapacity = 30

// Admission is the outcome of a capacity check.
type Admission struct {
	Admitted bool
	Live     int
	Capacity int
}

// CapacityGuard rejects new tickets once a department's live count reaches
// its capacity. It must run inside the same unit of work as the insert.
type CapacityGuard struct {
	defaultCapacity int
}

// NewCapacityGuard constructs the guard.
func NewCapacityGuard(defaultCapacity int) *CapacityGuard {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultCapacity
	}
	return &CapacityGuard{defaultCapacity: defaultCapacity}
}

// CheckAdmit counts live tickets through tx and compares against capacity.
func (g *CapacityGuard) CheckAdmit(ctx context.Context, tx repository.DepartmentTx, dept domain.Department) (Admission, error) {
	capacity := g.capacityOf(dept)
	live, err := tx.CountLive(ctx)
	if err != nil {
		return Admission{}, err
	}
	return Admission{
		Admitted: live < capacity,
		Live:     live,
		Capacity: capacity,
	}, nil
}

func (g *CapacityGuard) capacityOf(dept domain.Department) int {
	if dept.Capacity > 0 {
		return dept.Capacity
	}
	return g.defaultCapacity
}
