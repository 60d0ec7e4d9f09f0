package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/queue-service/internal/domain"
	"github.com/spec-kit/queue-service/internal/repository"
)

func TestCapacityGuard(t *testing.T) {
	store := repository.NewMemoryTicketStore()
	allocator := NewSequenceAllocator(store)
	guard := NewCapacityGuard(0)
	ctx := context.Background()
	dept := domain.Department{Code: "PH", Name: "Printing House", Capacity: 2}

	admit := func(status domain.TicketStatus) Admission {
		var admission Admission
		err := store.WithDepartment(ctx, dept.Code, func(tx repository.DepartmentTx) error {
			var err error
			admission, err = guard.CheckAdmit(ctx, tx, dept)
			if err != nil || !admission.Admitted {
				return err
			}
			seq, err := allocator.Allocate(ctx, tx)
			if err != nil {
				return err
			}
			now := time.Now()
			return tx.Insert(ctx, &domain.Ticket{
				ID:             uuid.NewString(),
				DepartmentCode: dept.Code,
				DepartmentName: dept.Name,
				SequenceNumber: seq,
				Status:         status,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		})
		require.NoError(t, err)
		return admission
	}

	assert.Equal(t, Admission{Admitted: true, Live: 0, Capacity: 2}, admit(domain.TicketStatusCompleted))
	assert.Equal(t, Admission{Admitted: true, Live: 0, Capacity: 2}, admit(domain.TicketStatusPending))
	assert.Equal(t, Admission{Admitted: true, Live: 1, Capacity: 2}, admit(domain.TicketStatusWaiting))
	assert.Equal(t, Admission{Admitted: false, Live: 2, Capacity: 2}, admit(domain.TicketStatusPending))

	next, err := allocator.Peek(ctx, dept.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)

	assert.Equal(t, DefaultCapacity, guard.capacityOf(domain.Department{Code: "X"}))
}
