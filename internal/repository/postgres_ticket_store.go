package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/queue-service/internal/domain"
)

const ticketColumns = `id, department_code, department_name, sequence_number, owner_id, status, created_at, updated_at`

type postgresTicketStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketStore builds a store on the shared pgx pool. Units of work
// lock the department's row in department_sequences, so only callers of the
// same department queue behind each other.
func NewPostgresTicketStore(pool *pgxpool.Pool) TicketStore {
	return &postgresTicketStore{pool: pool}
}

func (s *postgresTicketStore) WithDepartment(ctx context.Context, departmentCode string, fn func(tx DepartmentTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin department tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const ensure = `
        INSERT INTO department_sequences (department_code, last_value)
        VALUES ($1, 0)
        ON CONFLICT (department_code) DO NOTHING`
	if _, err := tx.Exec(ctx, ensure, departmentCode); err != nil {
		return fmt.Errorf("ensure department sequence: %w", err)
	}
	const lock = `SELECT last_value FROM department_sequences WHERE department_code=$1 FOR UPDATE`
	var last int64
	if err := tx.QueryRow(ctx, lock, departmentCode).Scan(&last); err != nil {
		return fmt.Errorf("lock department %s: %w", departmentCode, err)
	}

	if err := fn(&postgresTx{tx: tx, code: departmentCode}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit department tx: %w", err)
	}
	return nil
}

func (s *postgresTicketStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(s.pool.QueryRow(ctx, query, id))
}

func (s *postgresTicketStore) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.DepartmentCode != nil {
		args = append(args, *filter.DepartmentCode)
		clauses = append(clauses, fmt.Sprintf("department_code=$%d", len(args)))
	}
	if filter.DepartmentName != nil {
		args = append(args, *filter.DepartmentName)
		clauses = append(clauses, fmt.Sprintf("department_name=$%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at ASC, sequence_number ASC, id ASC`,
		ticketColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (s *postgresTicketStore) StatusCounts(ctx context.Context) (StatusCounts, error) {
	const query = `SELECT department_code, status, COUNT(*) FROM tickets GROUP BY department_code, status`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var (
			code   string
			status domain.TicketStatus
			n      int
		)
		if err := rows.Scan(&code, &status, &n); err != nil {
			return nil, err
		}
		if counts[code] == nil {
			counts[code] = map[domain.TicketStatus]int{}
		}
		counts[code][status] = n
	}
	return counts, rows.Err()
}

func (s *postgresTicketStore) PeekSequence(ctx context.Context, departmentCode string) (int64, error) {
	const query = `SELECT last_value FROM department_sequences WHERE department_code=$1`
	var last int64
	err := s.pool.QueryRow(ctx, query, departmentCode).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return last, err
}

func (s *postgresTicketStore) CountAhead(ctx context.Context, ticket *domain.Ticket) (int, error) {
	const query = `
        SELECT COUNT(*) FROM tickets
        WHERE department_code=$1 AND status=$2 AND sequence_number < $3`
	var ahead int
	err := s.pool.QueryRow(ctx, query, ticket.DepartmentCode, string(domain.TicketStatusWaiting), ticket.SequenceNumber).Scan(&ahead)
	return ahead, err
}

func (s *postgresTicketStore) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, changed_by_type, changed_by_id, change_type, old_status, new_status, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY entry_no ASC`
	rows, err := s.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketHistory{}
	for rows.Next() {
		var entry domain.TicketHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.ChangedByType,
			&entry.ChangedByID,
			&entry.ChangeType,
			&entry.OldStatus,
			&entry.NewStatus,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *postgresTicketStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type postgresTx struct {
	tx   pgx.Tx
	code string
}

func (t *postgresTx) NextSequence(ctx context.Context) (int64, error) {
	const query = `
        UPDATE department_sequences SET last_value = last_value + 1
        WHERE department_code=$1
        RETURNING last_value`
	var next int64
	if err := t.tx.QueryRow(ctx, query, t.code).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}
	return next, nil
}

func (t *postgresTx) CountLive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE department_code=$1 AND status = ANY($2)`
	var live int
	err := t.tx.QueryRow(ctx, query, t.code, liveStatusStrings()).Scan(&live)
	return live, err
}

func (t *postgresTx) CountLiveByOwner(ctx context.Context, ownerID string) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE department_code=$1 AND owner_id=$2 AND status = ANY($3)`
	var live int
	err := t.tx.QueryRow(ctx, query, t.code, ownerID, liveStatusStrings()).Scan(&live)
	return live, err
}

func (t *postgresTx) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, department_code, department_name, sequence_number, owner_id, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := t.tx.Exec(ctx, query,
		ticket.ID,
		ticket.DepartmentCode,
		ticket.DepartmentName,
		ticket.SequenceNumber,
		ticket.OwnerID,
		string(ticket.Status),
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	return err
}

func (t *postgresTx) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 AND department_code=$2`
	return scanTicket(t.tx.QueryRow(ctx, query, id, t.code))
}

func (t *postgresTx) InService(ctx context.Context) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE department_code=$1 AND status=$2 LIMIT 1`
	return scanTicket(t.tx.QueryRow(ctx, query, t.code, string(domain.TicketStatusInService)))
}

func (t *postgresTx) OldestWaiting(ctx context.Context) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE department_code=$1 AND status=$2
        ORDER BY sequence_number ASC LIMIT 1`
	return scanTicket(t.tx.QueryRow(ctx, query, t.code, string(domain.TicketStatusWaiting)))
}

func (t *postgresTx) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `UPDATE tickets SET status=$1, updated_at=$2 WHERE id=$3 AND department_code=$4`
	cmd, err := t.tx.Exec(ctx, query, string(ticket.Status), ticket.UpdatedAt, ticket.ID, t.code)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM tickets WHERE id=$1 AND department_code=$2`
	cmd, err := t.tx.Exec(ctx, query, id, t.code)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (t *postgresTx) AppendHistory(ctx context.Context, entry *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, changed_by_type, changed_by_id, change_type, old_status, new_status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := t.tx.Exec(ctx, query,
		entry.ID,
		entry.TicketID,
		string(entry.ChangedByType),
		entry.ChangedByID,
		string(entry.ChangeType),
		string(entry.OldStatus),
		string(entry.NewStatus),
		entry.CreatedAt,
	)
	return err
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.DepartmentCode,
		&ticket.DepartmentName,
		&ticket.SequenceNumber,
		&ticket.OwnerID,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.DepartmentCode,
			&ticket.DepartmentName,
			&ticket.SequenceNumber,
			&ticket.OwnerID,
			&ticket.Status,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func liveStatusStrings() []string {
	out := make([]string, len(domain.LiveStatuses))
	for i, status := range domain.LiveStatuses {
		out[i] = string(status)
	}
	return out
}
