package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/queue-service/internal/domain"
)

type sqliteTicketStore struct {
	db   *sql.DB
	read *sql.DB
}

// NewSQLiteTicketStore builds a store on the handles opened by
// persistence.OpenSQLite. db carries units of work; SQLite admits one writer
// at a time, so units of work for different departments also queue behind
// each other. Reads go through read and see the last committed state. A nil
// read falls back to db, in which case reads wait for any open unit of work.
func NewSQLiteTicketStore(db, read *sql.DB) TicketStore {
	if read == nil {
		read = db
	}
	return &sqliteTicketStore{db: db, read: read}
}

func (s *sqliteTicketStore) WithDepartment(ctx context.Context, departmentCode string, fn func(tx DepartmentTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin department tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx, code: departmentCode}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit department tx: %w", err)
	}
	return nil
}

func (s *sqliteTicketStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=?`
	return scanSQLiteTicket(s.read.QueryRowContext(ctx, query, id))
}

func (s *sqliteTicketStore) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.DepartmentCode != nil {
		clauses = append(clauses, "department_code=?")
		args = append(args, *filter.DepartmentCode)
	}
	if filter.DepartmentName != nil {
		clauses = append(clauses, "department_name=?")
		args = append(args, *filter.DepartmentName)
	}
	if filter.OwnerID != nil {
		clauses = append(clauses, "owner_id=?")
		args = append(args, *filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at ASC, sequence_number ASC, id ASC`,
		ticketColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))
	}

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanSQLiteTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (s *sqliteTicketStore) StatusCounts(ctx context.Context) (StatusCounts, error) {
	const query = `SELECT department_code, status, COUNT(*) FROM tickets GROUP BY department_code, status`
	rows, err := s.read.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var (
			code   string
			status string
			n      int
		)
		if err := rows.Scan(&code, &status, &n); err != nil {
			return nil, err
		}
		if counts[code] == nil {
			counts[code] = map[domain.TicketStatus]int{}
		}
		counts[code][domain.TicketStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *sqliteTicketStore) PeekSequence(ctx context.Context, departmentCode string) (int64, error) {
	const query = `SELECT last_value FROM department_sequences WHERE department_code=?`
	var last int64
	err := s.read.QueryRowContext(ctx, query, departmentCode).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return last, err
}

func (s *sqliteTicketStore) CountAhead(ctx context.Context, ticket *domain.Ticket) (int, error) {
	const query = `
        SELECT COUNT(*) FROM tickets
        WHERE department_code=? AND status=? AND sequence_number < ?`
	var ahead int
	err := s.read.QueryRowContext(ctx, query, ticket.DepartmentCode, string(domain.TicketStatusWaiting), ticket.SequenceNumber).Scan(&ahead)
	return ahead, err
}

func (s *sqliteTicketStore) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, changed_by_type, changed_by_id, change_type, old_status, new_status, created_at
        FROM ticket_history WHERE ticket_id=? ORDER BY entry_no ASC`
	rows, err := s.read.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketHistory{}
	for rows.Next() {
		var (
			entry                                   domain.TicketHistory
			changedByType, changeType, oldSt, newSt string
			createdAt                               int64
		)
		if err := rows.Scan(&entry.ID, &entry.TicketID, &changedByType, &entry.ChangedByID, &changeType, &oldSt, &newSt, &createdAt); err != nil {
			return nil, err
		}
		entry.ChangedByType = domain.SubjectType(changedByType)
		entry.ChangeType = domain.TicketChangeType(changeType)
		entry.OldStatus = domain.TicketStatus(oldSt)
		entry.NewStatus = domain.TicketStatus(newSt)
		entry.CreatedAt = fromUnixNano(createdAt)
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *sqliteTicketStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqliteTx struct {
	tx   *sql.Tx
	code string
}

func (t *sqliteTx) NextSequence(ctx context.Context) (int64, error) {
	const query = `
        INSERT INTO department_sequences (department_code, last_value) VALUES (?, 1)
        ON CONFLICT (department_code) DO UPDATE SET last_value = last_value + 1
        RETURNING last_value`
	var next int64
	if err := t.tx.QueryRowContext(ctx, query, t.code).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}
	return next, nil
}

func (t *sqliteTx) CountLive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE department_code=? AND status IN (?,?,?)`
	var live int
	err := t.tx.QueryRowContext(ctx, query, liveArgs(t.code)...).Scan(&live)
	return live, err
}

func (t *sqliteTx) CountLiveByOwner(ctx context.Context, ownerID string) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE owner_id=? AND department_code=? AND status IN (?,?,?)`
	args := append([]any{ownerID}, liveArgs(t.code)...)
	var live int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&live)
	return live, err
}

func (t *sqliteTx) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, department_code, department_name, sequence_number, owner_id, status, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?)`
	_, err := t.tx.ExecContext(ctx, query,
		ticket.ID,
		ticket.DepartmentCode,
		ticket.DepartmentName,
		ticket.SequenceNumber,
		ticket.OwnerID,
		string(ticket.Status),
		ticket.CreatedAt.UnixNano(),
		ticket.UpdatedAt.UnixNano(),
	)
	return err
}

func (t *sqliteTx) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=? AND department_code=?`
	return scanSQLiteTicket(t.tx.QueryRowContext(ctx, query, id, t.code))
}

func (t *sqliteTx) InService(ctx context.Context) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE department_code=? AND status=? LIMIT 1`
	return scanSQLiteTicket(t.tx.QueryRowContext(ctx, query, t.code, string(domain.TicketStatusInService)))
}

func (t *sqliteTx) OldestWaiting(ctx context.Context) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE department_code=? AND status=?
        ORDER BY sequence_number ASC LIMIT 1`
	return scanSQLiteTicket(t.tx.QueryRowContext(ctx, query, t.code, string(domain.TicketStatusWaiting)))
}

func (t *sqliteTx) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `UPDATE tickets SET status=?, updated_at=? WHERE id=? AND department_code=?`
	res, err := t.tx.ExecContext(ctx, query, string(ticket.Status), ticket.UpdatedAt.UnixNano(), ticket.ID, t.code)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *sqliteTx) Delete(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tickets WHERE id=? AND department_code=?`, id, t.code)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *sqliteTx) AppendHistory(ctx context.Context, entry *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, changed_by_type, changed_by_id, change_type, old_status, new_status, created_at)
        VALUES (?,?,?,?,?,?,?,?)`
	_, err := t.tx.ExecContext(ctx, query,
		entry.ID,
		entry.TicketID,
		string(entry.ChangedByType),
		entry.ChangedByID,
		string(entry.ChangeType),
		string(entry.OldStatus),
		string(entry.NewStatus),
		entry.CreatedAt.UnixNano(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket               domain.Ticket
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.DepartmentCode,
		&ticket.DepartmentName,
		&ticket.SequenceNumber,
		&ticket.OwnerID,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	ticket.CreatedAt = fromUnixNano(createdAt)
	ticket.UpdatedAt = fromUnixNano(updatedAt)
	return &ticket, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func liveArgs(code string) []any {
	args := []any{code}
	for _, status := range domain.LiveStatuses {
		args = append(args, string(status))
	}
	return args
}

func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
