package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the persistence contract for the call history ledger.
//
// Lifecycle fields are append-mostly: rows are created once, moved forward by
// state-conditional writes, and never deleted. Every mutating method takes
// the expected current state and reports whether the write landed, which is
// the whole concurrency model: racing operations are decided by whichever
// conditional write wins, not by locks.
type Repository interface {
	Create(ctx context.Context, a CallAttempt) error
	Get(ctx context.Context, attemptID string) (CallAttempt, error)

	// Transition moves the attempt from -> to only if its persisted state
	// still equals from at the instant of the write.
	Transition(ctx context.Context, attemptID string, from, to State, now time.Time) (bool, error)

	// MarkEnded is the CONNECTED -> ENDED conditional write. It records
	// endedAt and the duration exactly once; a loser of the race must read
	// the previously recorded duration instead.
	MarkEnded(ctx context.Context, attemptID string, endedAt time.Time, durationSeconds int) (bool, error)

	ListByParty(ctx context.Context, tenantID, partyID string, limit int) ([]CallAttempt, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]CallAttempt, error)
}

var ErrNotFound = errors.New("calls: attempt not found")

// PostgresRepo stores attempts in the call_attempts table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const attemptColumns = `attempt_id, tenant_id, caller_id, callee_id, caller_name, callee_name,
	room_name, state, direction, started_at, ended_at, duration_seconds, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, a CallAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_attempts (`+attemptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.AttemptID, a.TenantID, a.CallerID, a.CalleeID, a.CallerName, a.CalleeName,
		a.RoomName, a.State, a.Direction, a.StartedAt, a.EndedAt, a.DurationSeconds,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("calls: insert attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, attemptID string) (CallAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE attempt_id = $1`, attemptID)
	return scanAttempt(row)
}

func (r *PostgresRepo) Transition(ctx context.Context, attemptID string, from, to State, now time.Time) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("calls: illegal transition %s -> %s", from, to)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_attempts
		SET state = $1, updated_at = $2
		WHERE attempt_id = $3 AND state = $4`,
		to, now, attemptID, from,
	)
	if err != nil {
		return false, fmt.Errorf("calls: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) MarkEnded(ctx context.Context, attemptID string, endedAt time.Time, durationSeconds int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_attempts
		SET state = $1, ended_at = $2, duration_seconds = $3, updated_at = $2
		WHERE attempt_id = $4 AND state = $5`,
		StateEnded, endedAt, durationSeconds, attemptID, StateConnected,
	)
	if err != nil {
		return false, fmt.Errorf("calls: mark ended: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ListByParty(ctx context.Context, tenantID, partyID string, limit int) ([]CallAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE tenant_id = $1 AND (caller_id = $2 OR callee_id = $2)
		ORDER BY started_at DESC
		LIMIT $3`, tenantID, partyID, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list by party: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (r *PostgresRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]CallAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list by tenant: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (CallAttempt, error) {
	var a CallAttempt
	var endedAt sql.NullTime
	var duration sql.NullInt64
	err := row.Scan(
		&a.AttemptID, &a.TenantID, &a.CallerID, &a.CalleeID, &a.CallerName, &a.CalleeName,
		&a.RoomName, &a.State, &a.Direction, &a.StartedAt, &endedAt, &duration,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallAttempt{}, ErrNotFound
	}
	if err != nil {
		return CallAttempt{}, fmt.Errorf("calls: scan attempt: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		a.DurationSeconds = &d
	}
	return a, nil
}

func collectAttempts(rows *sql.Rows) ([]CallAttempt, error) {
	var out []CallAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
