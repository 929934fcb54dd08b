package timer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgLockNotAvailable = "55P03"

// DefaultLockTimeout bounds how long a writer waits for the per-user lock.
const DefaultLockTimeout = 5 * time.Second

// PostgresStore implements Store on the time_tracking table.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a Postgres-backed timer store.
// lockTimeout <= 0 selects DefaultLockTimeout.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, lockTimeout: s.lockTimeout}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ActiveTimer(ctx context.Context, userID int64) (*ActiveTimer, error) {
	var at ActiveTimer
	err := s.pool.QueryRow(ctx, `
		SELECT tt.id, tt.user_id, tt.issue_id, tt.start_time,
		       COALESCE(i.title, ''), COALESCE(i.project_id, 0), COALESCE(p.name, '')
		FROM time_tracking tt
		LEFT JOIN issues i ON i.id = tt.issue_id
		LEFT JOIN projects p ON p.id = i.project_id
		WHERE tt.user_id = $1 AND tt.stop_time IS NULL
		ORDER BY tt.start_time DESC, tt.id DESC
		LIMIT 1
	`, userID).Scan(&at.ID, &at.UserID, &at.IssueID, &at.StartTime, &at.IssueTitle, &at.ProjectID, &at.ProjectName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

func (s *PostgresStore) IssueTotals(ctx context.Context, f StatsFilter) ([]IssueTotal, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("tt.user_id = $%d", len(args)))
	}
	if f.IssueID != 0 {
		args = append(args, f.IssueID)
		where = append(where, fmt.Sprintf("tt.issue_id = $%d", len(args)))
	}
	if f.ProjectID != 0 {
		args = append(args, f.ProjectID)
		where = append(where, fmt.Sprintf("i.project_id = $%d", len(args)))
	}

	q := `
		SELECT tt.issue_id, COALESCE(i.title, ''), COALESCE(i.project_id, 0), COALESCE(p.name, ''),
		       COALESCE(SUM(CASE WHEN tt.stop_time IS NOT NULL THEN tt.stop_time - tt.start_time ELSE 0 END), 0)::BIGINT
		FROM time_tracking tt
		LEFT JOIN issues i ON i.id = tt.issue_id
		LEFT JOIN projects p ON p.id = i.project_id`
	if len(where) > 0 {
		q += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	q += "\n\t\tGROUP BY tt.issue_id, i.title, i.project_id, p.name"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IssueTotal
	for rows.Next() {
		var t IssueTotal
		if err := rows.Scan(&t.IssueID, &t.IssueTitle, &t.ProjectID, &t.ProjectName, &t.TotalSeconds); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Entries(ctx context.Context, issueID int64) ([]Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, issue_id, start_time, stop_time, created_at
		FROM time_tracking
		WHERE issue_id = $1
		ORDER BY start_time DESC, id DESC
	`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx          pgx.Tx
	lockTimeout time.Duration
	timeoutSet  bool
}

// LockUser takes a transaction-scoped advisory lock keyed by user id.
func (t *pgTx) LockUser(ctx context.Context, userID int64) error {
	if !t.timeoutSet {
		ms := fmt.Sprintf("%dms", t.lockTimeout.Milliseconds())
		if _, err := t.tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return err
		}
		t.timeoutSet = true
	}

	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return classifyLockErr(err)
	}
	return nil
}

func (t *pgTx) OpenInterval(ctx context.Context, userID int64) (*Interval, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, user_id, issue_id, start_time, stop_time, created_at
		FROM time_tracking
		WHERE user_id = $1 AND stop_time IS NULL
		ORDER BY start_time DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, userID)
	iv, err := scanInterval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyLockErr(err)
	}
	return &iv, nil
}

func (t *pgTx) GetInterval(ctx context.Context, id int64, forUpdate bool) (Interval, error) {
	q := `
		SELECT id, user_id, issue_id, start_time, stop_time, created_at
		FROM time_tracking
		WHERE id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}

	iv, err := scanInterval(t.tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Interval{}, ErrNotFound
		}
		return Interval{}, classifyLockErr(err)
	}
	return iv, nil
}

func (t *pgTx) InsertInterval(ctx context.Context, iv Interval) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO time_tracking (user_id, issue_id, start_time, stop_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, iv.UserID, iv.IssueID, iv.StartTime, iv.StopTime).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *pgTx) SetTimes(ctx context.Context, id, start int64, stop *int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_tracking SET start_time = $2, stop_time = $3 WHERE id = $1
	`, id, start, stop)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteInterval(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM time_tracking WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInterval(row pgx.Row) (Interval, error) {
	var iv Interval
	err := row.Scan(&iv.ID, &iv.UserID, &iv.IssueID, &iv.StartTime, &iv.StopTime, &iv.CreatedAt)
	return iv, err
}

func classifyLockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}
