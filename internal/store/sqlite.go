package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/offload/internal/model"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    task        TEXT NOT NULL,
    mode        TEXT NOT NULL,
    boundary    TEXT NOT NULL,
    state       TEXT NOT NULL,
    args        BLOB,
    context     BLOB,
    result      BLOB,
    error_kind  TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    exit_code   INTEGER,
    steps       INTEGER NOT NULL DEFAULT 0,
    timeout_ms  INTEGER,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS execution_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL REFERENCES executions(id),
    seq          INTEGER NOT NULL,
    type         TEXT NOT NULL,
    data         TEXT NOT NULL,
    created_at   DATETIME NOT NULL
)`

const createEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_execution_events_execution
    ON execution_events (execution_id, seq)`

const executionColumns = `id, task, mode, boundary, state, args, context, result,
	error_kind, error, exit_code, steps, timeout_ms, duration_ms,
	created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createExecutionsTable, createEventsTable, createEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*model.Execution, error) {
	e := &model.Execution{}
	var args, vars, result []byte
	err := row.Scan(
		&e.ID, &e.Task, &e.Mode, &e.Boundary, &e.State, &args, &vars, &result,
		&e.ErrorKind, &e.Error, &e.ExitCode, &e.Steps, &e.TimeoutMS, &e.DurationMS,
		&e.CreatedAt, &e.StartedAt, &e.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Args, e.Context, e.Result = args, vars, result
	return e, nil
}

// nullable stores an empty JSON document as NULL.
func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Task, e.Mode, e.Boundary, e.State,
		nullable(e.Args), nullable(e.Context), nullable(e.Result),
		e.ErrorKind, e.Error, e.ExitCode, e.Steps, e.TimeoutMS, e.DurationMS,
		e.CreatedAt, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns a page of executions ordered by created_at DESC,
// along with the total count of all executions.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return executions, total, nil
}

// currentState reads an execution's state inside tx.
func currentState(ctx context.Context, tx *sql.Tx, id string) (model.State, error) {
	var state model.State
	err := tx.QueryRowContext(ctx, "SELECT state FROM executions WHERE id = ?", id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read state: %w", err)
	}
	return state, nil
}

// UpdateExecutionState moves an execution to state. Entering running sets
// started_at; entering a terminal state sets finished_at.
func (s *SQLiteStore) UpdateExecutionState(ctx context.Context, id string, state model.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentState(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, state) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, state)
	}

	now := time.Now().UTC()
	switch {
	case state == model.StateRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE executions SET state = ?, started_at = ? WHERE id = ?", state, now, id)
	case state.Terminal():
		_, err = tx.ExecContext(ctx,
			"UPDATE executions SET state = ?, finished_at = ? WHERE id = ?", state, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE executions SET state = ? WHERE id = ?", state, id)
	}
	if err != nil {
		return fmt.Errorf("update execution state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateExecution writes every mutable field of e. A state change must be a
// valid transition.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, e *model.Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentState(ctx, tx, e.ID)
	if err != nil {
		return err
	}
	if from != e.State && !model.ValidTransition(from, e.State) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, e.State)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE executions SET
			state = ?, result = ?, error_kind = ?, error = ?, exit_code = ?,
			steps = ?, duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		e.State, nullable(e.Result), e.ErrorKind, e.Error, e.ExitCode,
		e.Steps, e.DurationMS, e.StartedAt, e.FinishedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetExecutionStats aggregates the journal.
func (s *SQLiteStore) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{
		CountByState:    make(map[string]int),
		CountByTask:     make(map[string]int),
		CountByBoundary: make(map[string]int),
	}

	var avg sql.NullFloat64
	var steps sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms), SUM(steps) FROM executions",
	).Scan(&stats.Total, &avg, &steps)
	if err != nil {
		return nil, fmt.Errorf("aggregate executions: %w", err)
	}
	stats.AvgDurationMS = avg.Float64
	stats.TotalSteps = int(steps.Int64)

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"state", stats.CountByState},
		{"task", stats.CountByTask},
		{"boundary", stats.CountByBoundary},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, g.into); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// countBy fills into with execution counts grouped by column. column is
// always one of a fixed set of names.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM executions GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate count by %s: %w", column, err)
	}
	return nil
}

// InsertEvent appends an event to an execution's history and sets ev.ID.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_events (execution_id, seq, type, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ExecutionID, ev.Seq, ev.Type, ev.Data, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	ev.ID = id
	return nil
}

// GetEvents returns an execution's events in sequence order.
func (s *SQLiteStore) GetEvents(ctx context.Context, executionID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, seq, type, data, created_at
		FROM execution_events WHERE execution_id = ? ORDER BY seq, id`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.Seq, &ev.Type, &ev.Data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
