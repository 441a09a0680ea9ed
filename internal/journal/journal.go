// Package journal keeps a local SQLite record of connection state changes
// and completed remote operations. It is the history behind the "history"
// and "status" commands, and it implements bridge.Recorder.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/connection"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQL statements.
const (
	sqlInsertEvent = `INSERT INTO connection_events
		(phase, detail, code, resolvable, account_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlInsertOperation = `INSERT INTO operations
		(id, op, resource, code, message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	sqlRecentEvents = `SELECT id, phase, detail, code, resolvable, account_id, recorded_at
		FROM connection_events ORDER BY recorded_at DESC, id DESC LIMIT ?`

	sqlRecentOperations = `SELECT id, op, resource, code, message, started_at, duration_ms
		FROM operations
		WHERE (? = 0 OR code != 0) AND (? = '' OR op = ?)
		ORDER BY started_at DESC LIMIT ?`

	sqlPruneEvents     = `DELETE FROM connection_events WHERE recorded_at < ?`
	sqlPruneOperations = `DELETE FROM operations WHERE started_at < ?`
)

// DefaultLimit bounds listings when the caller passes a non-positive limit.
const DefaultLimit = 50

// Event is one recorded connection state.
type Event struct {
	ID         int64
	Phase      connection.Phase
	Detail     string
	Code       remote.StatusCode // zero unless the state carries a failure
	Resolvable bool
	AccountID  string
	RecordedAt time.Time
}

// OperationFilter narrows RecentOperations.
type OperationFilter struct {
	Limit      int
	FailedOnly bool
	Op         string // exact operation name; empty matches all
}

// Journal is the sole writer to the journal database.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the journal database at dbPath and
// applies pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("journal: creating directory for %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("db_path", dbPath))

	return &Journal{db: db, logger: logger, nowFunc: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// RecordState appends one connection state.
func (j *Journal) RecordState(ctx context.Context, st connection.State) error {
	var (
		code       remote.StatusCode
		resolvable bool
		accountID  sql.NullString
	)

	switch s := st.(type) {
	case connection.Connected:
		accountID = sql.NullString{String: s.Session.AccountID, Valid: s.Session.AccountID != ""}
	case connection.Failed:
		code, resolvable = s.Failure.Code, s.Failure.HasResolution
	case connection.UnableToResolve:
		code = s.Failure.Code
	}

	_, err := j.db.ExecContext(ctx, sqlInsertEvent,
		connection.PhaseOf(st).String(), st.String(), int(code), resolvable, accountID,
		j.nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("journal: recording state: %w", err)
	}

	return nil
}

// RecordOperation stores one completed operation. Recording the same ID
// twice keeps the first record.
func (j *Journal) RecordOperation(ctx context.Context, rec bridge.OperationRecord) error {
	_, err := j.db.ExecContext(ctx, sqlInsertOperation,
		rec.ID, rec.Op, rec.Resource, int(rec.Code), rec.Message,
		rec.StartedAt.UnixNano(), rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("journal: recording operation %s: %w", rec.Op, err)
	}

	return nil
}

// Follow records every state read from states until the channel closes
// or ctx is done. Write failures are logged and do not stop the loop.
func (j *Journal) Follow(ctx context.Context, states <-chan connection.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}

			if err := j.RecordState(ctx, st); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.Warn("journal write failed",
					slog.String("state", st.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RecentStates returns up to limit states, newest first.
func (j *Journal) RecentStates(ctx context.Context, limit int) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, sqlRecentEvents, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: listing states: %w", err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			e         Event
			phase     string
			code      int
			accountID sql.NullString
			at        int64
		)

		if err := rows.Scan(&e.ID, &phase, &e.Detail, &code, &e.Resolvable, &accountID, &at); err != nil {
			return nil, fmt.Errorf("journal: scanning state: %w", err)
		}

		e.Phase = parsePhase(phase)
		e.Code = remote.StatusCode(code)
		e.AccountID = accountID.String
		e.RecordedAt = time.Unix(0, at)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating states: %w", err)
	}

	return events, nil
}

// RecentOperations returns operations matching f, newest first.
func (j *Journal) RecentOperations(ctx context.Context, f OperationFilter) ([]bridge.OperationRecord, error) {
	failedOnly := 0
	if f.FailedOnly {
		failedOnly = 1
	}

	rows, err := j.db.QueryContext(ctx, sqlRecentOperations, failedOnly, f.Op, f.Op, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("journal: listing operations: %w", err)
	}
	defer rows.Close()

	var records []bridge.OperationRecord

	for rows.Next() {
		var (
			rec        bridge.OperationRecord
			code       int
			started    int64
			durationMS int64
		)

		if err := rows.Scan(&rec.ID, &rec.Op, &rec.Resource, &code, &rec.Message, &started, &durationMS); err != nil {
			return nil, fmt.Errorf("journal: scanning operation: %w", err)
		}

		rec.Code = remote.StatusCode(code)
		rec.StartedAt = time.Unix(0, started)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating operations: %w", err)
	}

	return records, nil
}

// Prune deletes everything recorded before now minus retention and returns
// the number of rows removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := j.nowFunc().Add(-retention).UnixNano()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal: beginning prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	var total int64

	for _, stmt := range []string{sqlPruneEvents, sqlPruneOperations} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("journal: pruning: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("journal: pruning: %w", err)
		}

		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal: committing prune: %w", err)
	}

	if total > 0 {
		j.logger.Info("journal pruned", slog.Int64("rows", total))
	}

	return total, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: closing database: %w", err)
	}

	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}

	return limit
}

func parsePhase(s string) connection.Phase {
	for p := connection.PhaseDisconnected; p <= connection.PhaseUnableToResolve; p++ {
		if p.String() == s {
			return p
		}
	}

	return connection.PhaseDisconnected
}
