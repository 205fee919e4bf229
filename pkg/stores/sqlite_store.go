package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record. An empty ID is filled with a UUID
// and a zero StartedAt with the current time.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	query := `
		INSERT INTO runs (id, command, source, mode, status, started_at, completed_at, error, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Command,
		run.Source,
		run.Mode,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the final status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string, summary *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, summary = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, command, source, mode, status, started_at, completed_at, error, summary
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, command, source, mode, status, started_at, completed_at, error, summary
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its operations
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Command,
		&run.Source,
		&run.Mode,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Summary,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// AppendOperation appends an operation to the journal. An empty ID is
// filled with a UUID and a zero CreatedAt with the current time.
func (s *SQLiteStore) AppendOperation(ctx context.Context, op *Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO operations (
			id, run_id, kind, entity_id, unique_key, action, detail,
			idempotency_key, status, error, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.RunID,
		op.Kind,
		op.EntityID,
		op.UniqueKey,
		op.Action,
		op.Detail,
		op.IdempotencyKey,
		op.Status,
		op.Error,
		op.DurationMS,
		op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}

	return nil
}

// ListOperations lists operations matching filter, newest first
func (s *SQLiteStore) ListOperations(ctx context.Context, filter OperationFilter) ([]*Operation, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `
		SELECT id, run_id, kind, entity_id, unique_key, action, detail,
		       idempotency_key, status, error, duration_ms, created_at
		FROM operations
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR kind = ?)
		  AND (? IS NULL OR entity_id = ?)
		  AND (? IS NULL OR action = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.RunID, filter.RunID,
		filter.Kind, filter.Kind,
		filter.EntityID, filter.EntityID,
		filter.Action, filter.Action,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []*Operation{}
	for rows.Next() {
		op := &Operation{}
		err := rows.Scan(
			&op.ID,
			&op.RunID,
			&op.Kind,
			&op.EntityID,
			&op.UniqueKey,
			&op.Action,
			&op.Detail,
			&op.IdempotencyKey,
			&op.Status,
			&op.Error,
			&op.DurationMS,
			&op.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// UpsertSnapshot stores the last applied state of an entity. changed
// reports whether the stored hash differed or no snapshot existed.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *Snapshot) (bool, error) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	if snap.Hash == "" {
		snap.Hash = HashState([]byte(snap.State))
	}

	var previous string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM snapshots WHERE kind = ? AND unique_key = ?`,
		snap.Kind, snap.UniqueKey,
	).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	query := `
		INSERT INTO snapshots (kind, unique_key, entity_id, state, hash, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, unique_key) DO UPDATE SET
			entity_id = excluded.entity_id,
			state = excluded.state,
			hash = excluded.hash,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		snap.Kind,
		snap.UniqueKey,
		snap.EntityID,
		snap.State,
		snap.Hash,
		snap.RunID,
		snap.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return previous != snap.Hash, nil
}

// GetSnapshot retrieves the snapshot of an entity by kind and unique key
func (s *SQLiteStore) GetSnapshot(ctx context.Context, kind, uniqueKey string) (*Snapshot, error) {
	query := `
		SELECT kind, unique_key, entity_id, state, hash, run_id, updated_at
		FROM snapshots
		WHERE kind = ? AND unique_key = ?
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, kind, uniqueKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s/%s: %w", kind, uniqueKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return snap, nil
}

// ListSnapshots lists snapshots, optionally of one kind
func (s *SQLiteStore) ListSnapshots(ctx context.Context, kind *string, limit, offset int) ([]*Snapshot, error) {
	query := `
		SELECT kind, unique_key, entity_id, state, hash, run_id, updated_at
		FROM snapshots
		WHERE (? IS NULL OR kind = ?)
		ORDER BY kind, unique_key
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, kind, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// DeleteSnapshot removes the snapshot of an entity. A missing snapshot is
// not an error.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, kind, uniqueKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE kind = ? AND unique_key = ?`, kind, uniqueKey)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	snap := &Snapshot{}
	err := row.Scan(
		&snap.Kind,
		&snap.UniqueKey,
		&snap.EntityID,
		&snap.State,
		&snap.Hash,
		&snap.RunID,
		&snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
