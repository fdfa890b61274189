package containerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"csync-go/internal/containerdb/migrations"
	"csync-go/internal/csync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the ContainerStore interface using SQLite. Each
// container is a row plus an append-only version history; entries are
// stored per (container, seq). A commit happens in a single transaction
// with a compare-and-swap on the container's current version id, so
// concurrent writers fail with a ConflictError instead of interleaving.
type SQLiteStore struct {
	db    *sql.DB
	clock csync.Clock
	idgen csync.IDGenerator
}

// NewSQLiteStore opens a container store at the given path.
// path can be a file path or ":memory:" for an in-memory store.
func NewSQLiteStore(path string, clock csync.Clock, idgen csync.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = csync.RealClock{}
	}
	if idgen == nil {
		idgen = csync.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, clock: clock, idgen: idgen}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to a plain :memory: DSN would get its own
	// empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Foreign keys are OFF by default in SQLite.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate brings the schema to the latest version.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateContainer allocates a new empty container and returns its address.
func (s *SQLiteStore) CreateContainer(ctx context.Context) (string, error) {
	address := s.idgen.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO containers (address, created_at) VALUES (?, ?)",
		address, s.clock.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return address, nil
}

// Fetch returns the requested version of a container, or (nil, nil) when
// the container exists but has no version yet. An empty versionID resolves
// to the latest version. A fetch for an unknown address fails with
// ErrContainerNotFound on the first lookup; it is never retried here.
func (s *SQLiteStore) Fetch(ctx context.Context, address, versionID string) (*csync.Version, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM containers WHERE address = ?", address).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("looking up container: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", csync.ErrContainerNotFound, address)
	}

	var row *sql.Row
	if versionID == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT seq, id, prior_id, committed_at FROM versions
			 WHERE container_address = ? ORDER BY seq DESC LIMIT 1`, address)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT seq, id, prior_id, committed_at FROM versions
			 WHERE container_address = ? AND id = ? ORDER BY seq DESC LIMIT 1`, address, versionID)
	}

	version := &csync.Version{Map: csync.ContainerMap{}}
	err = row.Scan(&version.Seq, &version.ID, &version.PriorID, &version.CommittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if versionID != "" {
			return nil, fmt.Errorf("%w: %s", csync.ErrVersionNotFound, versionID)
		}
		// Container exists but holds no version yet.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_id, size, media_type, created_at, modified_at
		 FROM entries WHERE container_address = ? AND seq = ?`, address, version.Seq)
	if err != nil {
		return nil, fmt.Errorf("fetching entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var entry csync.FileEntry
		if err := rows.Scan(&path, &entry.ContentID, &entry.Size, &entry.MediaType,
			&entry.CreatedAt, &entry.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		version.Map[path] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}

	return version, nil
}

// Commit atomically publishes m as the container's new version. The whole
// commit is one transaction: either every entry of the new map is visible
// under the new version, or nothing changed. expectedPriorID must match
// the current version id (empty for a container with no version yet).
func (s *SQLiteStore) Commit(ctx context.Context, address string, m csync.ContainerMap, expectedPriorID string) (*csync.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM containers WHERE address = ?", address).Scan(&exists); err != nil {
		return nil, fmt.Errorf("looking up container: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", csync.ErrContainerNotFound, address)
	}

	var currentSeq int64 = -1
	currentID := ""
	err = tx.QueryRowContext(ctx,
		`SELECT seq, id FROM versions WHERE container_address = ?
		 ORDER BY seq DESC LIMIT 1`, address).Scan(&currentSeq, &currentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading current version: %w", err)
	}

	if currentID != expectedPriorID {
		return nil, &csync.ConflictError{
			Address:    address,
			ExpectedID: expectedPriorID,
			CurrentID:  currentID,
		}
	}

	version := &csync.Version{
		ID:          m.Hash(),
		Seq:         currentSeq + 1,
		PriorID:     currentID,
		Map:         m.Clone(),
		CommittedAt: s.clock.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (container_address, seq, id, prior_id, committed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		address, version.Seq, version.ID, version.PriorID, version.CommittedAt); err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (container_address, seq, path, content_id, size, media_type, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, path := range m.Paths() {
		e := m[path]
		if _, err := stmt.ExecContext(ctx, address, version.Seq, path,
			e.ContentID, e.Size, e.MediaType, e.CreatedAt.UTC(), e.ModifiedAt.UTC()); err != nil {
			return nil, fmt.Errorf("inserting entry %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}

	return version, nil
}

// Operation is one row of the per-invocation journal: which command ran,
// with what parameters, and how its pipeline ended.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	State      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// RecordOperation journals the start of a mutating command.
func (s *SQLiteStore) RecordOperation(ctx context.Context, operation, parameters string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (operation, parameters, state, started_at)
		 VALUES (?, ?, ?, ?)`,
		operation, parameters, csync.StateScanning.String(), s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("recording operation: %w", err)
	}
	return res.LastInsertId()
}

// FinishOperation journals the terminal state of a mutating command.
func (s *SQLiteStore) FinishOperation(ctx context.Context, id int64, state csync.State) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE operations SET state = ?, finished_at = ? WHERE id = ?",
		state.String(), s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// RecentOperations returns the most recent journal rows, newest first.
func (s *SQLiteStore) RecentOperations(ctx context.Context, limit int) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, parameters, state, started_at, finished_at
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.State,
			&op.StartedAt, &op.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Compile-time check that SQLiteStore implements csync.ContainerStore
var _ csync.ContainerStore = (*SQLiteStore)(nil)
