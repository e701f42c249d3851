// Package sqlstore implements flowgraph.Store over database/sql. The postgres
// and sqlite packages supply the driver and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowgraph"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Placeholder returns the bind parameter for the n-th argument, from 1.
	Placeholder func(n int) string
	// BlobType is the column type used for checkpoint documents.
	BlobType string
}

// Store keeps checkpoints and registry entries in two tables. Timestamps are
// stored as unix nanoseconds in UTC.
type Store struct {
	db      *sql.DB
	dialect Dialect
	prefix  string
	logger  *slog.Logger
}

// New returns a store using the given table name prefix, such as
// "flowgraph_".
func New(db *sql.DB, dialect Dialect, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		prefix:  prefix,
		logger:  logger.With("component", dialect.Name+"store"),
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) checkpoints() string { return s.prefix + "checkpoints" }
func (s *Store) executions() string  { return s.prefix + "executions" }

// bind rewrites ? placeholders into the dialect's form.
func (s *Store) bind(query string) string {
	if s.dialect.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate creates the tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			execution_id TEXT PRIMARY KEY,
			data %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.checkpoints(), s.dialect.BlobType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			error_node_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.executions()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_created_idx ON %[1]s (created_at DESC)`, s.executions()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status)`, s.executions()),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, executionID string, data []byte) error {
	query := s.bind(fmt.Sprintf(`INSERT INTO %s (execution_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, s.checkpoints()))
	if _, err := s.db.ExecContext(ctx, query, executionID, data, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", executionID, err)
	}
	s.logger.Debug("checkpoint saved", "execution_id", executionID, "bytes", len(data))
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, executionID string) ([]byte, error) {
	query := s.bind(fmt.Sprintf(`SELECT data FROM %s WHERE execution_id = ?`, s.checkpoints()))
	var data []byte
	err := s.db.QueryRowContext(ctx, query, executionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowgraph.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", executionID, err)
	}
	return data, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, executionID string) error {
	query := s.bind(fmt.Sprintf(`DELETE FROM %s WHERE execution_id = ?`, s.checkpoints()))
	if _, err := s.db.ExecContext(ctx, query, executionID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", executionID, err)
	}
	return nil
}

func (s *Store) PutEntry(ctx context.Context, entry *flowgraph.RegistryEntry) error {
	query := s.bind(fmt.Sprintf(`INSERT INTO %s
		(execution_id, workflow_id, owner_id, status, error_code, error_node_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			owner_id = excluded.owner_id,
			status = excluded.status,
			error_code = excluded.error_code,
			error_node_id = excluded.error_node_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`, s.executions()))
	_, err := s.db.ExecContext(ctx, query,
		entry.ExecutionID,
		entry.WorkflowID,
		entry.OwnerID,
		string(entry.Status),
		entry.ErrorCode,
		entry.ErrorNodeID,
		entry.CreatedAt.UnixNano(),
		entry.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put registry entry %s: %w", entry.ExecutionID, err)
	}
	return nil
}

const entryColumns = `execution_id, workflow_id, owner_id, status, error_code, error_node_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*flowgraph.RegistryEntry, error) {
	var (
		entry            flowgraph.RegistryEntry
		status           string
		created, updated int64
	)
	err := row.Scan(&entry.ExecutionID, &entry.WorkflowID, &entry.OwnerID, &status,
		&entry.ErrorCode, &entry.ErrorNodeID, &created, &updated)
	if err != nil {
		return nil, err
	}
	entry.Status = flowgraph.ExecutionStatus(status)
	entry.CreatedAt = time.Unix(0, created).UTC()
	entry.UpdatedAt = time.Unix(0, updated).UTC()
	return &entry, nil
}

func (s *Store) GetEntry(ctx context.Context, executionID string) (*flowgraph.RegistryEntry, error) {
	query := s.bind(fmt.Sprintf(`SELECT %s FROM %s WHERE execution_id = ?`, entryColumns, s.executions()))
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowgraph.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registry entry %s: %w", executionID, err)
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context) ([]*flowgraph.RegistryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, execution_id DESC`, entryColumns, s.executions())
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var entries []*flowgraph.RegistryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes the entry and checkpoint of an execution in one
// transaction.
func (s *Store) DeleteEntry(ctx context.Context, executionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete execution %s: %w", executionID, err)
	}
	defer tx.Rollback()

	for _, table := range []string{s.executions(), s.checkpoints()} {
		query := s.bind(fmt.Sprintf(`DELETE FROM %s WHERE execution_id = ?`, table))
		if _, err := tx.ExecContext(ctx, query, executionID); err != nil {
			return fmt.Errorf("delete execution %s: %w", executionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete execution %s: %w", executionID, err)
	}
	return nil
}
