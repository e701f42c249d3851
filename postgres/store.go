// Package postgres persists checkpoints and registry entries in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/sqlstore"
)

// DefaultTablePrefix is prepended to the table names.
const DefaultTablePrefix = "flowgraph_"

var dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	BlobType:    "BYTEA",
}

var _ flowgraph.Store = (*Store)(nil)

// Store implements flowgraph.Store using lib/pq.
type Store struct {
	*sqlstore.Store
	owned bool
}

// Options configures Open.
type Options struct {
	// TablePrefix defaults to DefaultTablePrefix.
	TablePrefix string
	Logger      *slog.Logger
	// SkipMigrate leaves schema creation to the caller.
	SkipMigrate bool
}

// Open connects to the database at dsn and creates the tables if needed.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := New(ctx, db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an open database handle. Close does not close db.
func New(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	prefix := opts.TablePrefix
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	s := &Store{Store: sqlstore.New(db, dialect, prefix, opts.Logger)}
	if !opts.SkipMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.DB().Close()
}
