// Package sqlite persists checkpoints and registry entries in an SQLite
// database using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name:     "sqlite",
	BlobType: "BLOB",
}

var _ flowgraph.Store = (*Store)(nil)

// Store implements flowgraph.Store on SQLite.
type Store struct {
	*sqlstore.Store
}

// Open opens the database file at path, creating it when missing. Use
// ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps an in-memory
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s := &Store{Store: sqlstore.New(db, dialect, "", logger)}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB().Close()
}
