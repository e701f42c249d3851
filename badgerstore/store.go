// Package badgerstore persists checkpoints and registry entries in an
// embedded Badger database.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v3"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

const (
	checkpointPrefix = "checkpoint:"
	entryPrefix      = "entry:"
)

var _ flowgraph.Store = (*Store)(nil)

// Store implements flowgraph.Store on top of Badger. Every write runs in its
// own transaction so a checkpoint is replaced atomically.
type Store struct {
	db     *badger.DB
	owned  bool
	logger *slog.Logger
}

// Open opens (or creates) a database in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := badger.Open(opts.WithLogger(nil).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := New(db, logger)
	s.owned = true
	return s, nil
}

// New wraps an already open database. Close does not close db.
func New(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger.With("component", "badgerstore")}
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SaveCheckpoint(ctx context.Context, executionID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointPrefix+executionID), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", executionID, err)
	}
	s.logger.Debug("checkpoint saved", "execution_id", executionID, "bytes", len(data))
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, executionID string) ([]byte, error) {
	data, err := s.get(ctx, checkpointPrefix+executionID)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, flowgraph.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", executionID, err)
	}
	return data, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, executionID string) error {
	return s.delete(ctx, checkpointPrefix+executionID)
}

func (s *Store) PutEntry(ctx context.Context, entry *flowgraph.RegistryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := xjson.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entryPrefix+entry.ExecutionID), data)
	})
	if err != nil {
		return fmt.Errorf("put registry entry %s: %w", entry.ExecutionID, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, executionID string) (*flowgraph.RegistryEntry, error) {
	data, err := s.get(ctx, entryPrefix+executionID)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, flowgraph.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registry entry %s: %w", executionID, err)
	}
	var entry flowgraph.RegistryEntry
	if err := xjson.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal registry entry %s: %w", executionID, err)
	}
	return &entry, nil
}

func (s *Store) ListEntries(ctx context.Context) ([]*flowgraph.RegistryEntry, error) {
	var entries []*flowgraph.RegistryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var entry flowgraph.RegistryEntry
				if err := xjson.Unmarshal(val, &entry); err != nil {
					s.logger.Warn("skipping unreadable registry entry", "key", string(item.Key()), "error", err)
					return nil
				}
				entries = append(entries, &entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// DeleteEntry removes the registry entry and the checkpoint of an execution
// in one transaction.
func (s *Store) DeleteEntry(ctx context.Context, executionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(entryPrefix + executionID)); err != nil {
			return err
		}
		return txn.Delete([]byte(checkpointPrefix + executionID))
	})
	if err != nil {
		return fmt.Errorf("delete execution %s: %w", executionID, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
