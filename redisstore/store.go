// Package redisstore persists checkpoints and registry entries in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "flowgraph:"

var _ flowgraph.Store = (*Store)(nil)

// Store implements flowgraph.Store. Checkpoints and entries are plain string
// keys; a sorted set scored by creation time indexes the entries.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *slog.Logger
}

// Options configures New.
type Options struct {
	KeyPrefix string
	Logger    *slog.Logger
}

// New returns a store using client.
func New(client redis.UniversalClient, opts Options) *Store {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{client: client, keyPrefix: prefix, logger: logger.With("component", "redisstore")}
}

// Open connects to the Redis server at addr and verifies the connection.
func Open(ctx context.Context, addr string, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client, opts), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) checkpointKey(id string) string { return s.keyPrefix + "checkpoint:" + id }
func (s *Store) entryKey(id string) string      { return s.keyPrefix + "entry:" + id }
func (s *Store) indexKey() string               { return s.keyPrefix + "executions" }

func (s *Store) SaveCheckpoint(ctx context.Context, executionID string, data []byte) error {
	if err := s.client.Set(ctx, s.checkpointKey(executionID), data, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", executionID, err)
	}
	s.logger.Debug("checkpoint saved", "execution_id", executionID, "bytes", len(data))
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, executionID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, flowgraph.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", executionID, err)
	}
	return data, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, executionID string) error {
	if err := s.client.Del(ctx, s.checkpointKey(executionID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", executionID, err)
	}
	return nil
}

func (s *Store) PutEntry(ctx context.Context, entry *flowgraph.RegistryEntry) error {
	data, err := xjson.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.ExecutionID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(entry.CreatedAt.UnixNano()),
			Member: entry.ExecutionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put registry entry %s: %w", entry.ExecutionID, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, executionID string) (*flowgraph.RegistryEntry, error) {
	data, err := s.client.Get(ctx, s.entryKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
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

// ListEntries returns entries newest first using the creation-time index.
func (s *Store) ListEntries(ctx context.Context) ([]*flowgraph.RegistryEntry, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	entries := make([]*flowgraph.RegistryEntry, 0, len(values))
	for i, value := range values {
		text, ok := value.(string)
		if !ok {
			s.logger.Warn("registry index references a missing entry", "execution_id", ids[i])
			continue
		}
		var entry flowgraph.RegistryEntry
		if err := xjson.Unmarshal([]byte(text), &entry); err != nil {
			s.logger.Warn("skipping unreadable registry entry", "execution_id", ids[i], "error", err)
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// DeleteEntry removes the entry, its index member and the checkpoint in one
// transaction.
func (s *Store) DeleteEntry(ctx context.Context, executionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entryKey(executionID), s.checkpointKey(executionID))
		pipe.ZRem(ctx, s.indexKey(), executionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete execution %s: %w", executionID, err)
	}
	return nil
}
