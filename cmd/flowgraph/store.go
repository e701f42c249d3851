package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/badgerstore"
	"github.com/deepnoodle-ai/flowgraph/postgres"
	"github.com/deepnoodle-ai/flowgraph/redisstore"
	"github.com/deepnoodle-ai/flowgraph/sqlite"
)

func defaultDataDir() string {
	if dir := os.Getenv("FLOWGRAPH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgraph"
	}
	return filepath.Join(home, ".flowgraph")
}

// openStore opens the backend named by -store. The returned func releases it.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (flowgraph.Store, func(), error) {
	target := cfg.Target
	noop := func() {}
	switch cfg.Store {
	case "memory":
		return flowgraph.NewMemoryStore(), noop, nil
	case "file", "":
		if target == "" {
			target = filepath.Join(defaultDataDir(), "executions")
		}
		store, err := flowgraph.NewFileStore(target)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "badger":
		if target == "" {
			target = filepath.Join(defaultDataDir(), "badger")
		}
		store, err := badgerstore.Open(target, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(store.Close, logger), nil
	case "sqlite":
		if target == "" {
			if err := os.MkdirAll(defaultDataDir(), 0o755); err != nil {
				return nil, nil, err
			}
			target = filepath.Join(defaultDataDir(), "flowgraph.db")
		}
		store, err := sqlite.Open(ctx, target, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(store.Close, logger), nil
	case "postgres":
		if target == "" {
			target = os.Getenv("DATABASE_URL")
		}
		if target == "" {
			return nil, nil, fmt.Errorf("postgres store requires -target or DATABASE_URL")
		}
		store, err := postgres.Open(ctx, target, postgres.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return store, closer(store.Close, logger), nil
	case "redis":
		if target == "" {
			target = "localhost:6379"
		}
		store, err := redisstore.Open(ctx, target, redisstore.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return store, closer(store.Close, logger), nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func closer(fn func() error, logger *slog.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}
}
