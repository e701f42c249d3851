package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

const (
	checkpointFileName = "checkpoint.json"
	entryFileName      = "entry.json"
)

// FileStore keeps one directory per execution holding the latest checkpoint
// and the registry entry. Writes go to a temporary file that is renamed over
// the previous one.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a file-backed store rooted at dataDir. An empty dataDir
// defaults to ~/.flowgraph/executions.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".flowgraph", "executions")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Dir returns the root directory of the store.
func (s *FileStore) Dir() string {
	return s.dataDir
}

func (s *FileStore) executionDir(executionID string) (string, error) {
	if executionID == "" || executionID != filepath.Base(executionID) || executionID == "." || executionID == ".." {
		return "", fmt.Errorf("invalid execution id %q", executionID)
	}
	return filepath.Join(s.dataDir, executionID), nil
}

// SaveCheckpoint atomically replaces the checkpoint for an execution
func (s *FileStore) SaveCheckpoint(ctx context.Context, executionID string, data []byte) error {
	dir, err := s.executionDir(executionID)
	if err != nil {
		return err
	}
	return writeFileAtomic(dir, checkpointFileName, data)
}

// LoadCheckpoint reads the checkpoint for an execution
func (s *FileStore) LoadCheckpoint(ctx context.Context, executionID string) ([]byte, error) {
	dir, err := s.executionDir(executionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, checkpointFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return data, nil
}

// DeleteCheckpoint removes the checkpoint for an execution
func (s *FileStore) DeleteCheckpoint(ctx context.Context, executionID string) error {
	dir, err := s.executionDir(executionID)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, checkpointFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// PutEntry writes the registry entry for an execution
func (s *FileStore) PutEntry(ctx context.Context, entry *RegistryEntry) error {
	dir, err := s.executionDir(entry.ExecutionID)
	if err != nil {
		return err
	}
	data, err := xjson.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry entry: %w", err)
	}
	return writeFileAtomic(dir, entryFileName, data)
}

// GetEntry reads the registry entry for an execution
func (s *FileStore) GetEntry(ctx context.Context, executionID string) (*RegistryEntry, error) {
	dir, err := s.executionDir(executionID)
	if err != nil {
		return nil, err
	}
	return readEntry(filepath.Join(dir, entryFileName))
}

// ListEntries returns every registry entry, newest first
func (s *FileStore) ListEntries(ctx context.Context) ([]*RegistryEntry, error) {
	dirs, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}
	var entries []*RegistryEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entry, err := readEntry(filepath.Join(s.dataDir, d.Name(), entryFileName))
		if err != nil {
			// Directories without a readable entry are skipped
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// DeleteEntry removes the execution directory including its checkpoint
func (s *FileStore) DeleteEntry(ctx context.Context, executionID string) error {
	dir, err := s.executionDir(executionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete execution directory: %w", err)
	}
	return nil
}

func readEntry(path string) (*RegistryEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry entry: %w", err)
	}
	var entry RegistryEntry
	if err := xjson.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry entry: %w", err)
	}
	return &entry, nil
}

func writeFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
