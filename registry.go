package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// ListQuery filters and paginates registry listings.
type ListQuery struct {
	OwnerID    string
	WorkflowID string
	Statuses   []ExecutionStatus
	Offset     int
	// Limit of zero returns every matching entry.
	Limit int
}

// ListResult is one page of registry entries, newest first.
type ListResult struct {
	Entries []*RegistryEntry
	Total   int
}

// Registry is the index of every execution. It keeps all entries in memory
// and writes each change through to its durable store, so listing never
// touches checkpoints.
type Registry struct {
	store   RegistryStore
	logger  *slog.Logger
	mutex   sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewRegistry returns a registry backed by store. Call Load to populate the
// index from the store.
func NewRegistry(store RegistryStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &Registry{store: store, logger: logger, entries: map[string]*RegistryEntry{}}
}

// Load replaces the in-memory index with the store's contents.
func (r *Registry) Load(ctx context.Context) error {
	entries, err := r.store.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	index := make(map[string]*RegistryEntry, len(entries))
	for _, entry := range entries {
		index[entry.ExecutionID] = entry
	}
	r.mutex.Lock()
	r.entries = index
	r.mutex.Unlock()
	return nil
}

// Register persists a new entry.
func (r *Registry) Register(ctx context.Context, entry *RegistryEntry) error {
	copied := *entry
	if err := r.store.PutEntry(ctx, &copied); err != nil {
		return fmt.Errorf("register execution %s: %w", entry.ExecutionID, err)
	}
	r.mutex.Lock()
	r.entries[entry.ExecutionID] = &copied
	r.mutex.Unlock()
	return nil
}

// Update records a status change for an execution.
func (r *Registry) Update(ctx context.Context, executionID string, status ExecutionStatus, execErr *ExecutionError, now time.Time) (*RegistryEntry, error) {
	entry, err := r.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	entry.Status = status
	entry.UpdatedAt = now.UTC()
	entry.ErrorCode = ""
	entry.ErrorNodeID = ""
	if execErr != nil {
		entry.ErrorCode = execErr.Code
		entry.ErrorNodeID = execErr.NodeID
	}
	if err := r.store.PutEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update execution %s: %w", executionID, err)
	}
	r.mutex.Lock()
	r.entries[executionID] = entry
	r.mutex.Unlock()
	copied := *entry
	return &copied, nil
}

// Get returns a copy of an entry, falling back to the store for entries
// written by another process.
func (r *Registry) Get(ctx context.Context, executionID string) (*RegistryEntry, error) {
	r.mutex.RLock()
	entry, ok := r.entries[executionID]
	r.mutex.RUnlock()
	if ok {
		copied := *entry
		return &copied, nil
	}
	entry, err := r.store.GetEntry(ctx, executionID)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	r.mutex.Lock()
	r.entries[executionID] = entry
	r.mutex.Unlock()
	copied := *entry
	return &copied, nil
}

// List returns entries matching the query, newest first.
func (r *Registry) List(ctx context.Context, query ListQuery) (*ListResult, error) {
	r.mutex.RLock()
	var matched []*RegistryEntry
	for _, entry := range r.entries {
		if query.OwnerID != "" && entry.OwnerID != query.OwnerID {
			continue
		}
		if query.WorkflowID != "" && entry.WorkflowID != query.WorkflowID {
			continue
		}
		if len(query.Statuses) > 0 && !slices.Contains(query.Statuses, entry.Status) {
			continue
		}
		copied := *entry
		matched = append(matched, &copied)
	}
	r.mutex.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ExecutionID > matched[j].ExecutionID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	result := &ListResult{Total: len(matched)}
	start := max(query.Offset, 0)
	if start >= len(matched) {
		return result, nil
	}
	end := len(matched)
	if query.Limit > 0 && start+query.Limit < end {
		end = start + query.Limit
	}
	result.Entries = matched[start:end]
	return result, nil
}

// RecoverInterrupted marks every execution left running or pending by a
// previous process as failed. Paused executions are left untouched since
// they stopped at a clean suspension point. The updated entries are
// returned.
func (r *Registry) RecoverInterrupted(ctx context.Context, now time.Time) ([]*RegistryEntry, error) {
	r.mutex.RLock()
	var interrupted []string
	for id, entry := range r.entries {
		if entry.Status == ExecutionStatusRunning || entry.Status == ExecutionStatusPending {
			interrupted = append(interrupted, id)
		}
	}
	r.mutex.RUnlock()
	sort.Strings(interrupted)

	var recovered []*RegistryEntry
	var errs []error
	for _, id := range interrupted {
		entry, err := r.Update(ctx, id, ExecutionStatusFailed, &ExecutionError{
			Code:    CodeExecutionInterrupted,
			Message: "execution was interrupted by a process restart",
		}, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Warn("marked interrupted execution as failed", "execution_id", id)
		recovered = append(recovered, entry)
	}
	return recovered, errors.Join(errs...)
}
