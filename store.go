package flowgraph

import (
	"context"
	"time"
)

// CheckpointStore persists the single latest encoded checkpoint of each
// execution. SaveCheckpoint must replace any previous checkpoint atomically:
// a reader sees either the old snapshot or the new one, never a mix.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, executionID string, data []byte) error

	// LoadCheckpoint returns ErrCheckpointNotFound when nothing was saved.
	LoadCheckpoint(ctx context.Context, executionID string) ([]byte, error)

	DeleteCheckpoint(ctx context.Context, executionID string) error
}

// RegistryEntry is the lightweight index record kept for every execution.
type RegistryEntry struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	OwnerID     string          `json:"owner_id"`
	Status      ExecutionStatus `json:"status"`
	ErrorCode   string          `json:"error_code,omitempty"`
	ErrorNodeID string          `json:"error_node_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RegistryStore durably holds registry entries.
type RegistryStore interface {
	PutEntry(ctx context.Context, entry *RegistryEntry) error

	// GetEntry returns ErrExecutionNotFound for unknown ids.
	GetEntry(ctx context.Context, executionID string) (*RegistryEntry, error)

	ListEntries(ctx context.Context) ([]*RegistryEntry, error)

	DeleteEntry(ctx context.Context, executionID string) error
}

// Store is a backend that serves both checkpoints and the registry index.
type Store interface {
	CheckpointStore
	RegistryStore
}
