package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) flowgraph.Store {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "flowgraph.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.PutEntry(ctx, &flowgraph.RegistryEntry{
		ExecutionID: "exec_a",
		WorkflowID:  "wf",
		Status:      flowgraph.ExecutionStatusPaused,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	got, err := s.GetEntry(ctx, "exec_a")
	require.NoError(t, err)
	require.Equal(t, flowgraph.ExecutionStatusPaused, got.Status)
	require.True(t, now.Equal(got.CreatedAt))
}
