// Package storetest holds the behaviour every flowgraph.Store backend must
// share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowgraph"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) flowgraph.Store

// Run exercises a store implementation.
func Run(t *testing.T, newStore Factory) {
	t.Run("Checkpoints", func(t *testing.T) { testCheckpoints(t, newStore(t)) })
	t.Run("Entries", func(t *testing.T) { testEntries(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("DeleteEntryRemovesCheckpoint", func(t *testing.T) { testDeleteEntry(t, newStore(t)) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func entry(id string, status flowgraph.ExecutionStatus, created time.Time) *flowgraph.RegistryEntry {
	return &flowgraph.RegistryEntry{
		ExecutionID: id,
		WorkflowID:  "wf",
		OwnerID:     "owner",
		Status:      status,
		CreatedAt:   created.UTC(),
		UpdatedAt:   created.UTC(),
	}
}

func testCheckpoints(t *testing.T, store flowgraph.Store) {
	ctx := context.Background()

	_, err := store.LoadCheckpoint(ctx, "exec_missing")
	require.ErrorIs(t, err, flowgraph.ErrCheckpointNotFound)

	require.NoError(t, store.SaveCheckpoint(ctx, "exec_a", []byte(`{"v":1}`)))
	require.NoError(t, store.SaveCheckpoint(ctx, "exec_a", []byte(`{"v":2}`)))

	data, err := store.LoadCheckpoint(ctx, "exec_a")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	require.NoError(t, store.DeleteCheckpoint(ctx, "exec_a"))
	_, err = store.LoadCheckpoint(ctx, "exec_a")
	require.ErrorIs(t, err, flowgraph.ErrCheckpointNotFound)

	require.NoError(t, store.DeleteCheckpoint(ctx, "exec_a"), "deleting twice is not an error")
}

func testEntries(t *testing.T, store flowgraph.Store) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := store.GetEntry(ctx, "exec_missing")
	require.ErrorIs(t, err, flowgraph.ErrExecutionNotFound)

	e := entry("exec_a", flowgraph.ExecutionStatusRunning, now)
	require.NoError(t, store.PutEntry(ctx, e))

	e.Status = flowgraph.ExecutionStatusFailed
	e.ErrorCode = flowgraph.CodeNodeFailed
	e.ErrorNodeID = "fetch"
	e.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.PutEntry(ctx, e))

	got, err := store.GetEntry(ctx, "exec_a")
	require.NoError(t, err)
	assert.Equal(t, "exec_a", got.ExecutionID)
	assert.Equal(t, "wf", got.WorkflowID)
	assert.Equal(t, "owner", got.OwnerID)
	assert.Equal(t, flowgraph.ExecutionStatusFailed, got.Status)
	assert.Equal(t, flowgraph.CodeNodeFailed, got.ErrorCode)
	assert.Equal(t, "fetch", got.ErrorNodeID)
	assert.True(t, now.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
	assert.True(t, now.Add(time.Minute).Equal(got.UpdatedAt), "updated_at %s", got.UpdatedAt)
}

func testListOrder(t *testing.T, store flowgraph.Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	entries, err := store.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	for i, id := range []string{"exec_b", "exec_c", "exec_a"} {
		require.NoError(t, store.PutEntry(ctx, entry(id, flowgraph.ExecutionStatusCompleted, base.Add(time.Duration(i)*time.Hour))))
	}
	entries, err = store.ListEntries(ctx)
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ExecutionID
	}
	assert.Equal(t, []string{"exec_a", "exec_c", "exec_b"}, ids)
}

func testDeleteEntry(t *testing.T, store flowgraph.Store) {
	ctx := context.Background()
	require.NoError(t, store.PutEntry(ctx, entry("exec_a", flowgraph.ExecutionStatusCompleted, time.Now())))
	require.NoError(t, store.SaveCheckpoint(ctx, "exec_a", []byte(`{}`)))

	require.NoError(t, store.DeleteEntry(ctx, "exec_a"))

	_, err := store.GetEntry(ctx, "exec_a")
	require.ErrorIs(t, err, flowgraph.ErrExecutionNotFound)
	_, err = store.LoadCheckpoint(ctx, "exec_a")
	require.ErrorIs(t, err, flowgraph.ErrCheckpointNotFound)

	entries, err := store.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testConcurrent(t *testing.T, store flowgraph.Store) {
	ctx := context.Background()
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("exec_%02d", i)
			errs <- store.SaveCheckpoint(ctx, id, []byte(fmt.Sprintf(`{"i":%d}`, i)))
			errs <- store.PutEntry(ctx, entry(id, flowgraph.ExecutionStatusRunning, time.Now()))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	entries, err := store.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, writers)
	for i := range writers {
		data, err := store.LoadCheckpoint(ctx, fmt.Sprintf("exec_%02d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf(`{"i":%d}`, i), string(data))
	}
}
