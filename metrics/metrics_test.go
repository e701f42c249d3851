package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/deepnoodle-ai/flowgraph"
)

func TestSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink("flowgraph", reg)
	ctx := context.Background()

	send := func(event *flowgraph.Event) {
		event.WorkflowID = "wf"
		sink.HandleEvent(ctx, event)
	}

	send(&flowgraph.Event{Type: flowgraph.EventStarted, ExecutionID: "a"})
	send(&flowgraph.Event{Type: flowgraph.EventStarted, ExecutionID: "b"})
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.activeGauge))

	send(&flowgraph.Event{Type: flowgraph.EventNodeCompleted, ExecutionID: "a", NodeType: flowgraph.NodeTypeAgent, Duration: time.Second})
	send(&flowgraph.Event{Type: flowgraph.EventNodeRetrying, ExecutionID: "a", NodeType: flowgraph.NodeTypeTool})
	send(&flowgraph.Event{Type: flowgraph.EventNodeFailed, ExecutionID: "a", NodeType: flowgraph.NodeTypeTool})
	send(&flowgraph.Event{Type: flowgraph.EventFailed, ExecutionID: "a", Status: flowgraph.ExecutionStatusFailed})
	send(&flowgraph.Event{Type: flowgraph.EventPaused, ExecutionID: "b"})

	// Cancelling a paused execution must not drive the gauge negative.
	send(&flowgraph.Event{Type: flowgraph.EventCancelled, ExecutionID: "b", Status: flowgraph.ExecutionStatusCancelled})
	send(&flowgraph.Event{Type: flowgraph.EventCheckpointSaved, ExecutionID: "b", Bytes: 2048})

	assert.Equal(t, 0.0, testutil.ToFloat64(sink.activeGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.executionsTotal.WithLabelValues("wf", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.executionsTotal.WithLabelValues("wf", "paused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.executionsTotal.WithLabelValues("wf", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.nodesTotal.WithLabelValues("wf", "agent", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.nodesTotal.WithLabelValues("wf", "tool", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.nodeRetries.WithLabelValues("wf", "tool")))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.nodeDuration))
}
