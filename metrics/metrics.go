// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deepnoodle-ai/flowgraph"
)

var _ flowgraph.EventSink = (*Sink)(nil)

// Sink is an event sink that records execution and node metrics.
type Sink struct {
	executionsTotal *prometheus.CounterVec
	nodesTotal      *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	nodeRetries     *prometheus.CounterVec
	checkpointBytes prometheus.Histogram
	activeGauge     prometheus.Gauge

	mu     sync.Mutex
	active map[string]struct{}
}

// NewSink registers the metrics with reg under namespace. A nil reg uses
// prometheus.DefaultRegisterer.
func NewSink(namespace string, reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Sink{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions that reached a terminal status or paused.",
		}, []string{"workflow", "status"}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node executions by node type and outcome.",
		}, []string{"workflow", "node_type", "outcome"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution latency including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"workflow", "node_type"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Retries of transient node failures.",
		}, []string{"workflow", "node_type"}),
		checkpointBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_bytes",
			Help:      "Size of saved checkpoints.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		activeGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Executions currently running.",
		}),
		active: map[string]struct{}{},
	}
}

func (s *Sink) HandleEvent(ctx context.Context, event *flowgraph.Event) {
	switch event.Type {
	case flowgraph.EventStarted, flowgraph.EventResumed:
		s.setActive(event.ExecutionID, true)
	case flowgraph.EventPaused:
		s.setActive(event.ExecutionID, false)
		s.executionsTotal.WithLabelValues(event.WorkflowID, string(flowgraph.ExecutionStatusPaused)).Inc()
	case flowgraph.EventCompleted, flowgraph.EventFailed, flowgraph.EventCancelled:
		s.setActive(event.ExecutionID, false)
		s.executionsTotal.WithLabelValues(event.WorkflowID, string(event.Status)).Inc()
	case flowgraph.EventNodeCompleted, flowgraph.EventNodeFailed:
		outcome := string(flowgraph.NodeStatusCompleted)
		if event.Type == flowgraph.EventNodeFailed {
			outcome = string(flowgraph.NodeStatusFailed)
		}
		s.nodesTotal.WithLabelValues(event.WorkflowID, string(event.NodeType), outcome).Inc()
		s.nodeDuration.WithLabelValues(event.WorkflowID, string(event.NodeType)).Observe(event.Duration.Seconds())
	case flowgraph.EventNodeRetrying:
		s.nodeRetries.WithLabelValues(event.WorkflowID, string(event.NodeType)).Inc()
	case flowgraph.EventCheckpointSaved:
		s.checkpointBytes.Observe(float64(event.Bytes))
	}
}

func (s *Sink) setActive(executionID string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.active[executionID]
	switch {
	case running && !present:
		s.active[executionID] = struct{}{}
		s.activeGauge.Inc()
	case !running && present:
		delete(s.active, executionID)
		s.activeGauge.Dec()
	}
}
