package flowgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan *Event) []*Event {
	t.Helper()
	var events []*Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("subscription did not close, got %d events", len(events))
		}
	}
}

func eventTypes(events []*Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestBrokerReplaysHistoryThenLiveEvents(t *testing.T) {
	broker := NewEventBroker(-1)
	broker.Publish(&Event{Type: EventStarted, ExecutionID: "exec_1"})
	broker.Publish(&Event{Type: EventNodeStarted, ExecutionID: "exec_1", NodeID: "a"})

	ch := broker.Subscribe(context.Background(), "exec_1")
	broker.Publish(&Event{Type: EventNodeCompleted, ExecutionID: "exec_1", NodeID: "a"})
	broker.Publish(&Event{Type: EventCompleted, ExecutionID: "exec_1"})

	events := drain(t, ch)
	require.Equal(t, []EventType{EventStarted, EventNodeStarted, EventNodeCompleted, EventCompleted}, eventTypes(events))
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestBrokerSubscribersAfterTerminalGetHistory(t *testing.T) {
	broker := NewEventBroker(-1)
	broker.Publish(&Event{Type: EventStarted, ExecutionID: "exec_1"})
	broker.Publish(&Event{Type: EventFailed, ExecutionID: "exec_1"})
	broker.Publish(&Event{Type: EventNodeStarted, ExecutionID: "exec_1"})

	events := drain(t, broker.Subscribe(context.Background(), "exec_1"))
	require.Equal(t, []EventType{EventStarted, EventFailed}, eventTypes(events))
	require.Len(t, broker.History("exec_1"), 2)
}

func TestBrokerSubscribersSeeTheSameOrder(t *testing.T) {
	broker := NewEventBroker(-1)
	const subscribers = 5
	const events = 200

	channels := make([]<-chan *Event, subscribers)
	for i := range channels {
		channels[i] = broker.Subscribe(context.Background(), "exec_1")
	}
	go func() {
		for i := range events {
			broker.Publish(&Event{Type: EventNodeCompleted, ExecutionID: "exec_1", Attempt: i})
		}
		broker.Publish(&Event{Type: EventCompleted, ExecutionID: "exec_1"})
	}()

	var wg sync.WaitGroup
	results := make([][]*Event, subscribers)
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = drain(t, ch)
		}()
	}
	wg.Wait()
	for _, got := range results {
		require.Len(t, got, events+1)
		for j := range events {
			require.Equal(t, j, got[j].Attempt)
		}
	}
}

func TestBrokerKeepAlive(t *testing.T) {
	broker := NewEventBroker(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx, "exec_idle")
	select {
	case ev := <-ch:
		require.Equal(t, EventKeepAlive, ev.Type)
		require.Equal(t, "exec_idle", ev.ExecutionID)
		require.Zero(t, ev.Sequence)
	case <-time.After(5 * time.Second):
		t.Fatal("no keep-alive received")
	}
	require.Empty(t, broker.History("exec_idle"))
}

func TestBrokerSubscriptionEndsWithContext(t *testing.T) {
	broker := NewEventBroker(-1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx, "exec_1")
	cancel()
	require.Empty(t, drain(t, ch))
}

func TestBrokerForget(t *testing.T) {
	broker := NewEventBroker(-1)
	broker.Publish(&Event{Type: EventStarted, ExecutionID: "exec_1"})
	ch := broker.Subscribe(context.Background(), "exec_1")
	broker.Forget("exec_1")
	require.Len(t, drain(t, ch), 1)
	require.Nil(t, broker.History("exec_1"))
}

func TestBrokerRetention(t *testing.T) {
	t.Run("negative drops the log after the terminal event", func(t *testing.T) {
		broker := NewEventBroker(-1, WithRetention(-1))
		ch := broker.Subscribe(context.Background(), "exec_1")
		broker.Publish(&Event{Type: EventStarted, ExecutionID: "exec_1"})
		broker.Publish(&Event{Type: EventCompleted, ExecutionID: "exec_1"})
		require.Equal(t, []EventType{EventStarted, EventCompleted}, eventTypes(drain(t, ch)))
		require.Nil(t, broker.History("exec_1"))
		_, ok := broker.SubscribeExisting(context.Background(), "exec_1")
		require.False(t, ok)
	})

	t.Run("positive keeps the log for a while", func(t *testing.T) {
		broker := NewEventBroker(-1, WithRetention(20*time.Millisecond))
		broker.Publish(&Event{Type: EventFailed, ExecutionID: "exec_1"})
		ch, ok := broker.SubscribeExisting(context.Background(), "exec_1")
		require.True(t, ok)
		require.Len(t, drain(t, ch), 1)
		require.Eventually(t, func() bool {
			return broker.History("exec_1") == nil
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("zero keeps the log", func(t *testing.T) {
		broker := NewEventBroker(-1)
		broker.Publish(&Event{Type: EventCancelled, ExecutionID: "exec_1"})
		require.Len(t, broker.History("exec_1"), 1)
	})
}

func TestBrokerAbandonedSubscriptionLeavesNoLog(t *testing.T) {
	broker := NewEventBroker(-1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx, "exec_unknown")
	cancel()
	drain(t, ch)
	broker.mutex.Lock()
	defer broker.mutex.Unlock()
	require.NotContains(t, broker.logs, "exec_unknown")
}
