package flowgraph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultKeepAlive is how long a subscription may sit idle before a
// keep-alive event is delivered.
const DefaultKeepAlive = 15 * time.Second

// EventBroker keeps the append-only event log of every execution and fans
// events out to subscribers. Each subscriber first receives the history, then
// live events, in order. Subscribers never slow down the publisher: each has
// its own unbounded queue.
type EventBroker struct {
	mutex     sync.Mutex
	keepAlive time.Duration
	retention time.Duration
	logs      map[string]*eventLog
}

// BrokerOption configures an EventBroker.
type BrokerOption func(*EventBroker)

// WithRetention makes the broker forget an execution's log this long after
// its terminal event. Negative forgets it as soon as the terminal event has
// been delivered; zero keeps logs until Forget is called.
func WithRetention(d time.Duration) BrokerOption {
	return func(b *EventBroker) {
		b.retention = d
	}
}

type eventLog struct {
	events      []*Event
	closed      bool
	subscribers map[string]*subscriber
}

type subscriber struct {
	id     string
	mutex  sync.Mutex
	queue  []*Event
	closed bool
	notify chan struct{}
}

// NewEventBroker returns a broker. A keepAlive of zero uses DefaultKeepAlive;
// a negative value disables keep-alive events.
func NewEventBroker(keepAlive time.Duration, opts ...BrokerOption) *EventBroker {
	if keepAlive == 0 {
		keepAlive = DefaultKeepAlive
	}
	b := &EventBroker{keepAlive: keepAlive, logs: map[string]*eventLog{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EventBroker) log(executionID string) *eventLog {
	l, ok := b.logs[executionID]
	if !ok {
		l = &eventLog{subscribers: map[string]*subscriber{}}
		b.logs[executionID] = l
	}
	return l
}

// HandleEvent implements EventSink by publishing the event.
func (b *EventBroker) HandleEvent(ctx context.Context, event *Event) {
	b.Publish(event)
}

// Publish appends an event to its execution's log, assigns its sequence
// number and delivers a copy to every subscriber. A terminal event closes the
// log and every subscription once drained.
func (b *EventBroker) Publish(event *Event) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	l := b.log(event.ExecutionID)
	if l.closed {
		return
	}
	event.Sequence = int64(len(l.events) + 1)
	stored := *event
	l.events = append(l.events, &stored)
	terminal := event.Type.IsTerminal()
	if terminal {
		l.closed = true
	}
	for _, sub := range l.subscribers {
		copied := stored
		sub.push(&copied, terminal)
	}
	if !terminal {
		return
	}
	l.subscribers = map[string]*subscriber{}
	switch {
	case b.retention < 0:
		delete(b.logs, event.ExecutionID)
	case b.retention > 0:
		executionID := event.ExecutionID
		time.AfterFunc(b.retention, func() { b.Forget(executionID) })
	}
}

// History returns a copy of the events recorded for an execution.
func (b *EventBroker) History(executionID string) []*Event {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	l, ok := b.logs[executionID]
	if !ok {
		return nil
	}
	history := make([]*Event, len(l.events))
	for i, event := range l.events {
		copied := *event
		history[i] = &copied
	}
	return history
}

// Forget drops the event log of an execution.
func (b *EventBroker) Forget(executionID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if l, ok := b.logs[executionID]; ok {
		for _, sub := range l.subscribers {
			sub.push(nil, true)
		}
		delete(b.logs, executionID)
	}
}

// Subscribe returns a channel delivering the execution's history followed by
// live events. The channel is closed after a terminal event has been
// delivered or when ctx is done.
func (b *EventBroker) Subscribe(ctx context.Context, executionID string) <-chan *Event {
	b.mutex.Lock()
	return b.subscribe(ctx, executionID, b.log(executionID))
}

// SubscribeExisting is Subscribe for executions the broker still holds a
// log for. It reports false, without subscribing, when there is none.
func (b *EventBroker) SubscribeExisting(ctx context.Context, executionID string) (<-chan *Event, bool) {
	b.mutex.Lock()
	l, ok := b.logs[executionID]
	if !ok {
		b.mutex.Unlock()
		return nil, false
	}
	return b.subscribe(ctx, executionID, l), true
}

// subscribe is called with b.mutex held and releases it.
func (b *EventBroker) subscribe(ctx context.Context, executionID string, l *eventLog) <-chan *Event {
	sub := &subscriber{id: uuid.NewString(), notify: make(chan struct{}, 1)}
	for _, event := range l.events {
		copied := *event
		sub.queue = append(sub.queue, &copied)
	}
	if l.closed {
		sub.closed = true
	} else {
		l.subscribers[sub.id] = sub
	}
	b.mutex.Unlock()

	out := make(chan *Event)
	go b.deliver(ctx, executionID, sub, out)
	return out
}

func (b *EventBroker) unsubscribe(executionID, id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if l, ok := b.logs[executionID]; ok {
		delete(l.subscribers, id)
		if len(l.events) == 0 && len(l.subscribers) == 0 {
			delete(b.logs, executionID)
		}
	}
}

func (b *EventBroker) deliver(ctx context.Context, executionID string, sub *subscriber, out chan<- *Event) {
	defer close(out)
	defer b.unsubscribe(executionID, sub.id)

	var keepAlive <-chan time.Time
	var timer *time.Timer
	if b.keepAlive > 0 {
		timer = time.NewTimer(b.keepAlive)
		defer timer.Stop()
		keepAlive = timer.C
	}
	resetTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.keepAlive)
	}

	for {
		event, closed := sub.pop()
		if event != nil {
			select {
			case out <- event:
				resetTimer()
				continue
			case <-ctx.Done():
				return
			}
		}
		if closed {
			return
		}
		select {
		case <-sub.notify:
		case <-keepAlive:
			ping := &Event{Type: EventKeepAlive, ExecutionID: executionID, Timestamp: time.Now().UTC()}
			select {
			case out <- ping:
			case <-ctx.Done():
				return
			}
			timer.Reset(b.keepAlive)
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscriber) push(event *Event, closed bool) {
	s.mutex.Lock()
	if event != nil {
		s.queue = append(s.queue, event)
	}
	if closed {
		s.closed = true
	}
	s.mutex.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop returns the next queued event, or nil together with whether the
// subscription has ended.
func (s *subscriber) pop() (*Event, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.queue) > 0 {
		event := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		return event, false
	}
	return nil, s.closed
}
