package mcp

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// EventKind identifies the class of a server lifecycle event.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventStopped      EventKind = "stopped"
	EventToolExecuted EventKind = "tool_executed"
)

// Event is an advisory notification about what the server is doing. Tool,
// Success and Duration are only set for EventToolExecuted; Error is set for
// a failed tool call or a stopped event caused by a failure.
type Event struct {
	Kind     EventKind
	RunID    string
	Time     time.Time
	Tool     string
	Success  bool
	Duration time.Duration
	Error    string
}

// Observer receives server events. Observe is called from a single
// goroutine, never from the request loop itself.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}

const (
	defaultEventBuffer       = 64
	defaultEventDrainTimeout = 5 * time.Second
)

// eventQueue delivers events to an observer without ever blocking the
// request loop: when the buffer is full the event is dropped.
type eventQueue struct {
	observer Observer
	logger   *slog.Logger
	events   chan Event
	done     chan struct{}

	// set once shutdown stops waiting; anything still queued is discarded
	abandoned atomic.Bool
}

// newEventQueue returns nil when there is no observer; a nil queue discards
// everything.
func newEventQueue(observer Observer, size int, logger *slog.Logger) *eventQueue {
	if observer == nil {
		return nil
	}
	if size <= 0 {
		size = defaultEventBuffer
	}

	q := &eventQueue{
		observer: observer,
		logger:   logger,
		events:   make(chan Event, size),
		done:     make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *eventQueue) drain() {
	defer close(q.done)
	for e := range q.events {
		if q.abandoned.Load() {
			continue
		}
		q.deliver(e)
	}
}

func (q *eventQueue) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("observer panic", "event", e.Kind, "panic", r)
		}
	}()
	q.observer.Observe(e)
}

func (q *eventQueue) emit(e Event) {
	if q == nil {
		return
	}
	select {
	case q.events <- e:
	default:
		q.logger.Warn("event queue full, dropping event", "event", e.Kind, "tool", e.Tool)
	}
}

// emitWait enqueues e, waiting for room until ctx is done. On timeout the
// event is dropped.
func (q *eventQueue) emitWait(ctx context.Context, e Event) {
	if q == nil {
		return
	}
	select {
	case q.events <- e:
	case <-ctx.Done():
		q.logger.Warn("observer stalled, dropping event", "event", e.Kind)
	}
}

// close stops the queue and waits for queued events to be delivered until
// ctx is done. Events not delivered by then are dropped.
func (q *eventQueue) close(ctx context.Context) {
	if q == nil {
		return
	}
	close(q.events)
	select {
	case <-q.done:
	case <-ctx.Done():
		q.abandoned.Store(true)
		q.logger.Warn("observer stalled, abandoning queued events", "pending", len(q.events))
	}
}
