package importer

import (
	"context"
	"slices"
	"sync"
)

// Metadata is shared by all the events of a run.
type Metadata struct {
	Pipeline string
	RunID    string
	Context  Context
}

// Event is dispatched by the manager during a run.
type Event interface {
	Meta() Metadata
}

// PreImport is dispatched once the lock is acquired and before anything is extracted.
type PreImport struct {
	Metadata
}

// PartialImport is dispatched after each loaded batch.
type PartialImport struct {
	Metadata
	Cursor  int
	Outcome *OutcomeList
}

func (e PartialImport) Success() bool {
	return !e.Outcome.HasErrors()
}

// ErrorImport is dispatched for each error of a run. Err is nil for the summary of a run with errors.
type ErrorImport struct {
	Metadata
	Message string
	Err     error
}

// PostImport is dispatched exactly once at the end of every run which acquired its lock.
type PostImport struct {
	Metadata
	Errors int
}

func (e PostImport) Success() bool {
	return e.Errors == 0
}

func (m Metadata) Meta() Metadata {
	return m
}

// Dispatcher delivers events to listeners. Dispatch returns the first listener error.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Listener handles an event.
type Listener func(ctx context.Context, event Event) error

type subscription struct {
	priority int
	listener Listener
}

// EventBus is a synchronous Dispatcher. Listeners with a higher priority run first,
// listeners with the same priority run in subscription order.
type EventBus struct {
	subscriptions []subscription
	mu            sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe adds a listener for all events.
func (b *EventBus) Subscribe(priority int, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.subscriptions, func(s subscription) bool {
		return s.priority < priority
	})

	if idx < 0 {
		idx = len(b.subscriptions)
	}

	b.subscriptions = slices.Insert(b.subscriptions, idx, subscription{
		priority: priority,
		listener: listener,
	})
}

func (b *EventBus) Dispatch(ctx context.Context, event Event) error {
	b.mu.RLock()
	subscriptions := slices.Clone(b.subscriptions)
	b.mu.RUnlock()

	for _, s := range subscriptions {
		if err := s.listener(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// On subscribes a listener which only receives events of type E.
func On[E Event](b *EventBus, priority int, listener func(ctx context.Context, event E) error) {
	b.Subscribe(priority, func(ctx context.Context, event Event) error {
		if e, ok := event.(E); ok {
			return listener(ctx, e)
		}

		return nil
	})
}

type discardDispatcher struct{}

func (discardDispatcher) Dispatch(context.Context, Event) error {
	return nil
}
