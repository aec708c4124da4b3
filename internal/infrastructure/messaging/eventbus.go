// Package messaging implements the event buses progress events travel on.
// The in-memory bus serves a single process; the Redis bus fans events out to
// every instance sharing a channel.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrNilHandler     = errors.New("handler cannot be nil")
)

// anyEvent keys the subscriptions that receive every event type.
const anyEvent shared.EventType = ""

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers in the background, at most WorkerPoolSize at a
	// time. Otherwise Publish returns after every handler ran.
	AsyncMode      bool
	WorkerPoolSize int

	Logger        *logger.Logger
	EnableMetrics bool
}

func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10, EnableMetrics: true}
}

// InMemoryEventBus delivers events to handlers registered in this process.
// Close drains every handler already scheduled.
type InMemoryEventBus struct {
	async   bool
	slots   *semaphore.Weighted
	log     *logger.Logger
	metrics *EventBusMetrics

	mu     sync.RWMutex
	subs   map[shared.EventType][]shared.EventHandler
	closed bool

	inflight sync.WaitGroup
}

func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}
	b := &InMemoryEventBus{
		async: config.AsyncMode,
		slots: semaphore.NewWeighted(int64(config.WorkerPoolSize)),
		log:   config.Logger.With(logger.Component("eventbus")),
		subs:  make(map[shared.EventType][]shared.EventHandler),
	}
	if config.EnableMetrics {
		b.metrics = NewEventBusMetrics()
	}
	return b
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(anyEvent, handler)
}

func (b *InMemoryEventBus) add(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs[key] = append(b.subs[key], handler)
	return nil
}

// Publish hands the event to the handlers of its type, then to the
// catch-all handlers. Handler failures are logged, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed, all := b.subs[event.EventType()], b.subs[anyEvent]
	targets := make([]shared.EventHandler, 0, len(typed)+len(all))
	targets = append(append(targets, typed...), all...)
	if b.async {
		// Registered under the read lock so Close cannot miss them.
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.metrics.RecordPublish(event.EventType())

	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func(h shared.EventHandler) {
			defer b.inflight.Done()
			// Background acquisition only fails on a cancelled context.
			_ = b.slots.Acquire(context.Background(), 1)
			defer b.slots.Release(1)
			b.deliver(event, h)
		}(h)
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := invoke(event, h)
	b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Bool("async", b.async),
			logger.Err(err),
		)
	}
}

func invoke(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Close rejects further use and waits for scheduled handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.mu.Unlock()
	if already {
		return nil
	}

	b.inflight.Wait()
	b.log.Info("event bus closed")
	return nil
}

// Metrics returns nil when metrics are disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}
