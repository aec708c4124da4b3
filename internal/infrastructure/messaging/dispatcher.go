package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher sits between a bus and the application's event handlers. Each
// handler subscribed through it is wrapped with the dispatcher middleware and
// a retry policy; events that still fail are parked in a dead-letter queue.
//
// Dispatcher implements shared.EventSubscriber, so handlers register through
// it exactly as they would on a bus.
type Dispatcher struct {
	bus         shared.EventSubscriber
	middlewares []Middleware
	retrier     *retry.Retrier
	timeout     time.Duration
	deadLetters *DeadLetterQueue
	log         *logger.Logger
	mu          sync.RWMutex
}

var _ shared.EventSubscriber = (*Dispatcher)(nil)

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Bus delivers the events. Required.
	Bus shared.EventSubscriber

	// MaxAttempts per event and handler. One disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// HandlerTimeout bounds a whole delivery including retries.
	HandlerTimeout time.Duration

	// DeadLetterQueueSize is the max size of the DLQ. Zero disables it.
	DeadLetterQueueSize int

	Logger *logger.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig(bus shared.EventSubscriber) DispatcherConfig {
	return DispatcherConfig{
		Bus:                 bus,
		MaxAttempts:         3,
		InitialBackoff:      50 * time.Millisecond,
		MaxBackoff:          time.Second,
		HandlerTimeout:      10 * time.Second,
		DeadLetterQueueSize: 1000,
	}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if config.Bus == nil {
		return nil, errors.New("dispatcher: bus is required")
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = DefaultDispatcherConfig(nil).HandlerTimeout
	}
	log := config.Logger.With(logger.Component("dispatcher"))

	d := &Dispatcher{
		bus:     config.Bus,
		timeout: config.HandlerTimeout,
		log:     log,
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(config.InitialBackoff),
			retry.WithMaxDelay(config.MaxBackoff),
			retry.WithRetryIf(func(err error) bool { return !errors.Is(err, context.DeadlineExceeded) }),
		),
	}
	if config.DeadLetterQueueSize > 0 {
		d.deadLetters = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use adds middleware. It applies to handlers subscribed afterwards.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// LoggingMiddleware logs failed handler runs at Warn and the rest at Debug.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			fields := []logger.Field{
				logger.String("event_type", string(event.EventType())),
				logger.UserID(event.AggregateID()),
				logger.Latency(time.Since(start)),
			}
			if err != nil {
				log.Warn("event handler failed", append(fields, logger.Err(err))...)
			} else {
				log.Debug("event handled", fields...)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

// Subscribe implements shared.EventSubscriber.
func (d *Dispatcher) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	return d.bus.Subscribe(eventType, d.wrap(handler))
}

// SubscribeAll implements shared.EventSubscriber.
func (d *Dispatcher) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	return d.bus.SubscribeAll(d.wrap(handler))
}

func (d *Dispatcher) wrap(handler shared.EventHandler) shared.EventHandler {
	d.mu.RLock()
	wrapped := handler
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		wrapped = d.middlewares[i](wrapped)
	}
	d.mu.RUnlock()

	return func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		attempts := 0
		err := d.retrier.Do(ctx, func(context.Context) error {
			attempts++
			return wrapped(event)
		})
		if err == nil {
			return nil
		}

		d.log.Error("event delivery failed",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Int("attempts", attempts),
			logger.Err(err),
		)
		if d.deadLetters != nil {
			d.deadLetters.Add(DeadLetter{
				Event:    event,
				Err:      err.Error(),
				Attempts: attempts,
				FailedAt: time.Now(),
			})
		}
		return fmt.Errorf("deliver %s: %w", event.EventType(), err)
	}
}

// DeadLetters returns the dead-letter queue, or nil when it is disabled.
func (d *Dispatcher) DeadLetters() *DeadLetterQueue {
	return d.deadLetters
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetter is an event no handler run could process.
type DeadLetter struct {
	Event    shared.Event
	Err      string
	Attempts int
	FailedAt time.Time
}

// DeadLetterQueue keeps the most recent failed deliveries. Once full, the
// oldest entry is dropped.
type DeadLetterQueue struct {
	mu      sync.Mutex
	items   []DeadLetter
	maxSize int
	dropped int64
}

// NewDeadLetterQueue creates a new DLQ.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add parks a failed delivery.
func (q *DeadLetterQueue) Add(item DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.maxSize {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, item)
}

// Len returns the number of parked deliveries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many entries were evicted by newer failures.
func (q *DeadLetterQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain removes and returns every parked delivery, oldest first.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Replay redelivers drained events to handler and re-parks the ones that
// fail again. It returns how many succeeded.
func (q *DeadLetterQueue) Replay(handler shared.EventHandler) int {
	ok := 0
	for _, item := range q.Drain() {
		if err := handler(item.Event); err != nil {
			item.Attempts++
			item.Err = err.Error()
			item.FailedAt = time.Now()
			q.Add(item)
			continue
		}
		ok++
	}
	return ok
}
